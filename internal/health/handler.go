package health

import (
	"encoding/json"
	"net/http"
)

type snapshotResponse struct {
	OverallStatus string   `json:"overall_status"`
	Backends      []Status `json:"backends"`
}

// Handler returns the GET /health diagnostic endpoint: a JSON snapshot of
// every backend's health, with overall_status healthy iff at least one
// backend is currently healthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "unhealthy"
		if m.OverallHealthy() {
			status = "healthy"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshotResponse{
			OverallStatus: status,
			Backends:      m.Snapshot(),
		})
	})
}
