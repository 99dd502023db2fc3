package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"solgate/internal/metrics"
)

func TestObserveRequest_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.ObserveRequest("getSlot", "a", 200, 0.01)
		metrics.ObserveRequest("", "", 500, 0.2)
	})
}

func TestHandler_ServesExposition(t *testing.T) {
	metrics.ObserveRequest("getSlot", "a", 200, 0.01)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	metrics.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "rpc_requests_total")
}
