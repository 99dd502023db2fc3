// Package selector chooses a healthy backend for each incoming request:
// deterministically via a configured method pin when the pinned backend is
// healthy, otherwise by weighted random draw over the healthy set.
package selector

import (
	"fmt"
	"sync/atomic"
)

// Backend is the runtime representation of one configured upstream.
// Label, URL, WSURL, and Weight are immutable after construction. Healthy is
// a lock-free atomic flag: read on every request, written only by the
// health supervisor.
type Backend struct {
	Label  string
	URL    string
	WSURL  string
	Weight int

	healthy       atomic.Bool
	totalRequests atomic.Int64
	totalErrors   atomic.Int64
}

// NewBackend returns a Backend marked healthy, matching the supervisor's
// documented initial state (healthy, failures=0, successes=0).
func NewBackend(label, url, wsURL string, weight int) (*Backend, error) {
	if label == "" {
		return nil, fmt.Errorf("selector: backend label must not be empty")
	}
	if weight <= 0 {
		return nil, fmt.Errorf("selector: backend %q must have weight > 0", label)
	}
	b := &Backend{Label: label, URL: url, WSURL: wsURL, Weight: weight}
	b.healthy.Store(true)
	return b, nil
}

func (b *Backend) IsHealthy() bool     { return b.healthy.Load() }
func (b *Backend) SetHealthy(v bool)   { b.healthy.Store(v) }
func (b *Backend) HasWS() bool         { return b.WSURL != "" }
func (b *Backend) IncRequests()        { b.totalRequests.Add(1) }
func (b *Backend) TotalRequests() int64 { return b.totalRequests.Load() }
func (b *Backend) IncErrors()          { b.totalErrors.Add(1) }
func (b *Backend) TotalErrors() int64  { return b.totalErrors.Load() }

// healthySubset returns, in configured order, the backends for which keep
// reports true — e.g. IsHealthy, or IsHealthy&&HasWS for the WS path.
func healthySubset(all []*Backend, keep func(*Backend) bool) []*Backend {
	out := make([]*Backend, 0, len(all))
	for _, b := range all {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}
