// Package metrics registers and exposes the Prometheus counters and
// histograms the proxy data plane emits for every request outcome.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_requests_total",
		Help: "Total proxied JSON-RPC requests by method, backend, and status class.",
	}, []string{"method", "backend", "status_class"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_request_duration_seconds",
		Help:    "Latency of proxied JSON-RPC requests by method and backend.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "backend"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}

// statusClass buckets an HTTP status into the label Prometheus stores
// ("2xx", "4xx", "5xx", ...).
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// ObserveRequest records one completed request's outcome. method and
// backend may be empty when extraction or selection did not happen (e.g.
// an auth failure before selection).
func ObserveRequest(method, backend string, status int, durationSeconds float64) {
	requestsTotal.WithLabelValues(method, backend, statusClass(status)).Inc()
	requestDuration.WithLabelValues(method, backend).Observe(durationSeconds)
}

// Handler returns the Prometheus text-exposition HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
