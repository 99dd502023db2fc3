// Package accesslog provides the per-request structured log line required
// of the proxy data plane: client IP, path, extracted RPC method, status,
// duration, and the backend that served the request.
package accesslog

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type ctxKey struct{}

// fields is a mutable holder the middleware installs into the request
// context before calling the handler. The handler fills in what it learns
// along the way (method, backend label); the middleware reads it back after
// the handler returns, since both share the same pointer.
type fields struct {
	method       string
	backendLabel string
}

var fieldsKey = ctxKey{}

// SetMethod records the RPC method extracted for this request, if any.
func SetMethod(ctx context.Context, method string) {
	if f, ok := ctx.Value(fieldsKey).(*fields); ok {
		f.method = method
	}
}

// SetBackendLabel records which backend served this request, if any.
func SetBackendLabel(ctx context.Context, label string) {
	if f, ok := ctx.Value(fieldsKey).(*fields); ok {
		f.backendLabel = label
	}
}

// responseRecorder wraps http.ResponseWriter to capture the status code
// written by the downstream handler.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

// Middleware emits one structured log line per request after the response
// completes.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		f := &fields{}
		r = r.WithContext(context.WithValue(r.Context(), fieldsKey, f))

		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rr, r)

		slog.Info("request",
			"client_ip", clientIP(r),
			"path", r.URL.Path,
			"rpc_method", f.method,
			"status", rr.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"backend_label", f.backendLabel,
		)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
