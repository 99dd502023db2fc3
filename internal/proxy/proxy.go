// Package proxy is the HTTP data-plane handler: it authenticates a request
// against the KeyStore, extracts the RPC method, selects a backend, and
// forwards the request upstream, translating failures into the appropriate
// status codes. Forwarding uses a plain *http.Client rather than
// httputil.ReverseProxy, so that auth, selection, and error translation
// happen in one explicit, ordered pipeline rather than inside
// ReverseProxy's Director/ErrorHandler hooks.
package proxy

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"solgate/internal/accesslog"
	"solgate/internal/keystore"
	"solgate/internal/methodtag"
	"solgate/internal/metrics"
	"solgate/internal/selector"
)

// backendSelector is the subset of *selector.Selector the handler needs,
// narrowed for testability.
type backendSelector interface {
	Select(method *string) (*selector.Backend, bool)
}

// hopByHopHeaders must never be forwarded upstream or back to the client.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Handler is the root http.Handler for the "/" and "/*path" proxy surface.
type Handler struct {
	KeyStore keystore.KeyStore
	Selector backendSelector
	Client   *http.Client
}

// New builds a Handler with an upstream client bounded by timeout.
func New(store keystore.KeyStore, sel backendSelector, timeout time.Duration) *Handler {
	return &Handler{
		KeyStore: store,
		Selector: sel,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	apiKey := r.URL.Query().Get("api-key")
	if apiKey == "" {
		h.respondText(w, r, http.StatusUnauthorized, "Missing api-key query parameter", "", "")
		return
	}

	outcome := h.KeyStore.ValidateKey(r.Context(), apiKey)
	switch outcome.Status {
	case keystore.StatusInvalid:
		h.respondText(w, r, http.StatusUnauthorized, "Invalid API key", "", "")
		return
	case keystore.StatusRateLimited:
		h.respondText(w, r, http.StatusTooManyRequests, "Rate limit exceeded", "", "")
		return
	case keystore.StatusStoreError:
		slog.Error("keystore error", "error", outcome.Err)
		h.respondText(w, r, http.StatusInternalServerError, "Internal server error", "", "")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondText(w, r, http.StatusBadGateway, "Failed to read request body", "", "")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var methodPtr *string
	method, ok := methodtag.Extract(body)
	if ok {
		methodPtr = &method
		accesslog.SetMethod(r.Context(), method)
	}

	backend, ok := h.Selector.Select(methodPtr)
	if !ok {
		h.respondText(w, r, http.StatusServiceUnavailable, "No healthy backends available", method, "")
		return
	}
	accesslog.SetBackendLabel(r.Context(), backend.Label)

	upstreamReq, err := h.buildUpstreamRequest(r, backend, body)
	if err != nil {
		h.respondText(w, r, http.StatusBadGateway, "Failed to construct upstream request", method, backend.Label)
		return
	}

	resp, err := h.Client.Do(upstreamReq)
	if err != nil {
		backend.IncErrors()
		h.respondText(w, r, http.StatusBadGateway, causeString(err), method, backend.Label)
		return
	}
	defer resp.Body.Close()

	backend.IncRequests()
	h.forwardResponse(w, resp)
	metrics.ObserveRequest(method, backend.Label, resp.StatusCode, time.Since(start).Seconds())
}

func (h *Handler) buildUpstreamRequest(r *http.Request, b *selector.Backend, body []byte) (*http.Request, error) {
	target := strings.TrimRight(b.URL, "/") + r.URL.Path

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for k, vv := range r.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	req.Header.Del("Host")

	return req, nil
}

func (h *Handler) forwardResponse(w http.ResponseWriter, resp *http.Response) {
	for k, vv := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// respondText writes a plain-text error body and still emits metrics and
// access-log fields for the outcome, even when no backend was selected.
func (h *Handler) respondText(w http.ResponseWriter, r *http.Request, status int, body, method, backendLabel string) {
	if method != "" {
		accesslog.SetMethod(r.Context(), method)
	}
	if backendLabel != "" {
		accesslog.SetBackendLabel(r.Context(), backendLabel)
	}
	http.Error(w, body, status)
	metrics.ObserveRequest(method, backendLabel, status, 0)
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return strings.HasPrefix(strings.ToLower(header), "proxy-")
}

func causeString(err error) string {
	var ctxErr error
	if ue, ok := err.(interface{ Unwrap() error }); ok {
		ctxErr = ue.Unwrap()
	}
	if ctxErr == context.DeadlineExceeded {
		return "upstream request timed out"
	}
	return "upstream request failed: " + err.Error()
}
