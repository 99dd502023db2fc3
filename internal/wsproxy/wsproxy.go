// Package wsproxy is the WebSocket data-plane handler: it accepts a client
// upgrade, authenticates and charges rate limit once at connect time exactly
// as the HTTP path does, selects a ws-capable backend, dials it, and pumps
// frames bidirectionally until either side closes.
package wsproxy

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"solgate/internal/keystore"
	"solgate/internal/selector"
)

// backendSelector mirrors the narrowed selector surface the HTTP handler
// uses, restricted to the WS-capable subset via SelectWS.
type backendSelector interface {
	SelectWS(method *string) (*selector.Backend, bool)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler is the root http.Handler for the WebSocket listener.
type Handler struct {
	KeyStore keystore.KeyStore
	Selector backendSelector
	Dialer   *websocket.Dialer

	// ipLimiter, when non-nil, gates new connections per client IP.
	// Per-frame charging is never performed, only per-connect-attempt.
	ipLimiter *ipRateLimiter
}

// New builds a Handler. connRatePerSec <= 0 disables the connection-rate guard.
func New(store keystore.KeyStore, sel backendSelector, dialTimeout time.Duration, connRatePerSec float64, connBurst int) *Handler {
	h := &Handler{
		KeyStore: store,
		Selector: sel,
		Dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}
	if connRatePerSec > 0 {
		h.ipLimiter = newIPRateLimiter(connRatePerSec, connBurst)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ipLimiter != nil && !h.ipLimiter.allow(clientIP(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	apiKey := r.URL.Query().Get("api-key")
	if apiKey == "" {
		http.Error(w, "Missing api-key query parameter", http.StatusUnauthorized)
		return
	}

	outcome := h.KeyStore.ValidateKey(r.Context(), apiKey)
	switch outcome.Status {
	case keystore.StatusInvalid:
		http.Error(w, "Invalid API key", http.StatusUnauthorized)
		return
	case keystore.StatusRateLimited:
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	case keystore.StatusStoreError:
		slog.Error("keystore error", "error", outcome.Err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// No method is ever known before upgrade: the first frame is not
	// pre-read, so SelectWS always receives nil.
	backend, ok := h.Selector.SelectWS(nil)
	if !ok {
		http.Error(w, "No healthy backends available", http.StatusServiceUnavailable)
		return
	}

	upstreamConn, _, err := h.Dialer.Dial(backend.WSURL, nil)
	if err != nil {
		slog.Error("wsproxy: upstream dial failed", "backend", backend.Label, "error", err)
		http.Error(w, "Bad gateway", http.StatusBadGateway)
		return
	}
	defer upstreamConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("wsproxy: upgrade failed", "error", err)
		return
	}
	defer clientConn.Close()

	pump(clientConn, upstreamConn, backend.Label)
}

// pump relays frames in both directions until either side closes or errors,
// then initiates a graceful close on the other.
func pump(client, upstream *websocket.Conn, backendLabel string) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		relay(upstream, client, backendLabel, "client->upstream")
	}()
	go func() {
		defer wg.Done()
		relay(client, upstream, backendLabel, "upstream->client")
	}()

	wg.Wait()
}

func relay(dst, src *websocket.Conn, backendLabel, direction string) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			_ = dst.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			slog.Debug("wsproxy: relay write failed", "backend", backendLabel, "direction", direction, "error", err)
			return
		}
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
