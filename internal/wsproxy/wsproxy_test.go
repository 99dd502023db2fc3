package wsproxy_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solgate/internal/keystore"
	"solgate/internal/selector"
	"solgate/internal/wsproxy"
)

func startUpstreamEcho(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWSProxy_EchoRoundTrip(t *testing.T) {
	upstream := startUpstreamEcho(t)
	defer upstream.Close()

	b, err := selector.NewBackend("a", "http://unused", wsURL(upstream.URL), 1)
	require.NoError(t, err)
	sel := selector.New([]*selector.Backend{b}, nil)

	store := keystore.NewMemoryStore()
	store.Add("valid-key", keystore.KeyInfo{Owner: "alice", Active: true})

	h := wsproxy.New(store, sel, time.Second, 0, 0)
	gateway := httptest.NewServer(h)
	defer gateway.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(gateway.URL)+"/?api-key=valid-key", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "hello", string(msg))
}

func TestWSProxy_MissingAPIKey_Returns401(t *testing.T) {
	b, err := selector.NewBackend("a", "http://unused", "ws://unused", 1)
	require.NoError(t, err)
	sel := selector.New([]*selector.Backend{b}, nil)
	store := keystore.NewMemoryStore()

	h := wsproxy.New(store, sel, time.Second, 0, 0)
	gateway := httptest.NewServer(h)
	defer gateway.Close()

	resp, err := http.Get(gateway.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSProxy_ConnectRateGuard_RejectsBurstExceeded(t *testing.T) {
	upstream := startUpstreamEcho(t)
	defer upstream.Close()

	b, err := selector.NewBackend("a", "http://unused", wsURL(upstream.URL), 1)
	require.NoError(t, err)
	sel := selector.New([]*selector.Backend{b}, nil)

	store := keystore.NewMemoryStore()
	store.Add("valid-key", keystore.KeyInfo{Owner: "alice", Active: true})

	// A negligible rate with burst=1 means only the first connect attempt
	// in this test's lifetime is allowed through.
	h := wsproxy.New(store, sel, time.Second, 0.001, 1)
	gateway := httptest.NewServer(h)
	defer gateway.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(gateway.URL)+"/?api-key=valid-key", nil)
	require.NoError(t, err)
	conn.Close()

	resp, err := http.Get(gateway.URL + "/?api-key=valid-key")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWSProxy_NoWSCapableBackend_Returns503(t *testing.T) {
	b, err := selector.NewBackend("a", "http://unused", "", 1) // no ws_url
	require.NoError(t, err)
	sel := selector.New([]*selector.Backend{b}, nil)
	store := keystore.NewMemoryStore()
	store.Add("valid-key", keystore.KeyInfo{Owner: "alice", Active: true})

	h := wsproxy.New(store, sel, time.Second, 0, 0)
	gateway := httptest.NewServer(h)
	defer gateway.Close()

	resp, err := http.Get(gateway.URL + "/?api-key=valid-key")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
