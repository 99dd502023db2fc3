package config_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solgate/internal/config"
)

func TestDefault_ReturnsUsableConfig(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 8080, cfg.Port)
	assert.NotEmpty(t, cfg.RedisURL)
	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "primary", cfg.Backends[0].Label)
	assert.Equal(t, 1, cfg.Backends[0].Weight)
}

func TestLoad_ValidTOML(t *testing.T) {
	toml := `
port = 9090
redis_url = "redis://localhost:6379/0"

[proxy]
timeout_secs = 5

[health_check]
interval_secs = 5
timeout_secs = 1
method = "getHealth"
consecutive_failures_threshold = 3
consecutive_successes_threshold = 2

[[backends]]
label = "a"
url = "http://backend-a:8000"
weight = 2

[[backends]]
label = "b"
url = "http://backend-b:8001"
ws_url = "ws://backend-b:8001"
weight = 1

[method_routes]
getSlot = "a"
`
	f := writeTempTOML(t, toml)
	cfg, _, err := config.Load(f)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "a", cfg.Backends[0].Label)
	assert.Equal(t, 2, cfg.Backends[0].Weight)
	assert.Equal(t, "ws://backend-b:8001", cfg.Backends[1].WSURL)
	assert.Equal(t, "a", cfg.MethodRoutes["getSlot"])
	assert.Equal(t, 5*time.Second, cfg.Proxy.ParsedTimeout())
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	_, _, err := config.Load("/nonexistent/path/config.toml")
	assert.Error(t, err)
}

func TestLoad_EmptyBackends_ReturnsError(t *testing.T) {
	toml := `
port = 8080
redis_url = "redis://localhost:6379/0"
backends = []
`
	f := writeTempTOML(t, toml)
	_, _, err := config.Load(f)
	assert.ErrorContains(t, err, "at least one backend")
}

func TestLoad_EmptyRedisURL_ReturnsError(t *testing.T) {
	toml := `
port = 8080
redis_url = ""

[[backends]]
label = "a"
url = "http://backend:8080"
weight = 1
`
	f := writeTempTOML(t, toml)
	_, _, err := config.Load(f)
	assert.ErrorContains(t, err, "redis_url")
}

func TestLoad_ZeroWeight_ReturnsError(t *testing.T) {
	toml := `
redis_url = "redis://localhost:6379/0"

[[backends]]
label = "a"
url = "http://backend:8080"
weight = 0
`
	f := writeTempTOML(t, toml)
	_, _, err := config.Load(f)
	assert.ErrorContains(t, err, "weight")
}

func TestLoad_DuplicateLabels_ReturnsError(t *testing.T) {
	toml := `
redis_url = "redis://localhost:6379/0"

[[backends]]
label = "a"
url = "http://backend1:8080"
weight = 1

[[backends]]
label = "a"
url = "http://backend2:8080"
weight = 1
`
	f := writeTempTOML(t, toml)
	_, _, err := config.Load(f)
	assert.ErrorContains(t, err, "duplicate backend label")
}

func TestLoad_MethodRouteUnknownLabel_ReturnsError(t *testing.T) {
	toml := `
redis_url = "redis://localhost:6379/0"

[[backends]]
label = "a"
url = "http://backend:8080"
weight = 1

[method_routes]
getSlot = "nonexistent"
`
	f := writeTempTOML(t, toml)
	_, _, err := config.Load(f)
	assert.ErrorContains(t, err, "unknown backend label")
}

func TestLoad_NonPositiveProxyTimeout_ReturnsError(t *testing.T) {
	for _, timeout := range []int{-1, 0} {
		toml := fmt.Sprintf(`
redis_url = "redis://localhost:6379/0"

[proxy]
timeout_secs = %d

[[backends]]
label = "a"
url = "http://backend:8080"
weight = 1
`, timeout)
		f := writeTempTOML(t, toml)
		_, _, err := config.Load(f)
		assert.ErrorContainsf(t, err, "timeout_secs", "timeout_secs = %d must be rejected", timeout)
	}
}

func TestLoad_REDIS_URL_EnvOverride(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://override:6379/1")
	toml := `
redis_url = "redis://localhost:6379/0"

[[backends]]
label = "a"
url = "http://backend:8080"
weight = 1
`
	f := writeTempTOML(t, toml)
	cfg, _, err := config.Load(f)
	require.NoError(t, err)
	assert.Equal(t, "redis://override:6379/1", cfg.RedisURL)
}

func TestHealthCheckCfg_Defaults(t *testing.T) {
	var h config.HealthCheckCfg
	assert.Equal(t, 10*time.Second, h.ParsedInterval())
	assert.Equal(t, 2*time.Second, h.ParsedTimeout())
	assert.Equal(t, 3, h.FailThreshold())
	assert.Equal(t, 2, h.SuccessThreshold())
	assert.Equal(t, "getHealth", h.ProbeMethod())
}

func TestWebSocketCfg_ParsedBurstDefault(t *testing.T) {
	var w config.WebSocketCfg
	assert.Equal(t, 1, w.ParsedBurst())

	w.ConnectBurst = 5
	assert.Equal(t, 5, w.ParsedBurst())
}

func TestLoad_WebSocketConnectRateSection(t *testing.T) {
	toml := `
redis_url = "redis://localhost:6379/0"

[[backends]]
label = "a"
url = "http://backend:8080"
weight = 1

[websocket]
connect_rate_per_sec = 5.0
connect_burst = 10
`
	f := writeTempTOML(t, toml)
	cfg, _, err := config.Load(f)
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.WebSocket.ConnectRatePerSec)
	assert.Equal(t, 10, cfg.WebSocket.ParsedBurst())
}

// ── helpers ──────────────────────────────────────────────────────────────────

func writeTempTOML(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.toml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
