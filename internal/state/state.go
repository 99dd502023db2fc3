// Package state holds the process-wide handle built once in main and
// threaded to every handler: config, KeyStore, selector, health supervisor,
// and the WebSocket dialer the WS proxy uses. The HTTP proxy and the health
// supervisor each build their own *http.Client.
package state

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"solgate/internal/config"
	"solgate/internal/health"
	"solgate/internal/keystore"
	"solgate/internal/selector"
)

// AppState is built once at startup and never torn down except on shutdown.
type AppState struct {
	Config        config.Config
	KeyStore      keystore.KeyStore
	Selector      *selector.Selector
	HealthMonitor *health.Monitor
	WSDialer      *websocket.Dialer
}

// Build constructs an AppState from a validated Config.
func Build(cfg config.Config) (*AppState, error) {
	backends, err := buildBackends(cfg)
	if err != nil {
		return nil, err
	}

	store, err := keystore.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("state: building keystore: %w", err)
	}

	sel := selector.New(backends, cfg.MethodRoutes)

	monitor := health.New(backends, health.Config{
		Interval:         cfg.HealthCheck.ParsedInterval(),
		Timeout:          cfg.HealthCheck.ParsedTimeout(),
		ProbeMethod:      cfg.HealthCheck.ProbeMethod(),
		FailThreshold:    cfg.HealthCheck.FailThreshold(),
		SuccessThreshold: cfg.HealthCheck.SuccessThreshold(),
	})

	return &AppState{
		Config:        cfg,
		KeyStore:      store,
		Selector:      sel,
		HealthMonitor: monitor,
		WSDialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Reload rebuilds the backend list and swaps it into the selector and health
// monitor atomically, for config hot-reload.
func (s *AppState) Reload(cfg config.Config) error {
	backends, err := buildBackends(cfg)
	if err != nil {
		return err
	}
	s.Selector.Update(backends, cfg.MethodRoutes)
	s.HealthMonitor.UpdateBackends(backends)
	s.Config = cfg
	return nil
}

func buildBackends(cfg config.Config) ([]*selector.Backend, error) {
	backends := make([]*selector.Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backend, err := selector.NewBackend(b.Label, b.URL, b.WSURL, b.Weight)
		if err != nil {
			return nil, err
		}
		backends = append(backends, backend)
	}
	return backends, nil
}
