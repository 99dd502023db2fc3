// Package config handles loading and hot-reloading of the gateway TOML
// configuration via Viper. All struct fields map 1-to-1 with config.toml.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BackendCfg is the TOML representation of a single upstream JSON-RPC server.
type BackendCfg struct {
	Label  string `mapstructure:"label"`
	URL    string `mapstructure:"url"`
	WSURL  string `mapstructure:"ws_url"`
	Weight int    `mapstructure:"weight"`
}

// ProxyCfg controls the data-plane HTTP client used to forward requests.
type ProxyCfg struct {
	TimeoutSecs int `mapstructure:"timeout_secs"`
}

// ParsedTimeout returns the proxy timeout as a time.Duration, defaulting to 10s.
func (p ProxyCfg) ParsedTimeout() time.Duration {
	if p.TimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.TimeoutSecs) * time.Second
}

// HealthCheckCfg controls the active health-probe supervisor.
type HealthCheckCfg struct {
	IntervalSecs             int    `mapstructure:"interval_secs"`
	TimeoutSecs              int    `mapstructure:"timeout_secs"`
	Method                   string `mapstructure:"method"`
	ConsecutiveFailureThresh int    `mapstructure:"consecutive_failures_threshold"`
	ConsecutiveSuccessThresh int    `mapstructure:"consecutive_successes_threshold"`
}

// ParsedInterval returns the probe interval, defaulting to 10s.
func (h HealthCheckCfg) ParsedInterval() time.Duration {
	if h.IntervalSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(h.IntervalSecs) * time.Second
}

// ParsedTimeout returns the per-probe timeout, defaulting to 2s.
func (h HealthCheckCfg) ParsedTimeout() time.Duration {
	if h.TimeoutSecs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(h.TimeoutSecs) * time.Second
}

// FailThreshold returns the consecutive-failure threshold, defaulting to 3.
func (h HealthCheckCfg) FailThreshold() int {
	if h.ConsecutiveFailureThresh <= 0 {
		return 3
	}
	return h.ConsecutiveFailureThresh
}

// SuccessThreshold returns the consecutive-success threshold, defaulting to 2.
func (h HealthCheckCfg) SuccessThreshold() int {
	if h.ConsecutiveSuccessThresh <= 0 {
		return 2
	}
	return h.ConsecutiveSuccessThresh
}

// ProbeMethod returns the JSON-RPC method used for probes, defaulting to "getHealth".
func (h HealthCheckCfg) ProbeMethod() string {
	if h.Method == "" {
		return "getHealth"
	}
	return h.Method
}

// WebSocketCfg controls the WebSocket listener's per-IP connect-rate guard.
type WebSocketCfg struct {
	ConnectRatePerSec float64 `mapstructure:"connect_rate_per_sec"`
	ConnectBurst      int     `mapstructure:"connect_burst"`
}

// ParsedBurst returns the connect-burst size, defaulting to 1 when unset but
// a positive rate is configured.
func (w WebSocketCfg) ParsedBurst() int {
	if w.ConnectBurst <= 0 {
		return 1
	}
	return w.ConnectBurst
}

// Config is the top-level gateway configuration.
type Config struct {
	Port         int               `mapstructure:"port"`
	RedisURL     string            `mapstructure:"redis_url"`
	Backends     []BackendCfg      `mapstructure:"backends"`
	Proxy        ProxyCfg          `mapstructure:"proxy"`
	HealthCheck  HealthCheckCfg    `mapstructure:"health_check"`
	MethodRoutes map[string]string `mapstructure:"method_routes"`
	WebSocket    WebSocketCfg      `mapstructure:"websocket"`
}

// Default returns a sensible single-backend config for local development.
func Default() Config {
	return Config{
		Port:     8080,
		RedisURL: "redis://127.0.0.1:6379/0",
		Backends: []BackendCfg{{Label: "primary", URL: "http://127.0.0.1:8081", Weight: 1}},
		Proxy:    ProxyCfg{TimeoutSecs: 10},
		HealthCheck: HealthCheckCfg{
			IntervalSecs:             10,
			TimeoutSecs:              2,
			Method:                   "getHealth",
			ConsecutiveFailureThresh: 3,
			ConsecutiveSuccessThresh: 2,
		},
	}
}

// Load reads and parses the TOML file at path using Viper.
// It returns the parsed Config and the Viper instance (needed for Watch).
func Load(path string) (Config, *viper.Viper, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Watch registers an onChange callback that fires whenever the config file is
// saved. The callback receives a freshly parsed Config. Invalid reloads are
// logged and silently skipped (the previous config stays active).
func Watch(v *viper.Viper, onChange func(Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			slog.Error("config hot-reload failed", "error", err)
			return
		}
		slog.Info("config hot-reloaded",
			"backends", len(cfg.Backends),
			"method_routes", len(cfg.MethodRoutes),
		)
		onChange(cfg)
	})
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("port", 8080)
	v.SetDefault("proxy.timeout_secs", 10)
	v.SetDefault("health_check.interval_secs", 10)
	v.SetDefault("health_check.timeout_secs", 2)
	v.SetDefault("health_check.method", "getHealth")
	v.SetDefault("health_check.consecutive_failures_threshold", 3)
	v.SetDefault("health_check.consecutive_successes_threshold", 2)

	return v
}

// unmarshal decodes and validates the config: every rule rejects the
// expected malformed input and names the offending field.
func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing: %w", err)
	}

	// REDIS_URL overrides the config value, for parity with how a
	// separate key-provisioning tool would expect to point at Redis.
	if envURL := os.Getenv("REDIS_URL"); envURL != "" {
		cfg.RedisURL = envURL
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("config: redis_url must not be empty")
	}
	if len(cfg.Backends) == 0 {
		return Config{}, fmt.Errorf("config: at least one backend must be defined")
	}
	if cfg.Proxy.TimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("config: proxy.timeout_secs must be positive")
	}

	seen := make(map[string]struct{}, len(cfg.Backends))
	for i, b := range cfg.Backends {
		if b.Label == "" {
			return Config{}, fmt.Errorf("config: backends[%d] has empty label", i)
		}
		if _, dup := seen[b.Label]; dup {
			return Config{}, fmt.Errorf("config: duplicate backend label %q", b.Label)
		}
		seen[b.Label] = struct{}{}
		if b.URL == "" {
			return Config{}, fmt.Errorf("config: backends[%d] (%s) has empty url", i, b.Label)
		}
		if b.Weight <= 0 {
			return Config{}, fmt.Errorf("config: backends[%d] (%s) must have weight > 0", i, b.Label)
		}
	}

	for method, label := range cfg.MethodRoutes {
		if _, ok := seen[label]; !ok {
			return Config{}, fmt.Errorf("config: method_routes[%q] references unknown backend label %q", method, label)
		}
	}

	return cfg, nil
}
