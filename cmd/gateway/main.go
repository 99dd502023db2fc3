// Command gateway is the JSON-RPC reverse proxy gateway entry point.
//
// Usage:
//
//	gateway [-config path/to/config.toml]
//
// The gateway supports zero-downtime hot-reload: edit config.toml while the
// process is running and the backend pool, method routes, and health
// supervisor pick up the change immediately — no restart needed. Shutdown is
// graceful: send SIGINT or SIGTERM and in-flight requests are given up to 10
// seconds to complete before both listeners close.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"solgate/internal/accesslog"
	"solgate/internal/config"
	"solgate/internal/metrics"
	"solgate/internal/proxy"
	"solgate/internal/state"
	"solgate/internal/wsproxy"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config.toml")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	app, err := state.Build(cfg)
	if err != nil {
		slog.Error("failed to initialise gateway", "error", err)
		os.Exit(1)
	}

	app.HealthMonitor.Start()

	if v != nil {
		config.Watch(v, func(newCfg config.Config) {
			if err := app.Reload(newCfg); err != nil {
				slog.Error("hot-reload: invalid backends", "error", err)
				return
			}
			slog.Info("hot-reload applied",
				"backends", len(newCfg.Backends),
				"method_routes", len(newCfg.MethodRoutes),
			)
		})
	}

	httpHandler := proxy.New(app.KeyStore, app.Selector, cfg.Proxy.ParsedTimeout())

	mux := http.NewServeMux()
	mux.Handle("/health", app.HealthMonitor.Handler())
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", accesslog.Middleware(httpHandler))

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	wsHandler := wsproxy.New(app.KeyStore, app.Selector, 10*time.Second,
		cfg.WebSocket.ConnectRatePerSec, cfg.WebSocket.ParsedBurst())
	wsHandler.Dialer = app.WSDialer
	wsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port+1),
		Handler:      wsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived.
		IdleTimeout:  0,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		slog.Info("gateway listening", "addr", httpSrv.Addr, "backends", len(cfg.Backends))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		defer wg.Done()
		slog.Info("websocket gateway listening", "addr", wsSrv.Addr)
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("websocket server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gateway")
	app.HealthMonitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("forced http shutdown", "error", err)
	}
	if err := wsSrv.Shutdown(ctx); err != nil {
		slog.Error("forced websocket shutdown", "error", err)
	}
	wg.Wait()

	slog.Info("gateway stopped")
}
