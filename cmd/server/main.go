// Command sonarr-sync is the media server sync service process.
// It loads configuration, initialises node identity, and starts the server.
//
// Usage:
//
//	sonarr-sync [--config path/to/config.yaml]
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
	"syscall"
	"time"

	"github.com/CorentinB/Sonarr/internal/config"
	"github.com/CorentinB/Sonarr/internal/mediaserver"
	"github.com/CorentinB/Sonarr/internal/metrics"
	"github.com/CorentinB/Sonarr/internal/node"
	"github.com/CorentinB/Sonarr/internal/registry"
	"github.com/CorentinB/Sonarr/internal/scheduler"
	transphttp "github.com/CorentinB/Sonarr/internal/transport/http"
	"github.com/CorentinB/Sonarr/internal/updater"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sonarr-sync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// ── 3. Initialise node identity ──────────────────────────────────────────
	n, err := node.New(cfg.Server.DataDir, "")
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}

	slog.Info("sonarr-sync starting",
		"node_id", n.ID(),
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"data_dir", n.DataDir(),
	)

	// ── 4. Open endpoint registry and seed configured endpoints ─────────────
	reg, err := registry.Open(cfg.Server.DataDir)
	if err != nil {
		return fmt.Errorf("open endpoint registry: %w", err)
	}
	for _, ec := range cfg.Endpoints {
		if err := reg.Ensure(ec.Endpoint()); err != nil {
			return fmt.Errorf("seed endpoint %q: %w", ec.Name, err)
		}
	}

	// ── 5. Initialise metrics registry ───────────────────────────────────────
	metricsReg := &metrics.Registry{}

	// ── 6. Build the media server client and the coalescing updater ─────────
	media := mediaserver.New(mediaserver.WithTimeout(cfg.SinkTimeout()))
	upd := updater.New(media,
		updater.WithMetrics(metricsReg),
		updater.WithTTL(cfg.PendingTTL()),
	)

	// ── 7. Start the periodic drain scheduler ────────────────────────────────
	sched := scheduler.New(cfg.DrainInterval(), reg, upd)
	sched.Start(context.Background())

	// ── 8. Start HTTP / WebSocket transport ──────────────────────────────────
	srv := transphttp.New(reg, upd, media, cfg, string(n.ID()), metricsReg)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Serve in a background goroutine so we can handle signals.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("sonarr-sync ready", "node_id", n.ID(), "addr", addr)
		if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	// ── 9. Start dedicated Prometheus metrics listener ───────────────────────
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			slog.Info("metrics server listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, metricsReg.Handler()); err != nil {
				slog.Warn("metrics server error", "err", err)
			}
		}()
	}

	// ── 10. Graceful shutdown on SIGINT / SIGTERM ─────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Give in-flight requests 5 seconds to complete.
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched.Stop()
	upd.Close()

	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := reg.Close(); err != nil {
		slog.Warn("registry close error", "err", err)
	}

	slog.Info("sonarr-sync stopped")
	return nil
}
