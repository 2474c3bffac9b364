package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/securebridge/securebridge/internal/ami"
	"github.com/securebridge/securebridge/internal/api"
	"github.com/securebridge/securebridge/internal/config"
	"github.com/securebridge/securebridge/internal/database"
	"github.com/securebridge/securebridge/internal/metrics"
	"github.com/securebridge/securebridge/internal/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting securebridge",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"postgres", cfg.UsePostgres(),
	)

	// Open database and run migrations.
	db, err := database.Open(cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := database.NewStore(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Manager credentials: environment, overridden by the stored row.
	managerCfg, err := orchestrator.ResolveManagerConfig(appCtx, store, cfg)
	if err != nil {
		slog.Error("failed to resolve manager config", "error", err)
		os.Exit(1)
	}

	// The manager client connects lazily on the first action, so a PBX that
	// is down at boot does not keep the API from serving.
	client := ami.NewClient(managerCfg)
	defer client.Close()

	disp := orchestrator.NewDispatcher(store, client.Events())
	go disp.Run(appCtx)

	orc := orchestrator.New(store, client, disp, cfg.TrunkName)

	// HTTP server using the api package.
	handler := api.NewServer(db, store, orc, cfg)
	defer handler.Close()

	// Prometheus scrape endpoint backed by the store and manager session.
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(store.Orders(), store.Calls(), client, time.Now()))
	handler.MountMetrics(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout. In-flight executes finish before the
	// listener closes; the dispatcher stops once appCancel runs.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("securebridge stopped")
}
