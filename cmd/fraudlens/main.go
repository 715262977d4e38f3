// FraudLens - Fraud analysis insight engine for transaction dashboards.
// Copyright (c) 2025 fraudlens.io
// Licensed under the Apache License 2.0

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

	"github.com/fraudlens/fraudlens/internal/api"
	"github.com/fraudlens/fraudlens/internal/bus"
	"github.com/fraudlens/fraudlens/internal/cache"
	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/filter"
	"github.com/fraudlens/fraudlens/internal/plots"
	"github.com/fraudlens/fraudlens/internal/recompute"
	"github.com/fraudlens/fraudlens/internal/repository"
	"github.com/fraudlens/fraudlens/internal/session"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("FRAUDLENS_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting fraudlens",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("FRAUDLENS_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Filter Engine
	engine, err := filter.NewEngine()
	if err != nil {
		slog.Error("failed to initialize filter engine", "error", err)
		os.Exit(1)
	}
	slog.Info("filter engine initialized")

	// Initialize Session Store
	store := session.NewStore(busImpl, repo, engine)
	slog.Info("session store initialized")

	// Initialize plot Regenerator: external service when configured,
	// local generator otherwise
	var regen domain.Regenerator
	if url := os.Getenv("FRAUDLENS_PLOT_SERVICE_URL"); url != "" {
		regen = plots.NewHTTPRegenerator(url, 30*time.Second)
		slog.Info("plot regenerator initialized", "mode", "http", "url", url)
	} else {
		regen = plots.NewLocalRegenerator()
		slog.Info("plot regenerator initialized", "mode", "local")
	}

	// Initialize Recompute Controller
	controller := recompute.NewController(busImpl, cacheImpl, regen, store, recompute.Config{
		DebounceWindow: time.Duration(cfg.Recompute.DebounceWindowMs) * time.Millisecond,
		PlotCacheTTL:   time.Duration(cfg.Recompute.PlotCacheTTLSecs) * time.Second,
	})
	slog.Info("recompute controller initialized",
		"debounce_ms", cfg.Recompute.DebounceWindowMs,
	)

	// Initialize Server
	srv := api.NewServer(cfg.Server, store, controller, repo, cacheImpl, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudlens is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop recompute controller first so pending timers never fire
	// against torn-down session state
	if err := controller.Stop(); err != nil {
		slog.Error("failed to stop recompute controller", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudlens shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              🔍 FRAUDLENS                 ║")
	fmt.Println("  ║      Fraud Analysis Insight Engine        ║")
	fmt.Println("  ║       See the pattern behind it.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /runs                    - Load an analysis run")
	fmt.Println("    GET    /runs                    - List stored runs")
	fmt.Println("    GET    /runs/{id}               - Get a run with transactions")
	fmt.Println("    POST   /filters                 - Update the filter set")
	fmt.Println("    DELETE /filters                 - Reset the filter set")
	fmt.Println("    GET    /transactions            - Filtered transactions")
	fmt.Println("    GET    /statistics              - Filtered statistics")
	fmt.Println("    GET    /breakdown               - Fraud-reason breakdown")
	fmt.Println("    GET    /recommendations/{label} - Best-match recommendation")
	fmt.Println("    GET    /recompute/state         - Recompute controller state")
	fmt.Println("    GET    /plots                   - Latest regenerated plots")
	fmt.Println("    GET    /health                  - Health check")
	fmt.Println()
}
