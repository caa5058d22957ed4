// ethscore - Ethereum transaction fraud scoring service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/ethscore/internal/api"
	"github.com/opensource-finance/ethscore/internal/artifact"
	"github.com/opensource-finance/ethscore/internal/bus"
	"github.com/opensource-finance/ethscore/internal/config"
	"github.com/opensource-finance/ethscore/internal/domain"
	"github.com/opensource-finance/ethscore/internal/events"
	"github.com/opensource-finance/ethscore/internal/logging"
	"github.com/opensource-finance/ethscore/internal/metrics"
	"github.com/opensource-finance/ethscore/internal/repository"
	"github.com/opensource-finance/ethscore/internal/scoring"
	"github.com/opensource-finance/ethscore/internal/telemetry"
	"github.com/opensource-finance/ethscore/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ethscore exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("starting ethscore",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"model_source", cfg.Model.Source,
		"repository", cfg.Repository.Driver,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	var checks []api.HealthCheck

	// The registry is only opened when it backs the model.
	var repo *repository.SQLRepository
	if cfg.Model.Source == domain.SourceSQL {
		repo, err = repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("failed to initialize repository: %w", err)
		}
		defer repo.Close()
		checks = append(checks, api.HealthCheck{Name: "repository", Ping: repo.Ping})
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	}

	var registry domain.ArtifactRepository
	if repo != nil {
		registry = repo
	}

	store, err := artifact.New(cfg, registry)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	// A missing or corrupt model is fatal; the service never starts
	// without one.
	m, err := artifact.LoadModel(ctx, store)
	store.Close()
	if err != nil {
		return err
	}
	info := m.Info()
	metrics.SetModelInfo(info.Name, info.Version, info.Format)
	slog.Info("model loaded",
		"name", info.Name,
		"version", info.Version,
		"format", info.Format,
		"trees", info.NumTrees,
		"sha256", info.SHA256,
	)

	scorer, err := scoring.NewService(m)
	if err != nil {
		return err
	}

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer eventBus.Close()
	checks = append(checks, api.HealthCheck{Name: "eventbus", Ping: eventBus.Ping})
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var alerts *worker.AlertWorker
	if cfg.AlertWorker && cfg.EventBus.Type != "none" {
		alerts = worker.NewAlertWorker(eventBus, nil)
		if err := alerts.Start(); err != nil {
			return fmt.Errorf("failed to start alert worker: %w", err)
		}
	}

	// Closed after the server stops so in-flight events reach the bus
	// before it closes.
	publisher := events.NewPublisher(eventBus, info)
	defer publisher.Close()

	handler := api.NewHandler(scorer, publisher, Version, checks...)
	srv := api.NewServer(cfg.Server, cfg.Metrics, handler)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		if alerts != nil {
			if err := alerts.Stop(); err != nil {
				slog.Error("failed to stop alert worker", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("ethscore is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, info)

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("ethscore shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, info domain.ModelInfo) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 ETHSCORE                  ║")
	fmt.Println("  ║   Ethereum Transaction Fraud Scoring      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  Model:    %s@%s (%s)\n", info.Name, info.Version, info.Format)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict  - Score a transaction")
	fmt.Println("    GET  /health   - Health check")
	fmt.Println("    GET  /ready    - Readiness probe")
	if cfg.Metrics.Enabled {
		fmt.Printf("    GET  %-9s - Prometheus metrics\n", cfg.Metrics.Path)
	}
	fmt.Println()
}
