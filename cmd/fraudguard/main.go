// FraudGuard - Transaction fraud scoring with an explainable ensemble.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command fraudguard serves the scoring API and runs the async scoring
// worker.
//
// The configuration file is FRAUDGUARD_CONFIG (default
// configs/fraudguard.yaml). Two switches sit outside it:
// FRAUDGUARD_ASYNC_WORKER=false disables the worker on API-only nodes and
// FRAUDGUARD_SERVE_ANALYZER=true makes the node answer remote heuristic
// requests.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/fraudguard/internal/api"
	"github.com/opensource-finance/fraudguard/internal/bus"
	"github.com/opensource-finance/fraudguard/internal/cache"
	"github.com/opensource-finance/fraudguard/internal/classifier"
	"github.com/opensource-finance/fraudguard/internal/config"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/scoring"
	"github.com/opensource-finance/fraudguard/internal/synth"
	"github.com/opensource-finance/fraudguard/internal/velocity"
	"github.com/opensource-finance/fraudguard/internal/worker"
)

// Set via -ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const (
	defaultConfigPath = "configs/fraudguard.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("fraudguard exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := envString("CONFIG", defaultConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", configPath, err)
	}

	slog.SetDefault(config.NewLogger(os.Stdout, cfg.Logging))
	slog.Info("starting fraudguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"config", configPath,
	)

	if cfg.Tracing.Enabled {
		slog.Info("tracing enabled", "service", cfg.Tracing.ServiceName)
	} else {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer store.Close()

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer eventBus.Close()

	slog.Info("infrastructure ready",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"event_bus", cfg.EventBus.Type,
	)

	if envBool("SERVE_ANALYZER", false) {
		analyzer, err := classifier.NewRuleAnalyzer(cfg.Classifiers.Rules, cfg.Classifiers.MaxWorkers)
		if err != nil {
			return fmt.Errorf("rule analyzer: %w", err)
		}
		sub, err := classifier.ServeAnalyzer(ctx, eventBus, analyzer)
		if err != nil {
			return fmt.Errorf("serve analyzer: %w", err)
		}
		defer sub.Unsubscribe()
		slog.Info("serving text analyzer", "topic", domain.TopicAnalyzerRequest)
	}

	svc, err := scoring.Build(cfg, eventBus)
	if err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	slog.Info("scoring ready",
		"classifiers", len(svc.Adapters()),
		"heuristic", cfg.Classifiers.Heuristic,
		"alert_threshold", svc.AlertThreshold,
	)

	generator, err := synth.NewGeneratorWithScorer(svc.Scorer(), cfg.Generator)
	if err != nil {
		return fmt.Errorf("dataset generator: %w", err)
	}

	if envBool("ASYNC_WORKER", true) {
		w := worker.NewWorker(eventBus, repo, store, svc, worker.Config{VerdictTTL: cfg.Cache.VerdictTTL})
		if err := w.Start(); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		// Runs before the bus is closed.
		defer func() {
			if err := w.Stop(); err != nil {
				slog.Error("worker stop failed", "error", err)
			}
		}()
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:            repo,
		Cache:           store,
		Bus:             eventBus,
		Scoring:         svc,
		Velocity:        velocity.NewService(store, velocity.DefaultWindow),
		Generator:       generator,
		VerdictTTL:      cfg.Cache.VerdictTTL,
		MaxDatasetCount: cfg.Generator.MaxCount,
		Version:         Version,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	slog.Info("fraudguard listening", "addr", srv.Addr())
	printRoutes(os.Stdout, srv.Router())

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("shutdown complete")
	return nil
}

// printRoutes lists the mounted API routes.
func printRoutes(w io.Writer, r chi.Routes) {
	fmt.Fprintf(w, "\n  FraudGuard %s\n\n", Version)
	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		fmt.Fprintf(w, "    %-7s %s\n", method, strings.TrimSuffix(route, "/*"))
		return nil
	})
	fmt.Fprintln(w)
}

func envString(name, fallback string) string {
	if v := os.Getenv(config.EnvPrefix + name); v != "" {
		return v
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(config.EnvPrefix + name))
	if err != nil {
		return fallback
	}
	return v
}
