// Sentra - Real-time fraud decisions for mobile money and card payments.
// Copyright (c) 2025 InnoDataNiako
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/admission"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/alerting"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/api"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/bus"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/cache"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/config"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/engine"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/ensemble"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/notify"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/policy"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/repository"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/rules"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/scoring"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/velocity"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("SENTRA_CONFIG"), "path to a YAML or JSON config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting sentra",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"admission", cfg.Admission.Backend,
		"strategy", cfg.Ensemble.Strategy,
		"sources", len(cfg.Sources),
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
	slog.Info("cache initialized", "type", cfg.Cache.Type, "decision_ttl", cfg.Cache.DecisionTTL)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Admission Controller
	admitter, err := admission.New(cfg.Admission)
	if err != nil {
		slog.Error("failed to initialize admission controller", "error", err)
		os.Exit(1)
	}
	if c, ok := admitter.(io.Closer); ok {
		defer c.Close()
	}
	slog.Info("admission controller initialized",
		"backend", cfg.Admission.Backend,
		"burst", cfg.Admission.Burst,
		"per_minute", cfg.Admission.PerMinute,
		"per_hour", cfg.Admission.PerHour,
	)

	// Initialize Rule Evaluator
	evaluator, err := rules.NewEvaluator(cfg.Rules)
	if err != nil {
		slog.Error("failed to initialize rule evaluator", "error", err)
		os.Exit(1)
	}
	slog.Info("rule evaluator initialized", "rules_count", evaluator.RulesCount())

	// Initialize Scoring Sources
	sources, err := scoring.NewHTTPSources(cfg.Sources)
	if err != nil {
		slog.Error("failed to initialize scoring sources", "error", err)
		os.Exit(1)
	}
	if len(sources) == 0 {
		slog.Warn("no scoring sources configured, decisions without supplied scores will be degraded")
	}

	// Alerts and enforcement go out on the bus
	publisher := notify.NewPublisher(busImpl)
	lifecycle := alerting.New(repo, repo, alerting.WithNotifier(publisher))

	// Initialize Decision Engine
	eng, err := engine.New(cfg.Engine, evaluator, ensemble.New(cfg.Ensemble, logger), policy.New(cfg.Policy), repo,
		engine.WithLogger(logger),
		engine.WithSources(sources...),
		engine.WithHistory(velocity.NewService(repo)),
		engine.WithAlerts(lifecycle),
		engine.WithEnforcer(publisher),
		engine.WithCache(cacheImpl, cfg.Cache.DecisionTTL),
	)
	if err != nil {
		slog.Error("failed to initialize decision engine", "error", err)
		os.Exit(1)
	}
	slog.Info("decision engine initialized",
		"sources", len(sources),
		"strategy", cfg.Ensemble.Strategy,
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, eng, admitter)

		workerCfg := worker.Config{
			WorkerCount: cfg.Worker.Count,
			QueueSize:   cfg.Worker.QueueSize,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	// Initialize Server
	handler := api.NewHandler(eng, repo, lifecycle, Version).
		WithProbe("cache", cacheImpl).
		WithProbe("eventbus", busImpl)
	srv := api.NewServer(cfg.Server, handler, admitter)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("sentra is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("sentra shutdown complete")
}

// newLogger builds the process logger. SENTRA_DEBUG=true forces debug level.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if os.Getenv("SENTRA_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 SENTRA                    ║")
	fmt.Println("  ║        Fraud Decision Engine              ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /decide                 - Decide a transaction")
	fmt.Println("    GET  /transactions/{id}      - Get a decided transaction")
	fmt.Println("    GET  /alerts                 - List open alerts")
	fmt.Println("    GET  /alerts/{id}            - Get an alert")
	fmt.Println("    POST /alerts/{id}/escalate   - Escalate an alert")
	fmt.Println("    POST /alerts/{id}/review     - Review an alert")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println("    GET  /metrics                - Prometheus metrics")
	fmt.Println()
}
