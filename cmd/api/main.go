package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/Macnelson9/Soroban-Registry/internal/application/aggregation"
	appai "github.com/Macnelson9/Soroban-Registry/internal/application/ai"
	"github.com/Macnelson9/Soroban-Registry/internal/application/history"
	appscans "github.com/Macnelson9/Soroban-Registry/internal/application/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/config"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/aggregate"
	domai "github.com/Macnelson9/Soroban-Registry/internal/domain/ai"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/analyst"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/benchmark"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/detector"
	domain "github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scoring"
	aiopenai "github.com/Macnelson9/Soroban-Registry/internal/infra/ai/openai"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/ai/prompt"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/checklistwatch"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/db/memory"
	mysqlp "github.com/Macnelson9/Soroban-Registry/internal/infra/db/mysql"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/db/postgres"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/httpserver"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/storage"
	"github.com/Macnelson9/Soroban-Registry/internal/logging"
	"github.com/Macnelson9/Soroban-Registry/internal/middleware"
)

// registryStore is everything the service persists. Both the SQL store and
// the in-memory store satisfy it.
type registryStore interface {
	domain.Repository
	checklist.Repository
	aggregate.Repository
	aggregate.ResultSource
	analyst.Repository
}

type artifactStore interface {
	domain.ArtifactStore
	middleware.HealthChecker
}

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	if db != nil {
		defer db.Close()
	}
	checks := map[string]middleware.HealthChecker{}
	if db != nil {
		checks["database"] = middleware.TimeoutChecker{Checker: middleware.CheckFunc(db.PingContext)}
	}

	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}
	checks["artifacts"] = middleware.TimeoutChecker{Checker: artifacts}

	// checklist
	registry := checklist.NewRegistry(store, detector.RuleValidator{})
	if err := registry.Load(ctx); err != nil {
		log.Fatalf("checklist load error: %v", err)
	}
	var watcher *checklistwatch.Watcher
	if cfg.Checklist.Path != "" {
		watcher = checklistwatch.New(cfg.Checklist.Path, registry, logger.With("component", "checklist"))
		if _, err := watcher.Sync(ctx); err != nil {
			log.Fatalf("checklist %s: %v", cfg.Checklist.Path, err)
		}
	} else if registry.Latest() == 0 {
		if _, err := registry.Publish(ctx, checklist.Default()); err != nil {
			log.Fatalf("checklist publish error: %v", err)
		}
	}
	if v, err := registry.Version(registry.Latest()); err == nil {
		logger.Info("checklist ready", "checklist", v.String())
	}

	// scan pipeline
	metrics := middleware.NewMetrics()
	det := detector.New(detector.Options{
		MaxSteps:    cfg.Pipeline.RuleMaxSteps,
		RuleTimeout: cfg.Pipeline.RuleTimeout,
		Concurrency: cfg.Pipeline.RuleConcurrency,
	})
	svc := appscans.NewService(appscans.Deps{
		Repo:      store,
		Artifacts: artifacts,
		Checklist: registry,
		Detector:  det,
		Benchmark: benchmark.Engine{},
		Scorer:    scoring.NewEngine(cfg.Pipeline.Scoring),
		Logger:    logger,
		Observer:  metrics,
	}, appscans.Options{
		JobDeadline:      cfg.Pipeline.JobDeadline,
		Budget:           cfg.Pipeline.Budget,
		MaxArtifactBytes: cfg.Pipeline.MaxArtifactBytes,
		PersistTimeout:   cfg.Pipeline.PersistTimeout,
		InstanceID:       instanceID(cfg),
		LeaseTTL:         cfg.Pipeline.LeaseTTL,
	})
	metrics.InFlight = svc.InFlight
	if _, err := svc.RecoverOrphans(ctx); err != nil {
		log.Fatalf("orphan recovery error: %v", err)
	}

	task := aggregation.NewTask(aggregation.Deps{
		Source: store,
		Repo:   store,
		Logger: logger.With("component", "aggregation"),
	}, cfg.Aggregation.Batch)
	if err := task.Load(ctx); err != nil {
		logger.Warn("aggregate snapshots not restored", "error", err)
	}

	advisor := newAdvisor(cfg)
	logger.Info("advice model", "model", advisor.Model())

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSecond)
	ready := &middleware.Readiness{}

	handler := httpserver.NewRouter(httpserver.Services{
		Scans:      svc,
		History:    &history.Ledger{Repo: store},
		Aggregates: task,
		Checklist:  registry,
		Advice:     appai.NewService(advisor, store, store, nil, logger.With("component", "advice")),
	}, httpserver.Options{
		Logger:         logger,
		APIKeys:        cfg.Server.APIKeys,
		Admins:         cfg.Server.Admins,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        limiter,
		Metrics:        metrics,
		Health:         checks,
		Readiness:      ready,
		WaitTimeout:    cfg.Pipeline.WaitTimeout,
		MaxBodyBytes:   int64(cfg.Pipeline.MaxArtifactBytes) * 2,
	})

	// background work
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		task.Run(gctx, cfg.Aggregation.Interval)
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		svc.RunReaper(gctx, cfg.Pipeline.ReapInterval)
		return nil
	})
	if watcher != nil && cfg.Checklist.Watch {
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("checklist watcher stopped", "error", err)
			}
			return nil
		})
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "database", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	ready.Set(true)

	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case err := <-errCh:
		logger.Error("server error", "error", err)
	}
	ready.Set(false)
	stop()

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// cancel running scans first so ?wait=true requests can answer
	if err := svc.Close(sctx); err != nil {
		logger.Error("scan shutdown", "error", err, "in_flight", svc.InFlight())
	}
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	_ = g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (registryStore, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "mysql":
		return mysqlp.Open(ctx, cfg.MySQLDSN())
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN())
	default:
		return memory.New(), nil, nil
	}
}

func openArtifacts(ctx context.Context, cfg *config.Config) (artifactStore, error) {
	if cfg.Minio.Endpoint == "" {
		return storage.NewMemory(), nil
	}
	return storage.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
}

func newAdvisor(cfg *config.Config) domai.Client {
	if cfg.OpenAI.APIKey == "" {
		return prompt.Offline{}
	}
	oc := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		oc.BaseURL = cfg.OpenAI.BaseURL
	}
	return aiopenai.NewClientWithConfig(oc, cfg.OpenAI.Model)
}

// instanceID names this replica as the owner of the jobs it runs.
func instanceID(cfg *config.Config) string {
	if cfg.Pipeline.InstanceID != "" {
		return cfg.Pipeline.InstanceID
	}
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}
