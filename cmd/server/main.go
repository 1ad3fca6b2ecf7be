// Package main is the entrypoint for the contentpipe pipeline server.
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

	"github.com/kiranshivaraju/contentpipe/internal/api"
	"github.com/kiranshivaraju/contentpipe/internal/api/handler"
	mw "github.com/kiranshivaraju/contentpipe/internal/api/middleware"
	"github.com/kiranshivaraju/contentpipe/internal/api/response"
	"github.com/kiranshivaraju/contentpipe/internal/cache"
	"github.com/kiranshivaraju/contentpipe/internal/callback"
	"github.com/kiranshivaraju/contentpipe/internal/config"
	"github.com/kiranshivaraju/contentpipe/internal/pipeline"
	"github.com/kiranshivaraju/contentpipe/internal/processor"
	"github.com/kiranshivaraju/contentpipe/internal/projection"
	"github.com/kiranshivaraju/contentpipe/internal/retention"
	"github.com/kiranshivaraju/contentpipe/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"processor", cfg.Processor.Kind,
		"pipeline_version", cfg.Pipeline.Version,
		"max_concurrency", cfg.Pipeline.MaxConcurrency,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create processor
	proc, err := processor.New(cfg.Processor)
	if err != nil {
		return fmt.Errorf("create processor: %w", err)
	}
	slog.Info("processor initialized", "processor", proc.Name())

	// 6. Create store and pipeline components
	pgStore := store.NewPostgresStore(pool)
	gate := pipeline.NewGate(cfg.Pipeline.MaxConcurrency)
	projector := projection.NewProjector(pgStore)

	dispatcher := callback.NewDispatcher(cfg.Callback)
	if dispatcher.Enabled() {
		slog.Info("callback delivery enabled", "endpoint", cfg.Callback.Endpoint)
	} else {
		slog.Info("callback delivery disabled")
	}

	orch := pipeline.NewOrchestrator(pgStore, redisCache, proc, projector, dispatcher, gate, cfg.Pipeline.Version)

	// Reschedule jobs that never started before the last shutdown.
	recovered, err := orch.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover pending jobs: %w", err)
	}
	if recovered > 0 {
		slog.Info("rescheduled pending jobs", "count", recovered)
	}

	// 7. Start the retention purger
	purgerCtx, stopPurger := context.WithCancel(ctx)
	defer stopPurger()
	purger := retention.NewPurger(pgStore, cfg.Retention)
	purgerDone := make(chan struct{})
	go func() {
		defer close(purgerDone)
		purger.Run(purgerCtx)
	}()

	// 8. Build router with dependencies
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		RateLimit: rateLimit,

		HealthHandler:    healthHandler(pgStore, redisCache),
		ReprocessHandler: handler.NewReprocessHandler(orch),
		GetJobHandler:    handler.NewGetJobHandler(pgStore, redisCache),
		ListJobsHandler:  handler.NewListJobsHandler(pgStore),
		CancelJobHandler: handler.NewCancelJobHandler(orch),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	stopPurger()
	<-purgerDone

	if err := orch.Close(shutdownCtx); err != nil {
		slog.Warn("orchestrator drained incompletely", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
