// Package main is the entrypoint for the TuneHub API server.
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

	"github.com/cklxx/tunehub/internal/api"
	"github.com/cklxx/tunehub/internal/api/handler"
	mw "github.com/cklxx/tunehub/internal/api/middleware"
	"github.com/cklxx/tunehub/internal/api/response"
	"github.com/cklxx/tunehub/internal/cache"
	"github.com/cklxx/tunehub/internal/config"
	"github.com/cklxx/tunehub/internal/engine"
	"github.com/cklxx/tunehub/internal/jobs"
	"github.com/cklxx/tunehub/internal/modelcache"
	"github.com/cklxx/tunehub/internal/store"
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
	slog.Info("config loaded", "engine_mode", cfg.Engine.Mode, "env", cfg.Server.Env)

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

	// 5. Create store and reconcile records left by a previous instance
	pgStore := store.NewPostgresStore(pool)

	if _, err := jobs.RunRecoverySweep(ctx, pgStore); err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}

	// 6. Create engine and model cache
	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	slog.Info("engine initialized", "engine", eng.Name())

	modelCache, err := modelcache.New(cfg.Paths.ModelCacheDir, eng)
	if err != nil {
		return fmt.Errorf("create model cache: %w", err)
	}
	slog.Info("model cache ready", "dir", modelCache.Root())

	// 7. Create dispatcher
	dispatcher := jobs.NewDispatcher(ctx, pgStore, redisCache, modelCache, eng, cfg.Paths, cfg.Jobs)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Jobs.RateLimitPerMinute),

		HealthHandler: healthHandler(pgStore, redisCache),

		CreateTraining:        handler.NewCreateTrainingHandler(dispatcher),
		CreateDatasetDownload: handler.NewCreateDatasetDownloadHandler(dispatcher),
		CreateModelDownload:   handler.NewCreateModelDownloadHandler(dispatcher),

		ListDatasetPresets: handler.NewListDatasetPresetsHandler(),

		ListJobs:  handler.NewListJobsHandler(pgStore),
		GetJob:    handler.NewGetJobHandler(pgStore),
		CancelJob: handler.NewCancelJobHandler(dispatcher),
		DeleteJob: handler.NewDeleteJobHandler(dispatcher),

		ListModels:     handler.NewListModelsHandler(),
		ListModelCache: handler.NewListModelCacheHandler(modelCache),
		EvictModel:     handler.NewEvictModelHandler(modelCache),
		EvictAllModels: handler.NewEvictAllModelsHandler(modelCache),
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

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		slog.Warn("jobs interrupted by shutdown", "error", err)
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
