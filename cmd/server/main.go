// Package main is the entrypoint for the DataProbe API server.
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

	"github.com/probelab/dataprobe/internal/agent"
	"github.com/probelab/dataprobe/internal/api"
	"github.com/probelab/dataprobe/internal/api/handler"
	mw "github.com/probelab/dataprobe/internal/api/middleware"
	"github.com/probelab/dataprobe/internal/billing"
	"github.com/probelab/dataprobe/internal/cache"
	"github.com/probelab/dataprobe/internal/catalog"
	"github.com/probelab/dataprobe/internal/config"
	"github.com/probelab/dataprobe/internal/objectstore"
	"github.com/probelab/dataprobe/internal/pipeline"
	"github.com/probelab/dataprobe/internal/queue"
	"github.com/probelab/dataprobe/internal/store"
	"github.com/probelab/dataprobe/internal/sweeper"
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
	slog.Info("config loaded", "process_mode", cfg.Pipeline.Mode, "env", cfg.Server.Env)

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

	// 5. Connect object storage
	objects, err := objectstore.NewMinioStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("connect object storage: %w", err)
	}
	slog.Info("object storage connected", "bucket", cfg.Storage.Bucket)

	// 6. Load the tool/agent catalog
	reg, err := catalog.LoadDir(cfg.Catalog.Dir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	slog.Info("catalog loaded", "dir", cfg.Catalog.Dir)

	// 7. Register agent executors and verify the catalog is fully covered
	agents := agent.NewRegistry()
	agent.RegisterBuiltins(agents)
	if err := agents.Verify(reg.AgentIDs()); err != nil {
		return fmt.Errorf("verify agent executors: %w", err)
	}

	// 8. Create store, ledger, orchestrator
	pgStore := store.NewPostgresStore(pool)
	ledger := billing.NewPostgresLedger(pool)
	orch := pipeline.New(pgStore, objects, ledger, reg, agents, redisCache, cfg.Storage.DownloadTTL)
	coordinator := pipeline.NewUploadCoordinator(pgStore, objects, reg, cfg.Storage.UploadTTL)

	// 9. Queue mode: publish to NATS and consume in this process
	if cfg.Pipeline.Mode == config.ProcessModeQueue {
		q, err := queue.Connect(ctx, cfg.Queue.URL)
		if err != nil {
			return fmt.Errorf("connect queue: %w", err)
		}
		defer q.Close()
		orch.SetDispatcher(q)

		stopWorker, err := queue.NewWorker(q, orch).Run(ctx)
		if err != nil {
			return fmt.Errorf("start queue worker: %w", err)
		}
		defer stopWorker()
	}

	// 10. Start the retention sweeper
	sweep := sweeper.New(pgStore, objects, cfg.Retention.Window, cfg.Retention.SweepInterval)
	go sweep.Run(ctx)

	// 11. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache, objects),

		CreateTaskHandler: handler.NewCreateTaskHandler(orch),
		GetTaskHandler:    handler.NewGetTaskHandler(pgStore, redisCache),
		UploadsHandler:    handler.NewUploadURLsHandler(pgStore, coordinator),
		ProcessHandler:    handler.NewProcessTaskHandler(orch),
		DownloadsHandler:  handler.NewDownloadsHandler(pgStore, orch),
		RetryHandler:      handler.NewRetryTaskHandler(orch),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 12. Start HTTP server
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

	slog.Info("server stopped gracefully")
	return nil
}
