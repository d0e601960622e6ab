package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diazhh/alcaldia-saas/internal/app"
	jobmetrics "github.com/diazhh/alcaldia-saas/internal/jobs"
	"github.com/diazhh/alcaldia-saas/internal/platform/cache"
	"github.com/diazhh/alcaldia-saas/internal/platform/db"
	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/users"
	"github.com/diazhh/alcaldia-saas/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store := rbac.NewPGStore(pool)
	authzCache := rbac.NewCache(redisClient, cfg.AuthzCacheOptions(logger, nil))
	authorizer := rbac.NewAuthorizer(rbac.NewResolver(store, logger), authzCache, logger)
	metrics := jobmetrics.NewMetrics(nil)

	warmupJob := jobs.NewCacheWarmupJob(authorizer, users.NewRepository(pool), logger, metrics)
	integrityJob := jobs.NewIntegrityScanJob(store, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       cfg.AsynqRedis(),
		Logger:          logger,
		Concurrency:     cfg.WorkerConcurrency,
		ShutdownTimeout: cfg.AppShutdownTimeout,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuthzCacheWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskAuthzIntegrityScan, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegrityScanCron, Task: jobs.NewIntegrityScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
