package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/app"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
	"github.com/odyssey-erp/odyssey-fulfillment/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.TestMode {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	rates, err := app.NewRateProvider(cfg, redisClient, logger)
	if err != nil {
		logger.Error("init fx provider", slog.Any("error", err))
		os.Exit(1)
	}
	tolerances, err := app.NewTolerancePolicy(cfg)
	if err != nil {
		logger.Error("load match tolerances", slog.Any("error", err))
		os.Exit(1)
	}

	idempotencyStore := shared.NewIdempotencyStore(pool)
	jobMetrics := jobmetrics.NewMetrics(nil)

	// Matches run from the worker itself, so procurement events are not
	// re-enqueued here.
	procurementService := procurement.NewService(procurement.NewRepository(pool), inventory.NewLedger(nil), rates,
		shared.NewApprovalRecorder(pool, logger), shared.NewAuditLogger(pool), nil,
		procurement.ServiceConfig{
			BaseCurrency: cfg.BaseCurrency,
			FXTimeout:    cfg.FXTimeout,
			Tolerances:   tolerances,
		}, logger)

	matchJob := jobs.NewMatchJob(procurementService, redislock.New(redisClient), logger, jobMetrics,
		jobs.MatchJobConfig{SweepLimit: cfg.MatchSweepLimit})

	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, jobMetrics)

	sweepTask, err := jobs.NewMatchSweepTask(cfg.MatchSweepLimit)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskMatchPurchaseOrder, Handler: matchJob.Handle},
			{Type: jobs.TaskMatchSweep, Handler: matchJob.HandleSweep},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.MatchSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
