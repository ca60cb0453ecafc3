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

	"github.com/odyssey-erp/odyssey-fulfillment/internal/app"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales"
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
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	ledger := inventory.NewLedger(nil)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, logger)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), ledger, auditLogger, metrics, logger)
	salesService := sales.NewService(sales.NewRepository(dbpool), ledger, auditLogger, sales.ServiceConfig{
		ReturnShelfLife: cfg.ReturnShelfLife,
		Observer:        metrics,
	}, logger)
	procurementService := procurement.NewService(procurement.NewRepository(dbpool), ledger, rates, approvalRecorder,
		auditLogger, jobClient, procurement.ServiceConfig{
			BaseCurrency: cfg.BaseCurrency,
			FXTimeout:    cfg.FXTimeout,
			Tolerances:   tolerances,
			Observer:     metrics,
		}, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("base_currency", cfg.BaseCurrency))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
