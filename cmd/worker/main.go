package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/rental-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/rental-ledger/internal/jobs"
	"github.com/odyssey-erp/rental-ledger/internal/ledger"
	"github.com/odyssey-erp/rental-ledger/internal/observability"
	"github.com/odyssey-erp/rental-ledger/jobs"
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

	deps, err := app.OpenDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("open dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.Close(logger)

	// The worker already runs derivation; paid transitions made here need no extra task.
	ledgerService := deps.LedgerService(cfg, logger, nil)
	metrics := observability.NewMetrics()
	ledgerJob := ledger.NewJob(ledgerService, jobmetrics.NewMetrics(metrics.Registerer()), logger)

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadTimeout: cfg.AppReadTimeout}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer metricsServer.Close()
	}

	deriveTask, err := jobs.NewLedgerDeriveTask("cron")
	if err != nil {
		logger.Error("build derive task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewOverdueSweepTask("cron")
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	handlers := append(ledgerJob.Handlers(), jobs.TaskHandler{
		Type:    jobs.TaskIdempotencyCleanup,
		Handler: jobs.NewIdempotencyCleanupHandler(deps.Idem, logger),
	})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.RedisOpts(),
		Logger:      logger,
		Handlers:    handlers,
		Location:    cfg.Location(),
		Concurrency: cfg.WorkerConcurrency,
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DeriveCron, Task: deriveTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.CleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
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
