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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/rental-ledger/cmd/rental/cli"
	"github.com/odyssey-erp/rental-ledger/internal/app"
	"github.com/odyssey-erp/rental-ledger/internal/ledger"
	"github.com/odyssey-erp/rental-ledger/internal/observability"
	"github.com/odyssey-erp/rental-ledger/internal/platform/db"
	"github.com/odyssey-erp/rental-ledger/internal/reports"
	"github.com/odyssey-erp/rental-ledger/jobs"
	"github.com/odyssey-erp/rental-ledger/migrations"
)

const usage = `usage: rental <command>

commands:
  serve                 start the HTTP API (default)
  migrate               apply the embedded schema migrations
  jobs trigger <name>   enqueue a background job (%s)
  jobs stats            print the default queue state
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, strings.Join(cli.JobNames(), ", "))
	}
	flag.Parse()
	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "jobs":
		err = runJobs(ctx, cfg, os.Stdout, args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	deps, err := app.OpenDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	queue, err := jobs.NewClient(cfg.RedisOpts())
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(cfg.RedisOpts())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	ledgerService := deps.LedgerService(cfg, logger, queue)
	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		LedgerHandler:  ledger.NewHandler(logger, ledgerService, deps.Idem),
		ReportsHandler: reports.NewHandler(deps.ReportsService(cfg), logger),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Database:       deps.Pool,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", cfg.LedgerTimezone))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	return nil
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	pool, err := db.New(ctx, cfg.PGDSN, 2)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, migrations.Files)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", slog.Int("count", len(applied)), slog.Any("versions", applied))
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("jobs: expected trigger or stats")
	}
	c := cli.NewJobsCLI(cfg.RedisOpts(), cfg.IdempotencyRetention)
	defer c.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("jobs trigger: job name required (%s)", strings.Join(cli.JobNames(), ", "))
		}
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	default:
		return fmt.Errorf("jobs: unknown action %q", args[0])
	}
	return nil
}
