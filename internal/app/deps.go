package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/rental-ledger/internal/ledger"
	"github.com/odyssey-erp/rental-ledger/internal/platform/cache"
	"github.com/odyssey-erp/rental-ledger/internal/platform/db"
	"github.com/odyssey-erp/rental-ledger/internal/platform/events"
	"github.com/odyssey-erp/rental-ledger/internal/reports"
	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

// Dependencies holds the connections shared by the server and the worker.
type Dependencies struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Publisher *events.Publisher
	Cache     *reports.Cache
	Audit     *shared.AuditLogger
	Idem      *shared.IdempotencyStore
}

// OpenDependencies connects to postgres, redis and kafka. Redis is optional: when it cannot be
// reached the report cache is disabled and a warning is logged.
func OpenDependencies(ctx context.Context, cfg *Config, logger *slog.Logger) (*Dependencies, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	deps := &Dependencies{
		Pool:      pool,
		Publisher: events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic),
		Audit:     shared.NewAuditLogger(pool),
		Idem:      shared.NewIdempotencyStore(pool),
	}
	client, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
	} else {
		deps.Redis = client
	}
	deps.Cache = reports.NewCache(deps.Redis, cfg.ReportCacheTTL)
	if deps.Publisher == nil {
		logger.Info("kafka brokers not configured, ledger events disabled")
	}
	return deps, nil
}

// RedisOpts returns the asynq connection options for the configured redis.
func (c *Config) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// LedgerService builds the ledger service on top of the shared connections.
func (d *Dependencies) LedgerService(cfg *Config, logger *slog.Logger, scheduler ledger.DeriveScheduler) *ledger.Service {
	return ledger.NewService(ledger.NewRepository(d.Pool), ledger.ServiceConfig{
		Location:    cfg.Location(),
		Publisher:   d.Publisher,
		Invalidator: d.Cache,
		Audit:       d.Audit,
		Scheduler:   scheduler,
		Logger:      logger,
	})
}

// ReportsService builds the report service on top of the shared connections.
func (d *Dependencies) ReportsService(cfg *Config) *reports.Service {
	return reports.NewService(reports.NewRepository(d.Pool), d.Cache, cfg.Location())
}

// Close releases every connection.
func (d *Dependencies) Close(logger *slog.Logger) {
	if err := d.Publisher.Close(); err != nil {
		logger.Warn("kafka close", slog.Any("error", err))
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	d.Pool.Close()
}
