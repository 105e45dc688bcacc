package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// KeyCleaner removes expired idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewIdempotencyCleanupHandler returns the handler for TaskIdempotencyCleanup.
func NewIdempotencyCleanupHandler(store KeyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.RetentionHours <= 0 {
			return asynq.SkipRetry
		}
		removed, err := store.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("idempotency keys cleaned", slog.Int64("removed", removed))
		}
		return nil
	}
}
