package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerDerive derives owner payouts and broker commissions from paid revenue.
	TaskLedgerDerive = "ledger:derive"
	// TaskLedgerOverdueSweep marks pending outflows past their due date as overdue.
	TaskLedgerOverdueSweep = "ledger:overdue_sweep"
	// TaskIdempotencyCleanup drops expired request idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// LedgerRunPayload describes a derivation or sweep run.
type LedgerRunPayload struct {
	Trigger     string    `json:"trigger"`
	RequestedAt time.Time `json:"requested_at"`
}

// IdempotencyCleanupPayload bounds the retention of idempotency keys.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewLedgerDeriveTask constructs a derivation task.
func NewLedgerDeriveTask(trigger string) (*asynq.Task, error) {
	return newLedgerRunTask(TaskLedgerDerive, trigger)
}

// NewOverdueSweepTask constructs an overdue sweep task.
func NewOverdueSweepTask(trigger string) (*asynq.Task, error) {
	return newLedgerRunTask(TaskLedgerOverdueSweep, trigger)
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		hours = 24 * 7
	}
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

func newLedgerRunTask(kind, trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "manual"
	}
	data, err := json.Marshal(LedgerRunPayload{Trigger: trigger, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(kind, data), nil
}
