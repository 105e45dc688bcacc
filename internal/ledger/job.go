package ledger

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/rental-ledger/internal/jobs"
	"github.com/odyssey-erp/rental-ledger/jobs"
)

// Job runs derivation and the overdue sweep from the worker.
type Job struct {
	service *Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewJob constructs the ledger job handlers.
func NewJob(service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *Job {
	return &Job{service: service, metrics: metrics, logger: logger}
}

// Handlers lists the task handlers for worker registration.
func (j *Job) Handlers() []jobs.TaskHandler {
	return []jobs.TaskHandler{
		{Type: jobs.TaskLedgerDerive, Handler: j.HandleDerive},
		{Type: jobs.TaskLedgerOverdueSweep, Handler: j.HandleSweep},
	}
}

// HandleDerive fulfils the asynq.HandlerFunc contract for TaskLedgerDerive.
func (j *Job) HandleDerive(ctx context.Context, task *asynq.Task) error {
	if _, err := decodeRunPayload(task); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track(jobs.TaskLedgerDerive)
	reports, err := j.service.DeriveAll(ctx)
	for _, r := range reports {
		j.metrics.AddEntries(jobs.TaskLedgerDerive, "created", r.Created)
		j.metrics.AddEntries(jobs.TaskLedgerDerive, "already_derived", r.AlreadyDerived)
		j.metrics.AddEntries(jobs.TaskLedgerDerive, "skipped", r.Skipped)
	}
	if err != nil && j.logger != nil {
		j.logger.Error("ledger derive", slog.Any("error", err))
	}
	return tracker.End(err)
}

// HandleSweep fulfils the asynq.HandlerFunc contract for TaskLedgerOverdueSweep.
func (j *Job) HandleSweep(ctx context.Context, task *asynq.Task) error {
	if _, err := decodeRunPayload(task); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track(jobs.TaskLedgerOverdueSweep)
	result, err := j.service.SweepOverdue(ctx)
	j.metrics.AddEntries(jobs.TaskLedgerOverdueSweep, "swept", len(result.UpdatedIDs))
	if err != nil && j.logger != nil {
		j.logger.Error("ledger overdue sweep", slog.Any("error", err))
	}
	return tracker.End(err)
}

func decodeRunPayload(task *asynq.Task) (jobs.LedgerRunPayload, error) {
	var payload jobs.LedgerRunPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(task.Payload(), &payload)
	return payload, err
}
