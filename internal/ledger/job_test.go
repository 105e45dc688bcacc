package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/rental-ledger/internal/jobs"
	"github.com/odyssey-erp/rental-ledger/jobs"
)

func TestJobHandleDeriveRecordsEntries(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	paidRent(env, "1000", time.January)
	registry := prometheus.NewRegistry()
	job := NewJob(env.service, jobmetrics.NewMetrics(registry), nil)

	task, err := jobs.NewLedgerDeriveTask("cron")
	require.NoError(t, err)
	require.NoError(t, job.HandleDerive(context.Background(), task))

	families, err := registry.Gather()
	require.NoError(t, err)
	runs := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "rental_ledger_jobs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "status" {
					runs[label.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, map[string]float64{"success": 1}, runs)
	var payouts int
	for _, e := range env.repo.all() {
		if e.Kind == KindOwnerPayout {
			payouts++
		}
	}
	require.Equal(t, 1, payouts)
}

func TestJobHandleSweep(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	late := pendingEntry(env, KindTax, DirectionOutflow, "40", date(2025, time.February, 1))
	job := NewJob(env.service, nil, nil)

	require.NoError(t, job.HandleSweep(context.Background(), asynq.NewTask(jobs.TaskLedgerOverdueSweep, nil)))
	require.Equal(t, StatusOverdue, env.repo.entry(late.ID).Status)
}

func TestJobRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	job := NewJob(env.service, nil, nil)

	err := job.HandleDerive(context.Background(), asynq.NewTask(jobs.TaskLedgerDerive, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))
	err = job.HandleSweep(context.Background(), asynq.NewTask(jobs.TaskLedgerOverdueSweep, []byte("not json")))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestJobHandlers(t *testing.T) {
	job := NewJob(nil, nil, nil)
	handlers := job.Handlers()
	require.Len(t, handlers, 2)
	require.Equal(t, jobs.TaskLedgerDerive, handlers[0].Type)
	require.Equal(t, jobs.TaskLedgerOverdueSweep, handlers[1].Type)
}
