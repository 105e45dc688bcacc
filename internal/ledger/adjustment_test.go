package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

type adjustmentFixture struct {
	env                *testEnv
	jan, feb, mar, apr Entry
	paidMay            Entry
}

func newAdjustmentFixture() adjustmentFixture {
	env := newTestEnv(time.Date(2025, time.February, 15, 14, 0, 0, 0, saoPaulo))
	seedContract(env)
	rent := func(month time.Month, status Status) Entry {
		e := Entry{
			Kind:        KindRent,
			Direction:   DirectionInflow,
			Status:      status,
			Description: "Aluguel",
			Amount:      dec("1000"),
			DueDate:     date(2025, month, 5),
			ContractID:  ptr(int64(1)),
			PropertyID:  ptr(int64(10)),
			Metadata:    Metadata{BillingPeriod: Period{Year: 2025, Month: month}},
		}
		if status == StatusPaid {
			e.PaidDate = ptr(date(2025, month, 5))
		}
		return env.repo.addEntry(e)
	}
	return adjustmentFixture{
		env:     env,
		jan:     rent(time.January, StatusPending),
		feb:     rent(time.February, StatusPending),
		mar:     rent(time.March, StatusPending),
		apr:     rent(time.April, StatusPending),
		paidMay: rent(time.May, StatusPaid),
	}
}

func TestAdjustRentPropagatesToFuturePendingRent(t *testing.T) {
	f := newAdjustmentFixture()
	ctx := shared.ContextWithActor(context.Background(), "ana")

	res, err := f.env.service.AdjustRent(ctx, AdjustRentInput{ContractID: 1, NewValue: dec("1100")})
	require.NoError(t, err)
	require.True(t, dec("1000").Equal(res.OldValue))
	require.True(t, dec("1100").Equal(res.NewValue))
	require.True(t, dec("10").Equal(res.Percent))
	require.Equal(t, []int64{f.mar.ID, f.apr.ID}, res.UpdatedIDs)
	require.Len(t, res.History, 1)
	require.Equal(t, "ana", res.History[0].Actor)

	require.True(t, dec("1000").Equal(f.env.repo.entry(f.jan.ID).Amount))
	require.True(t, dec("1000").Equal(f.env.repo.entry(f.feb.ID).Amount))
	require.True(t, dec("1000").Equal(f.env.repo.entry(f.paidMay.ID).Amount))

	mar := f.env.repo.entry(f.mar.ID)
	require.True(t, dec("1100").Equal(mar.Amount))
	require.Len(t, mar.Metadata.Adjustments, 1)
	require.True(t, dec("1000").Equal(mar.Metadata.Adjustments[0].Previous))
	require.Equal(t, "reajuste", mar.Metadata.Adjustments[0].Reason)

	contract, err := f.env.repo.GetContract(ctx, 1)
	require.NoError(t, err)
	require.True(t, dec("1100").Equal(contract.AgreedValue))
	require.Len(t, contract.AdjustmentHistory, 1)

	require.Equal(t, []string{EventRentAdjusted}, f.env.publisher.types())
	require.Len(t, f.env.audit.logs, 1)
	require.Equal(t, "rental.rent_adjust", f.env.audit.logs[0].Action)
}

func TestAdjustRentRecordsSuppliedPercent(t *testing.T) {
	f := newAdjustmentFixture()
	supplied := dec("4.5")

	res, err := f.env.service.AdjustRent(context.Background(), AdjustRentInput{ContractID: 1, NewValue: dec("1100"), Percent: &supplied})
	require.NoError(t, err)
	require.True(t, supplied.Equal(res.Percent))
	require.Len(t, res.History, 1)
	require.NotNil(t, res.History[0].Percent)
	require.True(t, supplied.Equal(*res.History[0].Percent))
	require.Equal(t, []int64{f.mar.ID, f.apr.ID}, res.UpdatedIDs)
}

func TestAdjustRentToCurrentValueIsNoChange(t *testing.T) {
	f := newAdjustmentFixture()
	ctx := context.Background()

	_, err := f.env.service.AdjustRent(ctx, AdjustRentInput{ContractID: 1, NewValue: dec("1100")})
	require.NoError(t, err)
	events := len(f.env.publisher.types())

	_, err = f.env.service.AdjustRent(ctx, AdjustRentInput{ContractID: 1, NewValue: dec("1100.00")})
	require.ErrorIs(t, err, ErrNoChange)
	require.Len(t, f.env.publisher.types(), events)

	contract, err := f.env.repo.GetContract(ctx, 1)
	require.NoError(t, err)
	require.Len(t, contract.AdjustmentHistory, 1)
	require.Len(t, f.env.repo.entry(f.mar.ID).Metadata.Adjustments, 1)
}

func TestAdjustRentReportsPartialProgressAndRetryConverges(t *testing.T) {
	f := newAdjustmentFixture()
	ctx := context.Background()
	f.env.repo.failAmountUpdate = f.apr.ID

	res, err := f.env.service.AdjustRent(ctx, AdjustRentInput{ContractID: 1, NewValue: dec("1100")})
	require.Error(t, err)
	require.True(t, IsPartialProgress(err))

	var perr *PartialProgressError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, []int64{f.mar.ID}, perr.UpdatedIDs)
	require.Equal(t, f.apr.ID, perr.FailedEntryID)
	require.Equal(t, []int64{f.mar.ID}, res.UpdatedIDs)
	require.True(t, dec("1000").Equal(f.env.repo.entry(f.apr.ID).Amount))

	contract, err := f.env.repo.GetContract(ctx, 1)
	require.NoError(t, err)
	require.True(t, dec("1100").Equal(contract.AgreedValue))

	f.env.repo.failAmountUpdate = 0
	retry, err := f.env.service.RetryPropagation(ctx, 1, "")
	require.NoError(t, err)
	require.Equal(t, []int64{f.apr.ID}, retry.UpdatedIDs)
	require.Equal(t, []int64{f.mar.ID}, retry.SkippedIDs)
	require.True(t, dec("1100").Equal(f.env.repo.entry(f.apr.ID).Amount))
	require.Len(t, f.env.repo.entry(f.mar.ID).Metadata.Adjustments, 1)

	again, err := f.env.service.RetryPropagation(ctx, 1, "")
	require.NoError(t, err)
	require.Empty(t, again.UpdatedIDs)
}

func TestAdjustRentRejectsTerminatedContract(t *testing.T) {
	f := newAdjustmentFixture()
	c, err := f.env.repo.GetContract(context.Background(), 1)
	require.NoError(t, err)
	c.Status = ContractTerminated
	f.env.repo.addContract(c)

	_, err = f.env.service.AdjustRent(context.Background(), AdjustRentInput{ContractID: 1, NewValue: dec("1100")})
	require.ErrorIs(t, err, ErrNotEligible)
	_, err = f.env.service.RetryPropagation(context.Background(), 1, "")
	require.ErrorIs(t, err, ErrNotEligible)
	require.True(t, dec("1000").Equal(f.env.repo.entry(f.mar.ID).Amount))
}

func TestAdjustRentValidation(t *testing.T) {
	f := newAdjustmentFixture()
	_, err := f.env.service.AdjustRent(context.Background(), AdjustRentInput{ContractID: 1, NewValue: dec("0")})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.env.service.AdjustRent(context.Background(), AdjustRentInput{ContractID: 404, NewValue: dec("10")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdjustmentHistory(t *testing.T) {
	f := newAdjustmentFixture()
	summary, err := f.env.service.AdjustmentHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "LOC-001", summary.Code)
	require.NotNil(t, summary.History)
	require.Empty(t, summary.History)
}
