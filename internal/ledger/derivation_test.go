package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func paidRent(env *testEnv, amount string, month time.Month) Entry {
	return env.repo.addEntry(Entry{
		Kind:        KindRent,
		Direction:   DirectionInflow,
		Status:      StatusPaid,
		Description: "Aluguel",
		Amount:      dec(amount),
		DueDate:     date(2025, month, 5),
		PaidDate:    ptr(date(2025, month, 7)),
		ContractID:  ptr(int64(1)),
		PropertyID:  ptr(int64(10)),
		Metadata:    Metadata{BillingPeriod: Period{Year: 2025, Month: month}},
	})
}

func TestDerivePayoutsNetsChildrenAndSubtractsFee(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	rent := paidRent(env, "1000", time.January)
	env.repo.addEntry(Entry{
		Kind: KindPenalty, Direction: DirectionInflow, Status: StatusPaid, Description: "Multa",
		Amount: dec("50"), DueDate: date(2025, time.January, 5), PaidDate: ptr(date(2025, time.January, 7)),
		ContractID: ptr(int64(1)), ParentEntryID: ptr(rent.ID),
	})
	env.repo.addEntry(Entry{
		Kind: KindDiscount, Direction: DirectionOutflow, Status: StatusCanceled, Description: "Desconto",
		Amount: dec("200"), DueDate: date(2025, time.January, 5),
		ContractID: ptr(int64(1)), ParentEntryID: ptr(rent.ID),
	})

	report, err := env.service.DerivePayouts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Scanned)
	require.Equal(t, 1, report.Created)
	require.Len(t, report.EntryIDs, 1)

	payout := env.repo.entry(report.EntryIDs[0])
	require.Equal(t, KindOwnerPayout, payout.Kind)
	require.Equal(t, DirectionOutflow, payout.Direction)
	require.Equal(t, OriginAutomatic, payout.Metadata.Origin)
	// 1000 + 50 paid, minus 10% of the 1000 agreed value.
	require.True(t, dec("950").Equal(payout.Amount), payout.Amount.String())
	require.Equal(t, int64(100), *payout.PayeeProfileID)
	require.Equal(t, date(2025, time.January, 7), payout.DueDate)
	require.Equal(t, rent.ID, payout.Metadata.SourceEntryID())
	require.True(t, dec("100").Equal(*payout.Metadata.Derivation.Fee))
	require.True(t, dec("1050").Equal(*payout.Metadata.Derivation.TotalPaid))
	require.Equal(t, []string{EventEntryDerived}, env.publisher.types())

	again, err := env.service.DerivePayouts(context.Background())
	require.NoError(t, err)
	require.Zero(t, again.Scanned)
	require.Zero(t, again.Created)
}

func TestDerivePayoutsUsesCurrentAgreedValueForFee(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	c := seedContract(env)
	c.AgreedValue = dec("1200")
	env.repo.addContract(c)
	paidRent(env, "1000", time.January)

	report, err := env.service.DerivePayouts(context.Background())
	require.NoError(t, err)
	require.True(t, dec("880").Equal(env.repo.entry(report.EntryIDs[0]).Amount))
}

func TestDerivePayoutsSkipsNonPositiveAndOwnerless(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	c := seedContract(env)
	c.FeePercent = dec("100")
	env.repo.addContract(c)
	paidRent(env, "1000", time.January)

	report, err := env.service.DerivePayouts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Created)

	c.FeePercent = dec("10")
	env.repo.addContract(c)
	env.repo.addProperty(Property{ID: 10, Title: "Apto 101"})
	report, err = env.service.DerivePayouts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Empty(t, env.publisher.types())
}

func paidSale(env *testEnv, amount string) Entry {
	return env.repo.addEntry(Entry{
		Kind:        KindSale,
		Direction:   DirectionInflow,
		Module:      ModuleGeneral,
		Status:      StatusPaid,
		Description: "Venda",
		Amount:      dec(amount),
		DueDate:     date(2025, time.January, 20),
		PaidDate:    ptr(date(2025, time.January, 21)),
		ContractID:  ptr(int64(1)),
		PropertyID:  ptr(int64(10)),
	})
}

func TestDeriveCommissionsSplitsBetweenBrokers(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	c := seedContract(env)
	c.SellingBrokerID = ptr(int64(300))
	env.repo.addContract(c)
	sale := paidSale(env, "20000")

	report, err := env.service.DeriveCommissions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Created)

	byPayee := map[int64]Entry{}
	for _, id := range report.EntryIDs {
		e := env.repo.entry(id)
		byPayee[*e.PayeeProfileID] = e
	}
	require.True(t, dec("2000").Equal(byPayee[200].Amount))
	require.Equal(t, RoleCapture, byPayee[200].Metadata.Derivation.Role)
	require.True(t, dec("8000").Equal(byPayee[300].Amount))
	require.Equal(t, RoleSale, byPayee[300].Metadata.Derivation.Role)
	require.Equal(t, sale.ID, byPayee[300].Metadata.SourceEntryID())
	require.Equal(t, ModuleGeneral, byPayee[300].Module)
	require.Equal(t, Period{Year: 2025, Month: time.January}, byPayee[300].Metadata.BillingPeriod)

	again, err := env.service.DeriveCommissions(context.Background())
	require.NoError(t, err)
	require.Zero(t, again.Created)
	require.Equal(t, 2, again.AlreadyDerived)
}

func TestDeriveCommissionsSingleBrokerGetsHalf(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	c := seedContract(env)
	c.SellingBrokerID = ptr(int64(200))
	env.repo.addContract(c)
	paidSale(env, "20000")

	report, err := env.service.DeriveCommissions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)
	e := env.repo.entry(report.EntryIDs[0])
	require.True(t, dec("10000").Equal(e.Amount))
	require.Equal(t, RoleCaptureAndSale, e.Metadata.Derivation.Role)
}

func TestDeriveCommissionsWithoutBrokersSkips(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	env.repo.addProperty(Property{ID: 10, Title: "Apto 101", OwnerProfileID: ptr(int64(100))})
	paidSale(env, "20000")

	report, err := env.service.DeriveCommissions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Created)
}

func TestCommissionPayees(t *testing.T) {
	require.Empty(t, commissionPayees(nil, nil))
	only := commissionPayees(nil, ptr(int64(7)))
	require.Len(t, only, 1)
	require.Equal(t, RoleSale, only[0].role)
	require.True(t, commissionSale.Equal(only[0].share))
}

func TestDeriveAllReportsBothKinds(t *testing.T) {
	env := newTestEnv(date(2025, time.February, 15))
	seedContract(env)
	paidRent(env, "1000", time.January)
	paidSale(env, "1000")

	reports, err := env.service.DeriveAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.Equal(t, KindOwnerPayout, reports[0].Kind)
	require.Equal(t, 1, reports[0].Created)
	require.Equal(t, KindBrokerCommission, reports[1].Kind)
	require.Equal(t, 1, reports[1].Created)
}
