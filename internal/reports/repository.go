package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rental-ledger/internal/ledger"
)

// PeriodKindTotal is the sum of one kind within one billing period.
type PeriodKindTotal struct {
	Period ledger.Period
	Kind   ledger.Kind
	Total  decimal.Decimal
}

// Repository exposes the read queries behind the rollups.
type Repository interface {
	// ListRentByPeriod returns non-canceled rent charges billed within [from, to].
	ListRentByPeriod(ctx context.Context, from, to ledger.Period) ([]ledger.Entry, error)
	// ListRentByDate returns non-canceled rent charges whose due or paid date falls in [start, end).
	ListRentByDate(ctx context.Context, field DateField, start, end time.Time) ([]ledger.Entry, error)
	ListChildren(ctx context.Context, parentIDs []int64) ([]ledger.Entry, error)
	SumByPeriod(ctx context.Context, kinds []ledger.Kind, from, to ledger.Period) ([]PeriodKindTotal, error)
	ContractActivity(ctx context.Context, start, end time.Time) (ContractActivity, error)
	ActivePortfolio(ctx context.Context) (ActivePortfolio, error)
	FeeFlows(ctx context.Context, start, end time.Time) (FeeFlows, error)
}

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL report repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

// ListRentByPeriod implements Repository.
func (r *PostgresRepository) ListRentByPeriod(ctx context.Context, from, to ledger.Period) ([]ledger.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledger.EntryColumns+`
		FROM ledger_entries e
		WHERE e.kind = $1 AND e.status <> $2 AND e.billing_period BETWEEN $3 AND $4
		ORDER BY e.billing_period, e.id`,
		ledger.KindRent, ledger.StatusCanceled, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("reports: list rent by period: %w", err)
	}
	return ledger.CollectEntries(rows)
}

// ListRentByDate implements Repository.
func (r *PostgresRepository) ListRentByDate(ctx context.Context, field DateField, start, end time.Time) ([]ledger.Entry, error) {
	column := "e.due_date"
	if field == FieldPaid {
		column = "e.paid_date"
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledger.EntryColumns+`
		FROM ledger_entries e
		WHERE e.kind = $1 AND e.status <> $2 AND `+column+` >= $3 AND `+column+` < $4
		ORDER BY `+column+`, e.id`,
		ledger.KindRent, ledger.StatusCanceled, start, end)
	if err != nil {
		return nil, fmt.Errorf("reports: list rent by date: %w", err)
	}
	return ledger.CollectEntries(rows)
}

// ListChildren implements Repository.
func (r *PostgresRepository) ListChildren(ctx context.Context, parentIDs []int64) ([]ledger.Entry, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledger.EntryColumns+`
		FROM ledger_entries e
		WHERE e.parent_entry_id = ANY($1) AND e.status <> $2`, parentIDs, ledger.StatusCanceled)
	if err != nil {
		return nil, fmt.Errorf("reports: list children: %w", err)
	}
	return ledger.CollectEntries(rows)
}

// SumByPeriod implements Repository.
func (r *PostgresRepository) SumByPeriod(ctx context.Context, kinds []ledger.Kind, from, to ledger.Period) ([]PeriodKindTotal, error) {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	rows, err := r.pool.Query(ctx, `
		SELECT e.billing_period, e.kind, COALESCE(SUM(e.amount), 0)
		FROM ledger_entries e
		WHERE e.kind = ANY($1) AND e.status <> $2 AND e.billing_period BETWEEN $3 AND $4
		GROUP BY e.billing_period, e.kind
		ORDER BY e.billing_period, e.kind`,
		names, ledger.StatusCanceled, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("reports: sum by period: %w", err)
	}
	defer rows.Close()

	var out []PeriodKindTotal
	for rows.Next() {
		var (
			period string
			kind   string
			total  pgtype.Numeric
		)
		if err := rows.Scan(&period, &kind, &total); err != nil {
			return nil, err
		}
		p, err := ledger.ParsePeriod(period)
		if err != nil {
			return nil, err
		}
		out = append(out, PeriodKindTotal{Period: p, Kind: ledger.Kind(kind), Total: ledger.NumericToDecimal(total)})
	}
	return out, rows.Err()
}

// ContractActivity implements Repository.
func (r *PostgresRepository) ContractActivity(ctx context.Context, start, end time.Time) (ContractActivity, error) {
	var (
		out                    ContractActivity
		avgSigned, avgTerminal pgtype.Numeric
	)
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE signed_at >= $1 AND signed_at < $2),
			COUNT(*) FILTER (WHERE terminated_at >= $1 AND terminated_at < $2),
			COALESCE(AVG(fee_percent) FILTER (WHERE signed_at >= $1 AND signed_at < $2), 0),
			COALESCE(AVG(fee_percent) FILTER (WHERE terminated_at >= $1 AND terminated_at < $2), 0)
		FROM rental_contracts`, start, end).
		Scan(&out.Signed, &out.Terminated, &avgSigned, &avgTerminal)
	if err != nil {
		return ContractActivity{}, fmt.Errorf("reports: contract activity: %w", err)
	}
	out.AvgFeeSigned = ledger.NumericToDecimal(avgSigned).Round(2)
	out.AvgFeeTerminated = ledger.NumericToDecimal(avgTerminal).Round(2)
	return out, nil
}

// ActivePortfolio implements Repository.
func (r *PostgresRepository) ActivePortfolio(ctx context.Context) (ActivePortfolio, error) {
	var (
		out           ActivePortfolio
		avgFee, avgVl pgtype.Numeric
	)
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(fee_percent), 0), COALESCE(AVG(agreed_value), 0)
		FROM rental_contracts
		WHERE status = ANY($1)`,
		[]string{string(ledger.ContractActive), string(ledger.ContractPendingAdjustment), string(ledger.ContractPendingRenewal)}).
		Scan(&out.Count, &avgFee, &avgVl)
	if err != nil {
		return ActivePortfolio{}, fmt.Errorf("reports: active portfolio: %w", err)
	}
	out.AvgFee = ledger.NumericToDecimal(avgFee).Round(2)
	out.AvgValue = ledger.NumericToDecimal(avgVl).Round(2)
	return out, nil
}

// FeeFlows implements Repository. Revenue is paid fee inflows; expense is paid fee outflows
// plus broker commissions.
func (r *PostgresRepository) FeeFlows(ctx context.Context, start, end time.Time) (FeeFlows, error) {
	var revenue, expense pgtype.Numeric
	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = $3 AND kind = ANY($5)), 0),
			COALESCE(SUM(amount) FILTER (WHERE direction = $4 AND (kind = ANY($5) OR kind = $6)), 0)
		FROM ledger_entries
		WHERE status = $7 AND paid_date >= $1 AND paid_date < $2`,
		start, end, ledger.DirectionInflow, ledger.DirectionOutflow,
		[]string{string(ledger.KindAdminFee), string(ledger.KindContractFee)},
		ledger.KindBrokerCommission, ledger.StatusPaid).
		Scan(&revenue, &expense)
	if err != nil {
		return FeeFlows{}, fmt.Errorf("reports: fee flows: %w", err)
	}
	return FeeFlows{Revenue: ledger.NumericToDecimal(revenue), Expense: ledger.NumericToDecimal(expense)}, nil
}
