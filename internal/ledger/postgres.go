package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rental-ledger/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

type txRepository struct {
	tx pgx.Tx
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const contractColumns = `id, code, property_id, agreed_value, fee_percent, status, due_day,
	selling_broker_id, signed_at, terminated_at, adjustment_history`

const entryColumns = `e.id, e.kind, e.direction, e.module, e.status, e.description, e.amount,
	e.due_date, e.paid_date, e.contract_id, e.property_id, e.payee_profile_id, e.parent_entry_id,
	e.origin, e.billing_period, e.metadata, e.created_at, e.updated_at`

// GetContract loads a contract.
func (r *PostgresRepository) GetContract(ctx context.Context, id int64) (Contract, error) {
	return getContract(ctx, r.pool, id, false)
}

// GetProperty loads the property collaborator.
func (r *PostgresRepository) GetProperty(ctx context.Context, id int64) (Property, error) {
	var p Property
	err := r.pool.QueryRow(ctx, `SELECT id, title, owner_profile_id, capture_broker_id FROM properties WHERE id = $1`, id).
		Scan(&p.ID, &p.Title, &p.OwnerProfileID, &p.CaptureBrokerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Property{}, ErrNotFound
	}
	if err != nil {
		return Property{}, fmt.Errorf("ledger: get property: %w", err)
	}
	return p, nil
}

// GetEntry loads an entry.
func (r *PostgresRepository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries e WHERE e.id = $1`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

// ListPendingRentAfter returns future pending rent charges.
func (r *PostgresRepository) ListPendingRentAfter(ctx context.Context, contractID int64, after Period) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries e
		WHERE e.contract_id = $1 AND e.kind = $2 AND e.status = $3 AND e.billing_period > $4
		ORDER BY e.billing_period, e.id`,
		contractID, KindRent, StatusPending, after.String())
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending rent: %w", err)
	}
	return collectEntries(rows)
}

// UpdateEntryAmount overwrites amount and metadata while the entry is still pending.
func (r *PostgresRepository) UpdateEntryAmount(ctx context.Context, id int64, amount decimal.Decimal, meta Metadata) (bool, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE ledger_entries SET amount = $2, metadata = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`, id, amount, raw, StatusPending)
	if err != nil {
		return false, fmt.Errorf("ledger: update amount: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPaidEntries returns paid source entries for derivation.
func (r *PostgresRepository) ListPaidEntries(ctx context.Context, kind Kind, module Module, excludeDerived Kind) ([]Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries e
		WHERE e.kind = $1 AND e.module = $2 AND e.status = $3`
	args := []any{kind, module, StatusPaid}
	if excludeDerived != "" {
		query += `
		AND NOT EXISTS (
			SELECT 1 FROM ledger_entries d
			WHERE d.source_entry_id = e.id AND d.kind = $4 AND d.module = e.module AND d.origin = $5)`
		args = append(args, excludeDerived, OriginAutomatic)
	}
	query += " ORDER BY e.paid_date, e.id"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list paid entries: %w", err)
	}
	return collectEntries(rows)
}

// ListChildren returns entries pointing at any of the parents.
func (r *PostgresRepository) ListChildren(ctx context.Context, parentIDs []int64) ([]Entry, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries e
		WHERE e.parent_entry_id = ANY($1)
		ORDER BY e.parent_entry_id, e.id`, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("ledger: list children: %w", err)
	}
	return collectEntries(rows)
}

// ExistsAutomatic checks the idempotency key of a derived entry.
func (r *PostgresRepository) ExistsAutomatic(ctx context.Context, sourceID int64, kind Kind, payeeID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE origin = $1 AND source_entry_id = $2 AND kind = $3 AND COALESCE(payee_profile_id, 0) = $4)`,
		OriginAutomatic, sourceID, kind, payeeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger: exists automatic: %w", err)
	}
	return exists, nil
}

// InsertAutomatic writes a derived entry; a conflicting idempotency key yields inserted=false.
func (r *PostgresRepository) InsertAutomatic(ctx context.Context, entry Entry) (Entry, bool, error) {
	entry.Metadata.Origin = OriginAutomatic
	if entry.Metadata.SourceEntryID() == 0 {
		return Entry{}, false, fmt.Errorf("%w: automatic entry requires source entry", ErrValidation)
	}
	created, err := insertEntry(ctx, r.pool, entry, `
		ON CONFLICT (source_entry_id, kind, (COALESCE(payee_profile_id, 0))) WHERE origin = 'automatic'
		DO NOTHING`)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return created, true, nil
}

// ListOverdueCandidates returns pending outflows due before the cutoff.
func (r *PostgresRepository) ListOverdueCandidates(ctx context.Context, before time.Time) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries e
		WHERE e.status = $1 AND e.direction = $2 AND e.due_date < $3
		ORDER BY e.due_date, e.id`, StatusPending, DirectionOutflow, before)
	if err != nil {
		return nil, fmt.Errorf("ledger: list overdue candidates: %w", err)
	}
	return collectEntries(rows)
}

// UpdateEntryStatus performs a compare-and-set status change.
func (r *PostgresRepository) UpdateEntryStatus(ctx context.Context, id int64, from, to Status, paidDate *time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ledger_entries SET status = $3, paid_date = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to, paidDate)
	if err != nil {
		return false, fmt.Errorf("ledger: update status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateEntryFields applies an edit to an open entry.
func (r *PostgresRepository) UpdateEntryFields(ctx context.Context, id int64, patch EntryPatch) (Entry, error) {
	sets := []string{}
	args := []any{id}
	if patch.Description != nil {
		args = append(args, *patch.Description)
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
	}
	if patch.Amount != nil {
		args = append(args, *patch.Amount)
		sets = append(sets, fmt.Sprintf("amount = $%d", len(args)))
	}
	if patch.DueDate != nil {
		args = append(args, *patch.DueDate)
		sets = append(sets, fmt.Sprintf("due_date = $%d", len(args)))
	}
	if patch.Metadata != nil {
		raw, err := json.Marshal(patch.Metadata)
		if err != nil {
			return Entry{}, err
		}
		args = append(args, raw)
		sets = append(sets, fmt.Sprintf("metadata = $%d", len(args)))
	}
	if len(sets) == 0 {
		return r.GetEntry(ctx, id)
	}
	args = append(args, StatusPending, StatusOverdue)
	query := fmt.Sprintf(`
		UPDATE ledger_entries e SET %s, updated_at = NOW()
		WHERE e.id = $1 AND e.status IN ($%d, $%d)
		RETURNING `+entryColumns, strings.Join(sets, ", "), len(args)-1, len(args))
	entry, err := scanEntry(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

// ListEntries returns enriched entries matching the filter.
func (r *PostgresRepository) ListEntries(ctx context.Context, filter ListFilter) ([]EntryView, error) {
	where, args := buildFilter(filter)
	query := `
		SELECT ` + entryColumns + `,
			COALESCE(c.code, ''), COALESCE(p.title, ''), COALESCE(pr.name, '')
		FROM ledger_entries e
		LEFT JOIN rental_contracts c ON c.id = e.contract_id
		LEFT JOIN properties p ON p.id = COALESCE(e.property_id, c.property_id)
		LEFT JOIN profiles pr ON pr.id = e.payee_profile_id` + where + `
		ORDER BY e.due_date DESC, e.id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	var out []EntryView
	for rows.Next() {
		var (
			row  entryRow
			view EntryView
		)
		dest := append(row.targets(), &view.ContractCode, &view.PropertyTitle, &view.PayeeName)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		entry, err := row.finish()
		if err != nil {
			return nil, err
		}
		view.Entry = entry
		out = append(out, view)
	}
	return out, rows.Err()
}

// SumEntries totals paid and open amounts over the filtered set.
func (r *PostgresRepository) SumEntries(ctx context.Context, filter ListFilter) (decimal.Decimal, decimal.Decimal, error) {
	where, args := buildFilter(filter)
	args = append(args, StatusPaid, StatusPending, StatusOverdue)
	n := len(args)
	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(e.amount) FILTER (WHERE e.status = $%d), 0),
			COALESCE(SUM(e.amount) FILTER (WHERE e.status IN ($%d, $%d)), 0)
		FROM ledger_entries e
		LEFT JOIN rental_contracts c ON c.id = e.contract_id`+where, n-2, n-1, n)
	var paid, pending pgtype.Numeric
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&paid, &pending); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ledger: sum entries: %w", err)
	}
	return NumericToDecimal(paid), NumericToDecimal(pending), nil
}

// --- Transaction operations ---

// LockContract loads the contract row FOR UPDATE.
func (t *txRepository) LockContract(ctx context.Context, id int64) (Contract, error) {
	return getContract(ctx, t.tx, id, true)
}

// SaveContractValue writes the current value and the full history.
func (t *txRepository) SaveContractValue(ctx context.Context, id int64, value decimal.Decimal, history []AdjustmentRecord) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE rental_contracts SET agreed_value = $2, adjustment_history = $3, updated_at = NOW()
		WHERE id = $1`, id, value, raw)
	if err != nil {
		return fmt.Errorf("ledger: save contract value: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindEntry returns the oldest non-canceled entry of the kind for contract and period.
func (t *txRepository) FindEntry(ctx context.Context, contractID int64, period Period, kind Kind) (*Entry, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries e
		WHERE e.contract_id = $1 AND e.billing_period = $2 AND e.kind = $3 AND e.status <> $4
		ORDER BY e.id
		LIMIT 1`, contractID, period.String(), kind, StatusCanceled)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// InsertEntry writes a new entry.
func (t *txRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	return insertEntry(ctx, t.tx, entry, "")
}

// --- Helpers ---

// EntryColumns is the select list read by CollectEntries. The entries table must be aliased e.
const EntryColumns = entryColumns

// CollectEntries drains rows selected with EntryColumns.
func CollectEntries(rows pgx.Rows) ([]Entry, error) {
	return collectEntries(rows)
}

func getContract(ctx context.Context, q querier, id int64, forUpdate bool) (Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM rental_contracts WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var (
		c           Contract
		agreed, fee pgtype.Numeric
		status      string
		historyRaw  []byte
	)
	err := q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Code, &c.PropertyID, &agreed, &fee, &status, &c.DueDay,
		&c.SellingBrokerID, &c.SignedAt, &c.TerminatedAt, &historyRaw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contract{}, ErrNotFound
	}
	if err != nil {
		return Contract{}, fmt.Errorf("ledger: get contract: %w", err)
	}
	c.AgreedValue = NumericToDecimal(agreed)
	c.FeePercent = NumericToDecimal(fee)
	c.Status = ContractStatus(status)
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &c.AdjustmentHistory); err != nil {
			return Contract{}, fmt.Errorf("ledger: decode adjustment history: %w", err)
		}
	}
	return c, nil
}

func insertEntry(ctx context.Context, q querier, entry Entry, conflict string) (Entry, error) {
	if entry.Metadata.Origin == "" {
		entry.Metadata.Origin = OriginManual
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	raw, err := json.Marshal(entry.Metadata)
	if err != nil {
		return Entry{}, err
	}
	var sourceID *int64
	if id := entry.Metadata.SourceEntryID(); id > 0 {
		sourceID = &id
	}
	var period *string
	if !entry.Metadata.BillingPeriod.IsZero() {
		s := entry.Metadata.BillingPeriod.String()
		period = &s
	}
	query := `
		INSERT INTO ledger_entries (
			kind, direction, module, status, description, amount, due_date, paid_date,
			contract_id, property_id, payee_profile_id, parent_entry_id,
			origin, billing_period, source_entry_id, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())` +
		conflict + `
		RETURNING id, created_at, updated_at`
	err = q.QueryRow(ctx, query,
		entry.Kind, entry.Direction, entry.Module, entry.Status, entry.Description, entry.Amount,
		entry.DueDate, entry.PaidDate, entry.ContractID, entry.PropertyID, entry.PayeeProfileID,
		entry.ParentEntryID, entry.Metadata.Origin, period, sourceID, raw,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return entry, nil
}

type entryRow struct {
	entry     Entry
	amount    pgtype.Numeric
	kind      string
	direction string
	module    string
	status    string
	origin    string
	period    *string
	metadata  []byte
}

func (r *entryRow) targets() []any {
	e := &r.entry
	return []any{
		&e.ID, &r.kind, &r.direction, &r.module, &r.status, &e.Description, &r.amount,
		&e.DueDate, &e.PaidDate, &e.ContractID, &e.PropertyID, &e.PayeeProfileID, &e.ParentEntryID,
		&r.origin, &r.period, &r.metadata, &e.CreatedAt, &e.UpdatedAt,
	}
}

func (r *entryRow) finish() (Entry, error) {
	e := r.entry
	e.Kind = Kind(r.kind)
	e.Direction = Direction(r.direction)
	e.Module = Module(r.module)
	e.Status = Status(r.status)
	e.Amount = NumericToDecimal(r.amount)
	if len(r.metadata) > 0 {
		if err := json.Unmarshal(r.metadata, &e.Metadata); err != nil {
			return Entry{}, fmt.Errorf("ledger: decode metadata of entry %d: %w", e.ID, err)
		}
	}
	// Columns are authoritative over the document copy.
	e.Metadata.Origin = Origin(r.origin)
	if r.period != nil {
		p, err := ParsePeriod(*r.period)
		if err != nil {
			return Entry{}, err
		}
		e.Metadata.BillingPeriod = p
	}
	return e, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var r entryRow
	if err := row.Scan(r.targets()...); err != nil {
		return Entry{}, err
	}
	return r.finish()
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func buildFilter(f ListFilter) (string, []any) {
	conds := []string{}
	args := []any{}
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("e.status = $%d", f.Status)
	}
	if f.Kind != "" {
		add("e.kind = $%d", f.Kind)
	}
	if f.Module != "" {
		add("e.module = $%d", f.Module)
	}
	if f.ContractID > 0 {
		add("e.contract_id = $%d", f.ContractID)
	}
	if f.PropertyID > 0 {
		add("COALESCE(e.property_id, c.property_id) = $%d", f.PropertyID)
	}
	if f.PayeeID > 0 {
		add("e.payee_profile_id = $%d", f.PayeeID)
	}
	if !f.From.IsZero() {
		add("e.due_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("e.due_date <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "\n\t\tWHERE " + strings.Join(conds, " AND "), args
}

// NumericToDecimal converts a scanned NUMERIC into a decimal. NULL becomes zero.
func NumericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
