package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines persistence for ledger entries and the contract fields the ledger owns.
type Repository interface {
	GetContract(ctx context.Context, id int64) (Contract, error)
	GetProperty(ctx context.Context, id int64) (Property, error)
	GetEntry(ctx context.Context, id int64) (Entry, error)

	// WithTx runs fn inside a single transaction.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	// ListPendingRentAfter returns pending rent entries of a contract billed after the period.
	ListPendingRentAfter(ctx context.Context, contractID int64, after Period) ([]Entry, error)
	// UpdateEntryAmount overwrites amount and metadata of a still pending entry.
	UpdateEntryAmount(ctx context.Context, id int64, amount decimal.Decimal, meta Metadata) (bool, error)

	// ListPaidEntries returns paid entries of the kind and module. When excludeDerived is set
	// entries already referenced by an automatic entry of that kind are left out.
	ListPaidEntries(ctx context.Context, kind Kind, module Module, excludeDerived Kind) ([]Entry, error)
	ListChildren(ctx context.Context, parentIDs []int64) ([]Entry, error)
	ExistsAutomatic(ctx context.Context, sourceID int64, kind Kind, payeeID int64) (bool, error)
	// InsertAutomatic inserts a derived entry unless its idempotency key already exists.
	InsertAutomatic(ctx context.Context, entry Entry) (Entry, bool, error)

	ListOverdueCandidates(ctx context.Context, before time.Time) ([]Entry, error)
	UpdateEntryStatus(ctx context.Context, id int64, from, to Status, paidDate *time.Time) (bool, error)
	UpdateEntryFields(ctx context.Context, id int64, patch EntryPatch) (Entry, error)

	ListEntries(ctx context.Context, filter ListFilter) ([]EntryView, error)
	SumEntries(ctx context.Context, filter ListFilter) (paid, pending decimal.Decimal, err error)
}

// TxRepository exposes transactional writes.
type TxRepository interface {
	LockContract(ctx context.Context, id int64) (Contract, error)
	SaveContractValue(ctx context.Context, id int64, value decimal.Decimal, history []AdjustmentRecord) error
	FindEntry(ctx context.Context, contractID int64, period Period, kind Kind) (*Entry, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
}

// EntryPatch carries the editable fields of an entry.
type EntryPatch struct {
	Description *string
	Amount      *decimal.Decimal
	DueDate     *time.Time
	// Metadata replaces the stored document, carrying the amount trail of an edit.
	Metadata *Metadata
}

// IsEmpty reports whether the patch changes nothing.
func (p EntryPatch) IsEmpty() bool {
	return p.Description == nil && p.Amount == nil && p.DueDate == nil
}
