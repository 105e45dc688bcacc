package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

// Event types published after ledger writes.
const (
	EventChargesCreated = "ledger.charges_created"
	EventRentAdjusted   = "ledger.rent_adjusted"
	EventEntryDerived   = "ledger.entry_derived"
	EventStatusChanged  = "ledger.status_changed"
	EventEntryUpdated   = "ledger.entry_updated"
)

// Event is the envelope written to the event stream.
type Event struct {
	Type       string    `json:"type"`
	EntryID    int64     `json:"entry_id,omitempty"`
	ContractID int64     `json:"contract_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// Key partitions events by contract when known, else by entry.
func (e Event) Key() string {
	if e.ContractID > 0 {
		return "contract-" + strconv.FormatInt(e.ContractID, 10)
	}
	return "entry-" + strconv.FormatInt(e.EntryID, 10)
}

// StatusChange is the payload of EventStatusChanged.
type StatusChange struct {
	From     Status     `json:"from"`
	To       Status     `json:"to"`
	PaidDate *time.Time `json:"paid_date,omitempty"`
}

// RentAdjustment is the payload of EventRentAdjusted.
type RentAdjustment struct {
	OldValue   decimal.Decimal `json:"old_value"`
	NewValue   decimal.Decimal `json:"new_value"`
	UpdatedIDs []int64         `json:"updated_ids"`
}

// Publisher delivers ledger events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// CacheInvalidator drops cached aggregates after a write.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Auditor records user-driven mutations. shared.AuditLogger satisfies it.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

type noopInvalidator struct{}

func (noopInvalidator) Bump(context.Context) error { return nil }

type noopAuditor struct{}

func (noopAuditor) Record(context.Context, shared.AuditLog) error { return nil }

// DeriveScheduler queues a background derivation run.
type DeriveScheduler interface {
	ScheduleDerive(ctx context.Context, trigger string) error
}

type noopScheduler struct{}

func (noopScheduler) ScheduleDerive(context.Context, string) error { return nil }
