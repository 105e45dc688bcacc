package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindRent             Kind = "rent"
	KindAdminFee         Kind = "admin_fee"
	KindContractFee      Kind = "contract_fee"
	KindOwnerPayout      Kind = "owner_payout"
	KindBrokerCommission Kind = "broker_commission"
	KindSale             Kind = "sale"
	KindMaintenance      Kind = "maintenance"
	KindTax              Kind = "tax"
	KindPenalty          Kind = "penalty"
	KindInterest         Kind = "interest"
	KindDiscount         Kind = "discount"
	KindCondoFee         Kind = "condo_fee"
	KindInsurance        Kind = "insurance"
	KindOther            Kind = "other"
)

// IsValid reports whether the kind belongs to the closed enumeration.
func (k Kind) IsValid() bool {
	switch k {
	case KindRent, KindAdminFee, KindContractFee, KindOwnerPayout, KindBrokerCommission,
		KindSale, KindMaintenance, KindTax, KindPenalty, KindInterest, KindDiscount,
		KindCondoFee, KindInsurance, KindOther:
		return true
	default:
		return false
	}
}

// IsCorrection reports whether entries of this kind adjust a rent charge of the same period.
func (k Kind) IsCorrection() bool {
	switch k {
	case KindPenalty, KindInterest, KindDiscount, KindMaintenance, KindOther:
		return true
	default:
		return false
	}
}

// IsDerived reports whether the kind is only ever produced by the derivation engine.
func (k Kind) IsDerived() bool {
	return k == KindOwnerPayout || k == KindBrokerCommission
}

// Direction tells whether money comes in or goes out.
type Direction string

const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
)

// IsValid reports whether the direction is known.
func (d Direction) IsValid() bool {
	return d == DirectionInflow || d == DirectionOutflow
}

// Module identifies the business line owning an entry.
type Module string

const (
	ModuleRental  Module = "RENTAL"
	ModuleGeneral Module = "GENERAL"
)

// IsValid reports whether the module is known.
func (m Module) IsValid() bool {
	return m == ModuleRental || m == ModuleGeneral
}

// Status enumerates the entry lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusOverdue  Status = "overdue"
	StatusCanceled Status = "canceled"
)

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusOverdue, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the entry still awaits settlement.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusOverdue
}

// Origin records how an entry was created.
type Origin string

const (
	OriginManual    Origin = "manual"
	OriginAutomatic Origin = "automatic"
)

// SplitPolicy decides how an installment total is spread.
type SplitPolicy string

const (
	SplitDivide SplitPolicy = "divide"
	SplitFull   SplitPolicy = "full"
)

// Recurrence selects how many entries a charge request produces.
type Recurrence string

const (
	RecurrenceSingle       Recurrence = "single"
	RecurrenceStanding     Recurrence = "standing"
	RecurrenceInstallments Recurrence = "installments"
)

// Installment groups the entries produced by one installment request.
type Installment struct {
	GroupID  uuid.UUID   `json:"group_id"`
	Sequence int         `json:"sequence"`
	Count    int         `json:"count"`
	Policy   SplitPolicy `json:"policy"`
}

// Derivation is the audit attached to automatic entries.
type Derivation struct {
	SourceEntryID int64            `json:"source_entry_id"`
	Role          string           `json:"role,omitempty"`
	SharePercent  *decimal.Decimal `json:"share_percent,omitempty"`
	FeePercent    *decimal.Decimal `json:"fee_percent,omitempty"`
	BaseValue     *decimal.Decimal `json:"base_value,omitempty"`
	Fee           *decimal.Decimal `json:"fee,omitempty"`
	TotalPaid     *decimal.Decimal `json:"total_paid,omitempty"`
}

// AmountAdjustment is one step of an entry's amount trail.
type AmountAdjustment struct {
	Previous  decimal.Decimal `json:"valor_anterior"`
	Next      decimal.Decimal `json:"valor_novo"`
	Actor     string          `json:"actor"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
}

// Metadata is the typed document stored alongside every entry. Sections are optional and
// only the ones relevant to the entry kind are filled.
type Metadata struct {
	Origin        Origin             `json:"origin"`
	BillingPeriod Period             `json:"billing_period"`
	Recurring     bool               `json:"recurring,omitempty"`
	Installment   *Installment       `json:"installment,omitempty"`
	Derivation    *Derivation        `json:"derivation,omitempty"`
	Adjustments   []AmountAdjustment `json:"adjustments,omitempty"`
}

// SourceEntryID returns the revenue entry that caused an automatic entry.
func (m Metadata) SourceEntryID() int64 {
	if m.Derivation == nil {
		return 0
	}
	return m.Derivation.SourceEntryID
}

// Entry is a single financial record.
type Entry struct {
	ID             int64           `json:"id"`
	Kind           Kind            `json:"kind"`
	Direction      Direction       `json:"direction"`
	Module         Module          `json:"module"`
	Status         Status          `json:"status"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	DueDate        time.Time       `json:"due_date"`
	PaidDate       *time.Time      `json:"paid_date,omitempty"`
	ContractID     *int64          `json:"contract_id,omitempty"`
	PropertyID     *int64          `json:"property_id,omitempty"`
	PayeeProfileID *int64          `json:"payee_profile_id,omitempty"`
	ParentEntryID  *int64          `json:"parent_entry_id,omitempty"`
	Metadata       Metadata        `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsAutomatic reports whether the derivation engine created the entry.
func (e Entry) IsAutomatic() bool {
	return e.Metadata.Origin == OriginAutomatic
}

// ContractStatus enumerates lease states.
type ContractStatus string

const (
	ContractDraft             ContractStatus = "draft"
	ContractActive            ContractStatus = "active"
	ContractPendingAdjustment ContractStatus = "pending_adjustment"
	ContractPendingRenewal    ContractStatus = "pending_renewal"
	ContractTerminated        ContractStatus = "terminated"
)

// CanCharge reports whether charges may be generated for the contract.
func (s ContractStatus) CanCharge() bool {
	return s == ContractActive || s == ContractPendingAdjustment || s == ContractPendingRenewal
}

// AdjustmentRecord is one append-only entry of a contract's rent history.
type AdjustmentRecord struct {
	OldValue  decimal.Decimal  `json:"old_value"`
	NewValue  decimal.Decimal  `json:"new_value"`
	Percent   *decimal.Decimal `json:"percent,omitempty"`
	Actor     string           `json:"actor"`
	Timestamp time.Time        `json:"timestamp"`
}

// Contract is the lease agreement as seen by the ledger.
type Contract struct {
	ID                int64              `json:"id"`
	Code              string             `json:"code"`
	PropertyID        int64              `json:"property_id"`
	AgreedValue       decimal.Decimal    `json:"agreed_value"`
	FeePercent        decimal.Decimal    `json:"fee_percent"`
	Status            ContractStatus     `json:"status"`
	DueDay            int                `json:"due_day"`
	SellingBrokerID   *int64             `json:"selling_broker_id,omitempty"`
	SignedAt          *time.Time         `json:"signed_at,omitempty"`
	TerminatedAt      *time.Time         `json:"terminated_at,omitempty"`
	AdjustmentHistory []AdjustmentRecord `json:"adjustment_history"`
}

// Property is the read-only collaborator record.
type Property struct {
	ID              int64
	Title           string
	OwnerProfileID  *int64
	CaptureBrokerID *int64
}

// EntryView is an entry enriched for listings.
type EntryView struct {
	Entry
	ContractCode  string `json:"contract_code,omitempty"`
	PropertyTitle string `json:"property_title,omitempty"`
	PayeeName     string `json:"payee_name,omitempty"`
}

// ListFilter narrows entry listings.
type ListFilter struct {
	Status     Status
	Kind       Kind
	Module     Module
	ContractID int64
	PropertyID int64
	PayeeID    int64
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Listing is the result of ListEntries.
type Listing struct {
	Entries      []EntryView     `json:"entries"`
	PaidTotal    decimal.Decimal `json:"paid_total"`
	PendingTotal decimal.Decimal `json:"pending_total"`
	Count        int             `json:"count"`
}
