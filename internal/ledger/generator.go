package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

const (
	defaultDueDay   = 10
	maxDueDay       = 28
	minInstallments = 2
	maxInstallments = 120
)

// CreateChargeInput requests charges for a contract.
type CreateChargeInput struct {
	ContractID       int64
	Kind             Kind
	Direction        Direction
	Module           Module
	Description      string
	Amount           decimal.Decimal
	BillingPeriod    Period
	Recurrence       Recurrence
	InstallmentCount int
	SplitDivide      bool
	SplitFull        bool
	PayeeProfileID   *int64
}

// Validate ensures the charge request is consistent.
func (in CreateChargeInput) Validate() error {
	if in.ContractID <= 0 {
		return fmt.Errorf("%w: contract id required", ErrValidation)
	}
	if !in.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, in.Kind)
	}
	if !in.Direction.IsValid() {
		return fmt.Errorf("%w: unknown direction %q", ErrValidation, in.Direction)
	}
	if in.Module != "" && !in.Module.IsValid() {
		return fmt.Errorf("%w: unknown module %q", ErrValidation, in.Module)
	}
	if len(strings.TrimSpace(in.Description)) < 2 {
		return fmt.Errorf("%w: description must have at least 2 characters", ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if in.BillingPeriod.IsZero() {
		return fmt.Errorf("%w: billing period required", ErrValidation)
	}
	switch in.Recurrence {
	case "", RecurrenceSingle, RecurrenceStanding:
	case RecurrenceInstallments:
		if in.InstallmentCount < minInstallments || in.InstallmentCount > maxInstallments {
			return fmt.Errorf("%w: installment count must be between %d and %d", ErrInvalidParameters, minInstallments, maxInstallments)
		}
		if in.SplitDivide == in.SplitFull {
			return fmt.Errorf("%w: choose exactly one split policy", ErrInvalidParameters)
		}
	default:
		return fmt.Errorf("%w: unknown recurrence %q", ErrValidation, in.Recurrence)
	}
	return nil
}

// ChargeResult lists the entries a request produced.
type ChargeResult struct {
	Entries []Entry `json:"entries"`
	Count   int     `json:"count"`
}

// CreateCharges inserts the entries of a charge request in one transaction.
func (s *Service) CreateCharges(ctx context.Context, in CreateChargeInput) (ChargeResult, error) {
	if err := in.Validate(); err != nil {
		return ChargeResult{}, err
	}
	contract, err := s.repo.GetContract(ctx, in.ContractID)
	if err != nil {
		return ChargeResult{}, err
	}
	if !contract.Status.CanCharge() {
		return ChargeResult{}, fmt.Errorf("%w: contract %s is %s", ErrNotEligible, contract.Code, contract.Status)
	}

	planned := s.planCharges(in, contract)
	created := make([]Entry, 0, len(planned))
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created = created[:0]
		for _, entry := range planned {
			if entry.Kind.IsCorrection() {
				parent, err := tx.FindEntry(ctx, contract.ID, entry.Metadata.BillingPeriod, KindRent)
				if err != nil {
					return fmt.Errorf("find rent entry: %w", err)
				}
				if parent != nil {
					id := parent.ID
					entry.ParentEntryID = &id
				}
			}
			saved, err := tx.InsertEntry(ctx, entry)
			if err != nil {
				return fmt.Errorf("insert entry: %w", err)
			}
			created = append(created, saved)
		}
		return nil
	})
	if err != nil {
		return ChargeResult{}, err
	}

	ids := make([]int64, 0, len(created))
	for _, e := range created {
		ids = append(ids, e.ID)
	}
	s.logger.Info("charges created",
		slog.Int64("contract_id", contract.ID),
		slog.String("kind", string(in.Kind)),
		slog.Int("count", len(created)))
	s.afterWrite(ctx, Event{
		Type:       EventChargesCreated,
		ContractID: contract.ID,
		Actor:      shared.ActorFromContext(ctx),
		Payload:    map[string]any{"entry_ids": ids},
	})
	return ChargeResult{Entries: created, Count: len(created)}, nil
}

// planCharges expands a request into unsaved entries.
func (s *Service) planCharges(in CreateChargeInput, contract Contract) []Entry {
	module := in.Module
	if module == "" {
		module = ModuleRental
	}
	dueDay := contract.DueDay
	if dueDay <= 0 {
		dueDay = defaultDueDay
	}
	if dueDay > maxDueDay {
		dueDay = maxDueDay
	}
	propertyID := contract.PropertyID
	contractID := contract.ID
	description := strings.TrimSpace(in.Description)

	base := func(period Period, amount decimal.Decimal) Entry {
		return Entry{
			Kind:           in.Kind,
			Direction:      in.Direction,
			Module:         module,
			Status:         StatusPending,
			Description:    description,
			Amount:         amount,
			DueDate:        period.Date(dueDay, s.loc),
			ContractID:     &contractID,
			PropertyID:     &propertyID,
			PayeeProfileID: in.PayeeProfileID,
			Metadata: Metadata{
				Origin:        OriginManual,
				BillingPeriod: period,
			},
		}
	}

	if in.Recurrence != RecurrenceInstallments {
		entry := base(in.BillingPeriod, in.Amount.Round(2))
		entry.Metadata.Recurring = in.Recurrence == RecurrenceStanding
		return []Entry{entry}
	}

	policy := SplitFull
	if in.SplitDivide {
		policy = SplitDivide
	}
	amounts := splitAmounts(in.Amount, in.InstallmentCount, policy)
	group := uuid.New()
	out := make([]Entry, 0, in.InstallmentCount)
	for i, amount := range amounts {
		entry := base(in.BillingPeriod.AddMonths(i), amount)
		entry.Description = fmt.Sprintf("%s (%d/%d)", description, i+1, in.InstallmentCount)
		entry.Metadata.Installment = &Installment{
			GroupID:  group,
			Sequence: i + 1,
			Count:    in.InstallmentCount,
			Policy:   policy,
		}
		out = append(out, entry)
	}
	return out
}

// splitAmounts spreads total over count installments. Divide truncates each share to cents and
// puts the remainder on the first installment; full repeats the total.
func splitAmounts(total decimal.Decimal, count int, policy SplitPolicy) []decimal.Decimal {
	total = total.Round(2)
	out := make([]decimal.Decimal, count)
	if policy == SplitFull {
		for i := range out {
			out[i] = total
		}
		return out
	}
	share := total.Div(decimal.NewFromInt(int64(count))).Truncate(2)
	remainder := total.Sub(share.Mul(decimal.NewFromInt(int64(count))))
	for i := range out {
		out[i] = share
	}
	out[0] = share.Add(remainder)
	return out
}
