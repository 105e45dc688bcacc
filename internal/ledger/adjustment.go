package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rental-ledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// AdjustRentInput requests a new agreed rent value.
type AdjustRentInput struct {
	ContractID int64
	NewValue   decimal.Decimal
	// Percent is recorded in the history as supplied. When nil the change against the
	// current value is recorded.
	Percent    *decimal.Decimal
	Reason     string
}

// Validate ensures the adjustment request is well formed.
func (in AdjustRentInput) Validate() error {
	if in.ContractID <= 0 {
		return fmt.Errorf("%w: contract id required", ErrValidation)
	}
	if !in.NewValue.IsPositive() {
		return fmt.Errorf("%w: new value must be positive", ErrValidation)
	}
	return nil
}

// AdjustRentResult reports the new contract value and the entries that followed it.
type AdjustRentResult struct {
	ContractID int64              `json:"contract_id"`
	OldValue   decimal.Decimal    `json:"old_value"`
	NewValue   decimal.Decimal    `json:"new_value"`
	Percent    decimal.Decimal    `json:"percent"`
	History    []AdjustmentRecord `json:"history"`
	UpdatedIDs []int64            `json:"updated_ids"`
	SkippedIDs []int64            `json:"skipped_ids"`
}

// AdjustmentSummary is the current value and history of a contract.
type AdjustmentSummary struct {
	ContractID   int64              `json:"contract_id"`
	Code         string             `json:"code"`
	Status       ContractStatus     `json:"status"`
	CurrentValue decimal.Decimal    `json:"current_value"`
	History      []AdjustmentRecord `json:"history"`
}

// AdjustmentHistory returns the contract value and its adjustment history.
func (s *Service) AdjustmentHistory(ctx context.Context, contractID int64) (AdjustmentSummary, error) {
	contract, err := s.repo.GetContract(ctx, contractID)
	if err != nil {
		return AdjustmentSummary{}, err
	}
	history := contract.AdjustmentHistory
	if history == nil {
		history = []AdjustmentRecord{}
	}
	return AdjustmentSummary{
		ContractID:   contract.ID,
		Code:         contract.Code,
		Status:       contract.Status,
		CurrentValue: contract.AgreedValue,
		History:      history,
	}, nil
}

// AdjustRent records a new agreed value and propagates it to pending rent charges billed after
// the current month. The contract update is atomic; entry updates are applied one by one and a
// failure stops the run with a *PartialProgressError. Re-running converges because entries
// already at the new value are skipped.
func (s *Service) AdjustRent(ctx context.Context, in AdjustRentInput) (AdjustRentResult, error) {
	if err := in.Validate(); err != nil {
		return AdjustRentResult{}, err
	}
	actor := shared.ActorFromContext(ctx)
	newValue := in.NewValue.Round(2)
	now := s.now()

	result := AdjustRentResult{ContractID: in.ContractID, NewValue: newValue}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		contract, err := tx.LockContract(ctx, in.ContractID)
		if err != nil {
			return err
		}
		if contract.Status == ContractTerminated {
			return fmt.Errorf("%w: contract %s is terminated", ErrNotEligible, contract.Code)
		}
		if !contract.AgreedValue.IsPositive() {
			return fmt.Errorf("%w: contract %s has no current value", ErrValidation, contract.Code)
		}
		if contract.AgreedValue.Equal(newValue) {
			return ErrNoChange
		}
		percent := newValue.Sub(contract.AgreedValue).Div(contract.AgreedValue).Mul(hundred).Round(2)
		if in.Percent != nil {
			percent = in.Percent.Round(2)
		}
		history := append(append([]AdjustmentRecord(nil), contract.AdjustmentHistory...), AdjustmentRecord{
			OldValue:  contract.AgreedValue,
			NewValue:  newValue,
			Percent:   &percent,
			Actor:     actor,
			Timestamp: now,
		})
		if err := tx.SaveContractValue(ctx, contract.ID, newValue, history); err != nil {
			return err
		}
		result.OldValue = contract.AgreedValue
		result.Percent = percent
		result.History = history
		return nil
	})
	if err != nil {
		return AdjustRentResult{}, err
	}

	s.record(ctx, "rental.rent_adjust", "rental_contract", in.ContractID, map[string]any{
		"old_value": result.OldValue.StringFixed(2),
		"new_value": newValue.StringFixed(2),
		"percent":   result.Percent.StringFixed(2),
	})

	updated, skipped, err := s.propagate(ctx, in.ContractID, newValue, firstNonEmpty(in.Reason, "reajuste"))
	result.UpdatedIDs = updated
	result.SkippedIDs = skipped
	s.afterWrite(ctx, Event{
		Type:       EventRentAdjusted,
		ContractID: in.ContractID,
		Actor:      actor,
		Payload:    RentAdjustment{OldValue: result.OldValue, NewValue: newValue, UpdatedIDs: updated},
	})
	if err != nil {
		return result, err
	}
	s.logger.Info("rent adjusted",
		slog.Int64("contract_id", in.ContractID),
		slog.String("new_value", newValue.StringFixed(2)),
		slog.Int("updated", len(updated)))
	return result, nil
}

// RetryPropagation re-applies the current agreed value to pending future rent charges without
// touching the contract. It finishes a run that stopped with a *PartialProgressError.
func (s *Service) RetryPropagation(ctx context.Context, contractID int64, reason string) (AdjustRentResult, error) {
	if contractID <= 0 {
		return AdjustRentResult{}, fmt.Errorf("%w: contract id required", ErrValidation)
	}
	contract, err := s.repo.GetContract(ctx, contractID)
	if err != nil {
		return AdjustRentResult{}, err
	}
	if contract.Status == ContractTerminated {
		return AdjustRentResult{}, fmt.Errorf("%w: contract %s is terminated", ErrNotEligible, contract.Code)
	}
	if !contract.AgreedValue.IsPositive() {
		return AdjustRentResult{}, fmt.Errorf("%w: contract %s has no current value", ErrValidation, contract.Code)
	}
	result := AdjustRentResult{
		ContractID: contract.ID,
		OldValue:   contract.AgreedValue,
		NewValue:   contract.AgreedValue,
		Percent:    decimal.Zero,
		History:    contract.AdjustmentHistory,
	}
	updated, skipped, err := s.propagate(ctx, contract.ID, contract.AgreedValue, firstNonEmpty(reason, "reajuste"))
	result.UpdatedIDs = updated
	result.SkippedIDs = skipped
	if len(updated) > 0 {
		s.afterWrite(ctx, Event{
			Type:       EventRentAdjusted,
			ContractID: contract.ID,
			Actor:      shared.ActorFromContext(ctx),
			Payload:    RentAdjustment{OldValue: contract.AgreedValue, NewValue: contract.AgreedValue, UpdatedIDs: updated},
		})
	}
	return result, err
}

// propagate overwrites pending rent entries of future periods with value.
func (s *Service) propagate(ctx context.Context, contractID int64, value decimal.Decimal, reason string) ([]int64, []int64, error) {
	updated := []int64{}
	skipped := []int64{}
	current := PeriodOf(s.now().In(s.loc))
	entries, err := s.repo.ListPendingRentAfter(ctx, contractID, current)
	if err != nil {
		return updated, skipped, &PartialProgressError{ContractID: contractID, UpdatedIDs: updated, Err: err}
	}
	actor := shared.ActorFromContext(ctx)
	for i := range entries {
		entry := entries[i]
		if entry.Amount.Equal(value) {
			skipped = append(skipped, entry.ID)
			continue
		}
		if err := s.governor.Authorize(&entry, Mutation{Action: ActionPropagate}); err != nil {
			skipped = append(skipped, entry.ID)
			continue
		}
		meta := entry.Metadata
		meta.Adjustments = append(append([]AmountAdjustment(nil), meta.Adjustments...), AmountAdjustment{
			Previous:  entry.Amount,
			Next:      value,
			Actor:     actor,
			Timestamp: s.now(),
			Reason:    strings.TrimSpace(reason),
		})
		ok, err := s.repo.UpdateEntryAmount(ctx, entry.ID, value, meta)
		if err != nil {
			s.logger.Error("propagate rent adjustment",
				slog.Int64("contract_id", contractID),
				slog.Int64("entry_id", entry.ID),
				slog.Any("error", err))
			return updated, skipped, &PartialProgressError{
				ContractID:    contractID,
				UpdatedIDs:    updated,
				FailedEntryID: entry.ID,
				Err:           err,
			}
		}
		if !ok {
			// Settled or canceled between the scan and the write.
			skipped = append(skipped, entry.ID)
			continue
		}
		updated = append(updated, entry.ID)
	}
	return updated, skipped, nil
}

// IsPartialProgress reports whether err is a propagation that stopped midway.
func IsPartialProgress(err error) bool {
	var perr *PartialProgressError
	return errors.As(err, &perr)
}
