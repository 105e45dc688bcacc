package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// CreateChargeRequest is the body of POST /rental/contracts/{id}/charges.
type CreateChargeRequest struct {
	Kind             string          `json:"kind" validate:"required"`
	Direction        string          `json:"direction" validate:"required,oneof=inflow outflow"`
	Module           string          `json:"module,omitempty" validate:"omitempty,oneof=RENTAL GENERAL"`
	Description      string          `json:"description" validate:"required,min=2,max=255"`
	Amount           decimal.Decimal `json:"amount"`
	BillingPeriod    string          `json:"billing_period" validate:"required"`
	Recurrence       string          `json:"recurrence,omitempty" validate:"omitempty,oneof=single standing installments"`
	InstallmentCount int             `json:"installment_count,omitempty" validate:"gte=0"`
	SplitDivide      bool            `json:"split_divide,omitempty"`
	SplitFull        bool            `json:"split_full,omitempty"`
	PayeeProfileID   *int64          `json:"payee_profile_id,omitempty" validate:"omitempty,gt=0"`
}

// ToInput converts the request for the service.
func (r CreateChargeRequest) ToInput(contractID int64) (CreateChargeInput, error) {
	period, err := ParsePeriod(r.BillingPeriod)
	if err != nil {
		return CreateChargeInput{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return CreateChargeInput{
		ContractID:       contractID,
		Kind:             Kind(r.Kind),
		Direction:        Direction(r.Direction),
		Module:           Module(r.Module),
		Description:      r.Description,
		Amount:           r.Amount,
		BillingPeriod:    period,
		Recurrence:       Recurrence(r.Recurrence),
		InstallmentCount: r.InstallmentCount,
		SplitDivide:      r.SplitDivide,
		SplitFull:        r.SplitFull,
		PayeeProfileID:   r.PayeeProfileID,
	}, nil
}

// AdjustRentRequest is the body of POST /rental/contracts/{id}/adjustment.
type AdjustRentRequest struct {
	NewValue decimal.Decimal  `json:"new_value"`
	Percent  *decimal.Decimal `json:"percent,omitempty"`
	Reason   string           `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// ChangeStatusRequest is the body of PATCH /ledger/entries/{id}/status.
type ChangeStatusRequest struct {
	Status   string `json:"status" validate:"required,oneof=pending paid overdue canceled"`
	PaidDate string `json:"paid_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ToInput converts the request for the service, reading dates in loc.
func (r ChangeStatusRequest) ToInput(id int64, loc *time.Location) (ChangeStatusInput, error) {
	in := ChangeStatusInput{ID: id, Status: Status(r.Status)}
	if r.PaidDate != "" {
		d, err := time.ParseInLocation(dateLayout, r.PaidDate, loc)
		if err != nil {
			return ChangeStatusInput{}, fmt.Errorf("%w: paid_date: %v", ErrValidation, err)
		}
		in.PaidDate = &d
	}
	return in, nil
}

// UpdateEntryRequest is the body of PATCH /ledger/entries/{id}.
type UpdateEntryRequest struct {
	Description *string          `json:"description,omitempty" validate:"omitempty,min=2,max=255"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	DueDate     *string          `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Reason      string           `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// ToInput converts the request for the service, reading dates in loc.
func (r UpdateEntryRequest) ToInput(id int64, loc *time.Location) (UpdateEntryInput, error) {
	in := UpdateEntryInput{ID: id, Description: r.Description, Amount: r.Amount, Reason: r.Reason}
	if r.DueDate != nil {
		d, err := time.ParseInLocation(dateLayout, *r.DueDate, loc)
		if err != nil {
			return UpdateEntryInput{}, fmt.Errorf("%w: due_date: %v", ErrValidation, err)
		}
		in.DueDate = &d
	}
	return in, nil
}
