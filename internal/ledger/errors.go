package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Domain errors for the rental ledger.
var (
	// ErrNotFound indicates the contract or entry does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrNotEligible indicates the contract status does not allow the operation.
	ErrNotEligible = errors.New("ledger: contract not eligible")
	// ErrInvalidParameters indicates inconsistent recurrence parameters.
	ErrInvalidParameters = errors.New("ledger: invalid parameters")
	// ErrNoChange indicates an adjustment to the value already in force.
	ErrNoChange = errors.New("ledger: new value equals current value")
)

// Reason names the governance rule a mutation violated.
type Reason string

const (
	ReasonImmutablePaid      Reason = "immutable_paid"
	ReasonAutomaticProtected Reason = "automatic_protected"
	ReasonNotFound           Reason = "not_found"
	ReasonInvalidTransition  Reason = "invalid_transition"
	ReasonTerminalCanceled   Reason = "terminal_canceled"
)

// GovernanceError reports a mutation rejected by the governor.
type GovernanceError struct {
	EntryID int64
	Reason  Reason
	Detail  string
}

func (e *GovernanceError) Error() string {
	msg := fmt.Sprintf("ledger: entry %d: %s", e.EntryID, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is lets errors.Is(err, ErrNotFound) match not-found governance rejections.
func (e *GovernanceError) Is(target error) bool {
	return target == ErrNotFound && e.Reason == ReasonNotFound
}

// ReasonOf extracts the governance reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var gerr *GovernanceError
	if errors.As(err, &gerr) {
		return gerr.Reason, true
	}
	return "", false
}

// PartialProgressError reports a propagation that stopped after updating some entries.
type PartialProgressError struct {
	ContractID    int64
	UpdatedIDs    []int64
	FailedEntryID int64
	Err           error
}

func (e *PartialProgressError) Error() string {
	ids := make([]string, 0, len(e.UpdatedIDs))
	for _, id := range e.UpdatedIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return fmt.Sprintf("ledger: contract %d: propagation stopped at entry %d (updated [%s]): %v",
		e.ContractID, e.FailedEntryID, strings.Join(ids, ","), e.Err)
}

func (e *PartialProgressError) Unwrap() error {
	return e.Err
}
