package ledger

import "fmt"

// Action is the kind of mutation being attempted on an entry.
type Action string

const (
	// ActionTransition changes the status on behalf of a user.
	ActionTransition Action = "transition"
	// ActionSweep changes the status on behalf of the overdue sweep.
	ActionSweep Action = "sweep"
	// ActionEdit changes descriptive or money fields on behalf of a user.
	ActionEdit Action = "edit"
	// ActionPropagate overwrites the amount during a rent adjustment.
	ActionPropagate Action = "propagate"
)

// Mutation describes an attempted change.
type Mutation struct {
	Action Action
	Target Status
}

// Governor holds the lifecycle rules. Every mutation path asks it before writing.
type Governor struct{}

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusOverdue, StatusCanceled},
	StatusOverdue: {StatusPaid, StatusCanceled},
}

// CanTransition reports whether the status change is part of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Authorize returns nil when the mutation is legal, or a *GovernanceError naming the rule.
func (Governor) Authorize(entry *Entry, m Mutation) error {
	if entry == nil || entry.ID == 0 {
		return &GovernanceError{Reason: ReasonNotFound}
	}
	if entry.Status == StatusPaid {
		return &GovernanceError{EntryID: entry.ID, Reason: ReasonImmutablePaid}
	}
	if entry.Status == StatusCanceled {
		return &GovernanceError{EntryID: entry.ID, Reason: ReasonTerminalCanceled}
	}

	switch m.Action {
	case ActionEdit:
		return nil
	case ActionPropagate:
		if entry.Status != StatusPending {
			return &GovernanceError{EntryID: entry.ID, Reason: ReasonInvalidTransition, Detail: "only pending entries follow adjustments"}
		}
		return nil
	case ActionSweep:
		if m.Target != StatusOverdue || entry.Status != StatusPending || entry.Direction != DirectionOutflow {
			return &GovernanceError{EntryID: entry.ID, Reason: ReasonInvalidTransition, Detail: "sweep only marks pending outflows overdue"}
		}
		return nil
	case ActionTransition:
		if m.Target == StatusOverdue {
			return &GovernanceError{EntryID: entry.ID, Reason: ReasonInvalidTransition, Detail: "overdue is set by the sweep"}
		}
		if m.Target == StatusCanceled && entry.IsAutomatic() {
			return &GovernanceError{EntryID: entry.ID, Reason: ReasonAutomaticProtected}
		}
		if !CanTransition(entry.Status, m.Target) {
			return &GovernanceError{
				EntryID: entry.ID,
				Reason:  ReasonInvalidTransition,
				Detail:  fmt.Sprintf("%s -> %s", entry.Status, m.Target),
			}
		}
		return nil
	default:
		return &GovernanceError{EntryID: entry.ID, Reason: ReasonInvalidTransition, Detail: "unknown action"}
	}
}
