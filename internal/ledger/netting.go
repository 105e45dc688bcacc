package ledger

import "github.com/shopspring/decimal"

// Signed returns the entry amount as a positive inflow or negative outflow.
func (e Entry) Signed() decimal.Decimal {
	if e.Direction == DirectionOutflow {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Net returns the parent amount corrected by its non-canceled children. Children pointing at
// another parent are ignored. Child amounts are signed by direction.
func Net(parent Entry, children []Entry) decimal.Decimal {
	total := parent.Amount
	for _, child := range children {
		if child.ParentEntryID == nil || *child.ParentEntryID != parent.ID {
			continue
		}
		if child.Status == StatusCanceled {
			continue
		}
		total = total.Add(child.Signed())
	}
	return total
}

// GroupChildren indexes children by parent id.
func GroupChildren(children []Entry) map[int64][]Entry {
	out := make(map[int64][]Entry)
	for _, child := range children {
		if child.ParentEntryID == nil {
			continue
		}
		out[*child.ParentEntryID] = append(out[*child.ParentEntryID], child)
	}
	return out
}

// ParentIDs collects entry ids for child lookups.
func ParentIDs(entries []Entry) []int64 {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}
