package ledger

import (
	"sort"

	"lexledger/internal/core"
)

// Contribution is what one entry state adds to the aggregates: its amount,
// counted once in its case (if any) and once in its advocate's year.
type Contribution struct {
	Kind       core.EntryKind
	Cents      int64
	CaseID     *int64
	AdvocateID int64
	Year       int
}

// ContributionOf returns the contribution of e, or nil when e is nil.
func ContributionOf(e *core.LedgerEntry) *Contribution {
	if e == nil {
		return nil
	}
	return &Contribution{
		Kind:       e.Kind,
		Cents:      e.Amount.Cents,
		CaseID:     e.CaseID,
		AdvocateID: e.AdvocateID,
		Year:       e.OccurredOn.Year(),
	}
}

func (c *Contribution) scopes() []core.Scope {
	scopes := make([]core.Scope, 0, 2)
	if c.CaseID != nil {
		scopes = append(scopes, core.CaseScope(*c.CaseID))
	}
	return append(scopes, core.AdvocateYearScope(c.AdvocateID, c.Year))
}

// ScopedDelta is a delta bound for one aggregate row.
type ScopedDelta struct {
	Scope core.Scope
	Delta core.Delta
}

// ComputeDeltas returns the per-scope changes that turn the aggregates
// reflecting old into aggregates reflecting next. Either side may be nil
// (create, delete). Scopes whose delta nets to zero are omitted; the result
// is ordered by scope.
func ComputeDeltas(old, next *Contribution) []ScopedDelta {
	acc := make(map[core.Scope]core.Delta, 4)
	add := func(c *Contribution, sign int64) {
		if c == nil {
			return
		}
		for _, s := range c.scopes() {
			d := acc[s]
			if c.Kind == core.Income {
				d.Income += sign * c.Cents
			} else {
				d.Expenses += sign * c.Cents
			}
			acc[s] = d
		}
	}
	add(old, -1)
	add(next, +1)

	out := make([]ScopedDelta, 0, len(acc))
	for s, d := range acc {
		if d.IsZero() {
			continue
		}
		out = append(out, ScopedDelta{Scope: s, Delta: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope.Less(out[j].Scope) })
	return out
}
