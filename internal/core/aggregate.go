package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ScopeKind string

const (
	ScopeCase         ScopeKind = "case"
	ScopeAdvocateYear ScopeKind = "advocate_year"
)

// Scope identifies one aggregate row: a case, or an advocate in a year.
// Scope is comparable and usable as a map key.
type Scope struct {
	Kind       ScopeKind
	CaseID     int64
	AdvocateID int64
	Year       int
}

func CaseScope(caseID int64) Scope {
	return Scope{Kind: ScopeCase, CaseID: caseID}
}

func AdvocateYearScope(advocateID int64, year int) Scope {
	return Scope{Kind: ScopeAdvocateYear, AdvocateID: advocateID, Year: year}
}

func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeCase:
		if s.CaseID <= 0 {
			return &ValidationError{Field: "case_id", Err: ErrInvalidCaseID}
		}
	case ScopeAdvocateYear:
		if s.AdvocateID <= 0 {
			return &ValidationError{Field: "advocate_id", Err: ErrInvalidAdvocate}
		}
		if s.Year < 1900 || s.Year > 9999 {
			return &ValidationError{Field: "year", Err: ErrInvalidYear}
		}
	default:
		return &ValidationError{Field: "scope", Err: ErrUnknownScopeKind}
	}
	return nil
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeCase:
		return fmt.Sprintf("case:%d", s.CaseID)
	case ScopeAdvocateYear:
		return fmt.Sprintf("advocate:%d/%d", s.AdvocateID, s.Year)
	}
	return "scope:unknown"
}

// ParseScope is the inverse of Scope.String. The parsed scope is validated.
func ParseScope(s string) (Scope, error) {
	var scope Scope
	switch {
	case strings.HasPrefix(s, "case:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(s, "case:"), 10, 64)
		if err != nil {
			return Scope{}, &ValidationError{Field: "case_id", Err: ErrInvalidCaseID}
		}
		scope = CaseScope(id)
	case strings.HasPrefix(s, "advocate:"):
		advocate, year, ok := strings.Cut(strings.TrimPrefix(s, "advocate:"), "/")
		if !ok {
			return Scope{}, &ValidationError{Field: "scope", Err: ErrUnknownScopeKind}
		}
		id, err := strconv.ParseInt(advocate, 10, 64)
		if err != nil {
			return Scope{}, &ValidationError{Field: "advocate_id", Err: ErrInvalidAdvocate}
		}
		y, err := strconv.Atoi(year)
		if err != nil {
			return Scope{}, &ValidationError{Field: "year", Err: ErrInvalidYear}
		}
		scope = AdvocateYearScope(id, y)
	default:
		return Scope{}, &ValidationError{Field: "scope", Err: ErrUnknownScopeKind}
	}
	if err := scope.Validate(); err != nil {
		return Scope{}, err
	}
	return scope, nil
}

// Less orders case scopes before advocate-year scopes, then by id and year.
func (s Scope) Less(o Scope) bool {
	if s.Kind != o.Kind {
		return s.Kind == ScopeCase
	}
	if s.CaseID != o.CaseID {
		return s.CaseID < o.CaseID
	}
	if s.AdvocateID != o.AdvocateID {
		return s.AdvocateID < o.AdvocateID
	}
	return s.Year < o.Year
}

// Delta is a signed change to an aggregate row. When Absolute is set the
// row is overwritten with Income and Expenses instead of incremented.
type Delta struct {
	Income   int64
	Expenses int64
	Absolute bool
}

func (d Delta) IsZero() bool {
	return !d.Absolute && d.Income == 0 && d.Expenses == 0
}

// Totals is the income/expenses/profit triple held by every aggregate.
type Totals struct {
	Income   Money
	Expenses Money
	Profit   Money
}

// NewTotals derives profit from income and expenses.
func NewTotals(incomeCents, expensesCents int64) Totals {
	return Totals{
		Income:   Money{Cents: incomeCents},
		Expenses: Money{Cents: expensesCents},
		Profit:   Money{Cents: incomeCents - expensesCents},
	}
}

// Consistent reports whether Profit == Income - Expenses.
func (t Totals) Consistent() bool {
	return t.Profit.Cents == t.Income.Cents-t.Expenses.Cents
}

func (t Totals) String() string {
	return fmt.Sprintf("income=%s expenses=%s profit=%s", t.Income, t.Expenses, t.Profit)
}

type CaseAggregate struct {
	CaseID int64
	Totals
	UpdatedAt time.Time
}

type AdvocateYearAggregate struct {
	AdvocateID int64
	Year       int
	Totals
	UpdatedAt time.Time
}
