package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ReportFilter narrows the entries a report looks at. Zero values mean
// "no restriction". Month requires Year.
type ReportFilter struct {
	Year     int
	Month    int // 1-12
	CaseID   *int64
	Category *Category
	Kind     EntryKind
	Search   string
	From     Date
	To       Date
}

func (f ReportFilter) Validate() error {
	if f.Year != 0 && (f.Year < 1900 || f.Year > 9999) {
		return &ValidationError{Field: "year", Err: ErrInvalidYear}
	}
	if f.Month != 0 && (f.Month < 1 || f.Month > 12 || f.Year == 0) {
		return &ValidationError{Field: "month", Err: ErrInvalidMonth}
	}
	if f.CaseID != nil && *f.CaseID <= 0 {
		return &ValidationError{Field: "case_id", Err: ErrInvalidCaseID}
	}
	if f.Category != nil {
		if err := f.Category.Validate(); err != nil {
			return &ValidationError{Field: "category", Err: err}
		}
	}
	if f.Kind != "" {
		if err := f.Kind.Validate(); err != nil {
			return &ValidationError{Field: "kind", Err: err}
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To.Time) {
		return &ValidationError{Field: "from", Err: ErrInvalidDateRange}
	}
	return nil
}

// Key is a stable representation used for cache keys.
func (f ReportFilter) Key() string {
	var b strings.Builder
	b.WriteString("y=" + FormatID(int64(f.Year)))
	b.WriteString("|m=" + FormatID(int64(f.Month)))
	if f.CaseID != nil {
		b.WriteString("|c=" + FormatID(*f.CaseID))
	}
	if f.Category != nil {
		b.WriteString("|cat=" + f.Category.String())
	}
	b.WriteString("|k=" + string(f.Kind))
	b.WriteString("|q=" + strings.ToLower(strings.TrimSpace(f.Search)))
	b.WriteString("|from=" + f.From.String())
	b.WriteString("|to=" + f.To.String())
	return b.String()
}

// MonthPoint is one month of a monthly series.
type MonthPoint struct {
	Month    int // 1-12
	Income   Money
	Expenses Money
	Profit   Money
}

// CategoryShare is one slice of a category breakdown.
type CategoryShare struct {
	Category Category
	Amount   Money
	Percent  decimal.Decimal
}

// CaseProfit is one row of the case profitability ranking.
type CaseProfit struct {
	CaseID    int64
	CaseTitle string
	Totals
	MarginPercent decimal.Decimal
}

// Transaction is one row of the recent transactions feed.
type Transaction struct {
	EntryID     int64
	Kind        EntryKind
	Amount      Money
	OccurredOn  Date
	Category    Category
	Description string
	CaseID      *int64
	CaseTitle   string
}

// YearPoint is one year of a yearly series.
type YearPoint struct {
	Year int
	Totals
}
