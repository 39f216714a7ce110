package storage

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"

	"lexledger/internal/core"
)

// Reports holds the read-only queries behind the reporting engine.
type Reports struct {
	db DBTX
}

func NewReports(db DBTX) *Reports {
	return &Reports{db: db}
}

// MonthKindTotal is the sum of one entry kind in one month.
type MonthKindTotal struct {
	Month int
	Kind  core.EntryKind
	Cents int64
}

// MonthlyTotals sums the filtered entries per month and kind.
func (r *Reports) MonthlyTotals(ctx context.Context, advocateID int64, f core.ReportFilter) ([]MonthKindTotal, error) {
	where, args := filterClause(advocateID, f, "")
	rows, err := r.db.QueryContext(ctx, `
		SELECT CAST(substr(occurred_on, 6, 2) AS INTEGER) AS month, kind, SUM(amount_cents)
		FROM ledger_entries
		WHERE `+where+`
		GROUP BY month, kind
		ORDER BY month`, args...)
	if err != nil {
		return nil, fmt.Errorf("monthly totals: %w", err)
	}
	defer rows.Close()

	var out []MonthKindTotal
	for rows.Next() {
		var (
			t    MonthKindTotal
			kind string
		)
		if err := rows.Scan(&t.Month, &kind, &t.Cents); err != nil {
			return nil, fmt.Errorf("scan monthly total: %w", err)
		}
		t.Kind = core.EntryKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CategoryTotal is the sum of the filtered entries in one category.
type CategoryTotal struct {
	Category core.Category
	Cents    int64
}

// CategoryTotals sums the filtered entries per category, largest first.
// Other categories are grouped case-insensitively on their text.
func (r *Reports) CategoryTotals(ctx context.Context, advocateID int64, f core.ReportFilter) ([]CategoryTotal, error) {
	where, args := filterClause(advocateID, f, "")
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, MIN(category_other), SUM(amount_cents) AS total
		FROM ledger_entries
		WHERE `+where+`
		GROUP BY category, lower(category_other)
		ORDER BY total DESC, category, lower(category_other)`, args...)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	defer rows.Close()

	var out []CategoryTotal
	index := make(map[core.Category]int)
	for rows.Next() {
		var (
			t               CategoryTotal
			category, other string
		)
		if err := rows.Scan(&category, &other, &t.Cents); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		// Other text naming a known category folds into it.
		t.Category = core.CategoryFromColumns(category, other)
		if i, ok := index[t.Category]; ok {
			out[i].Cents += t.Cents
			continue
		}
		index[t.Category] = len(out)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b CategoryTotal) int {
		return cmp.Compare(b.Cents, a.Cents)
	})
	return out, nil
}

// CaseRanking reads the advocate's case aggregates ordered by profit.
func (r *Reports) CaseRanking(ctx context.Context, advocateID int64, limit int) ([]core.CaseProfit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.case_id, c.title, a.income_cents, a.expenses_cents, a.profit_cents
		FROM case_aggregates a
		JOIN cases c ON c.id = a.case_id
		WHERE c.advocate_id = ?
		ORDER BY a.profit_cents DESC, a.case_id
		LIMIT ?`, advocateID, limit)
	if err != nil {
		return nil, fmt.Errorf("case ranking: %w", err)
	}
	defer rows.Close()

	var out []core.CaseProfit
	for rows.Next() {
		var p core.CaseProfit
		if err := rows.Scan(&p.CaseID, &p.CaseTitle, &p.Income.Cents, &p.Expenses.Cents, &p.Profit.Cents); err != nil {
			return nil, fmt.Errorf("scan case ranking: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentTransactions returns the filtered entries newest first, ties broken
// by id so the order is stable.
func (r *Reports) RecentTransactions(ctx context.Context, advocateID int64, f core.ReportFilter, limit int) ([]core.Transaction, error) {
	where, args := filterClause(advocateID, f, "e.")
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.kind, e.amount_cents, e.occurred_on, e.category, e.category_other,
			e.description, e.case_id, COALESCE(c.title, '')
		FROM ledger_entries e
		LEFT JOIN cases c ON c.id = e.case_id
		WHERE `+where+`
		ORDER BY e.occurred_on DESC, e.id DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t               core.Transaction
			kind, occurred  string
			category, other string
			caseID          sql.NullInt64
		)
		if err := rows.Scan(&t.EntryID, &kind, &t.Amount.Cents, &occurred, &category, &other,
			&t.Description, &caseID, &t.CaseTitle); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		d, err := core.ParseDate(occurred)
		if err != nil {
			return nil, fmt.Errorf("entry %d has malformed date %q: %w", t.EntryID, occurred, err)
		}
		t.Kind = core.EntryKind(kind)
		t.OccurredOn = d
		t.Category = core.CategoryFromColumns(category, other)
		t.CaseID = idPtr(caseID)
		out = append(out, t)
	}
	return out, rows.Err()
}
