package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lexledger/internal/core"
)

// Aggregates stores the per-case and per-advocate-year running totals.
// ApplyDelta is the only write path.
type Aggregates struct {
	db  DBTX
	now func() time.Time
}

func NewAggregates(db DBTX) *Aggregates {
	return &Aggregates{db: db, now: time.Now}
}

func (s *Aggregates) WithTx(tx *sql.Tx) *Aggregates {
	return &Aggregates{db: tx, now: s.now}
}

// The arithmetic happens inside the statement, so concurrent deltas on the
// same row are never lost. Profit is recomputed from the pre-update values
// in the same statement. ?5 selects overwrite instead of increment.
const (
	upsertCaseAggregate = `
		INSERT INTO case_aggregates (case_id, income_cents, expenses_cents, profit_cents, updated_at)
		VALUES (?1, ?2, ?3, ?2 - ?3, ?4)
		ON CONFLICT (case_id) DO UPDATE SET
			income_cents   = CASE WHEN ?5 THEN excluded.income_cents ELSE income_cents + excluded.income_cents END,
			expenses_cents = CASE WHEN ?5 THEN excluded.expenses_cents ELSE expenses_cents + excluded.expenses_cents END,
			profit_cents   = CASE WHEN ?5 THEN excluded.profit_cents
				ELSE (income_cents + excluded.income_cents) - (expenses_cents + excluded.expenses_cents) END,
			updated_at     = excluded.updated_at
		RETURNING income_cents, expenses_cents, profit_cents`

	upsertAdvocateYearAggregate = `
		INSERT INTO advocate_year_aggregates (advocate_id, year, income_cents, expenses_cents, profit_cents, updated_at)
		VALUES (?1, ?6, ?2, ?3, ?2 - ?3, ?4)
		ON CONFLICT (advocate_id, year) DO UPDATE SET
			income_cents   = CASE WHEN ?5 THEN excluded.income_cents ELSE income_cents + excluded.income_cents END,
			expenses_cents = CASE WHEN ?5 THEN excluded.expenses_cents ELSE expenses_cents + excluded.expenses_cents END,
			profit_cents   = CASE WHEN ?5 THEN excluded.profit_cents
				ELSE (income_cents + excluded.income_cents) - (expenses_cents + excluded.expenses_cents) END,
			updated_at     = excluded.updated_at
		RETURNING income_cents, expenses_cents, profit_cents`
)

// ApplyDelta adds d to the aggregate row of scope, creating the row on first
// use, and returns the stored totals. A row that ends up violating
// profit == income - expenses yields a *core.ConsistencyError; callers run
// ApplyDelta inside the entry's transaction so that error rolls it back.
func (s *Aggregates) ApplyDelta(ctx context.Context, scope core.Scope, d core.Delta) (core.Totals, error) {
	if err := scope.Validate(); err != nil {
		return core.Totals{}, err
	}

	absolute := 0
	if d.Absolute {
		absolute = 1
	}
	now := formatTime(s.now())

	var row *sql.Row
	switch scope.Kind {
	case core.ScopeCase:
		row = s.db.QueryRowContext(ctx, upsertCaseAggregate,
			scope.CaseID, d.Income, d.Expenses, now, absolute)
	default:
		row = s.db.QueryRowContext(ctx, upsertAdvocateYearAggregate,
			scope.AdvocateID, d.Income, d.Expenses, now, absolute, scope.Year)
	}

	var t core.Totals
	if err := row.Scan(&t.Income.Cents, &t.Expenses.Cents, &t.Profit.Cents); err != nil {
		return core.Totals{}, fmt.Errorf("apply delta to %s: %w", scope, err)
	}
	if !t.Consistent() {
		return t, &core.ConsistencyError{
			Scope:    scope,
			Expected: core.NewTotals(t.Income.Cents, t.Expenses.Cents),
			Actual:   t,
		}
	}
	return t, nil
}

// Get returns the stored totals of scope; found is false when no row exists.
func (s *Aggregates) Get(ctx context.Context, scope core.Scope) (t core.Totals, found bool, err error) {
	if err := scope.Validate(); err != nil {
		return core.Totals{}, false, err
	}
	var row *sql.Row
	switch scope.Kind {
	case core.ScopeCase:
		row = s.db.QueryRowContext(ctx,
			`SELECT income_cents, expenses_cents, profit_cents FROM case_aggregates WHERE case_id = ?`,
			scope.CaseID)
	default:
		row = s.db.QueryRowContext(ctx,
			`SELECT income_cents, expenses_cents, profit_cents FROM advocate_year_aggregates
			WHERE advocate_id = ? AND year = ?`, scope.AdvocateID, scope.Year)
	}
	err = row.Scan(&t.Income.Cents, &t.Expenses.Cents, &t.Profit.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Totals{}, false, nil
	}
	if err != nil {
		return core.Totals{}, false, fmt.Errorf("get aggregate %s: %w", scope, err)
	}
	return t, true, nil
}

func (s *Aggregates) GetCase(ctx context.Context, caseID int64) (core.CaseAggregate, error) {
	agg := core.CaseAggregate{CaseID: caseID}
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT income_cents, expenses_cents, profit_cents, updated_at
		FROM case_aggregates WHERE case_id = ?`, caseID).
		Scan(&agg.Income.Cents, &agg.Expenses.Cents, &agg.Profit.Cents, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, &core.NotFoundError{Resource: "case aggregate", ID: core.FormatID(caseID)}
	}
	if err != nil {
		return agg, fmt.Errorf("get case aggregate %d: %w", caseID, err)
	}
	agg.UpdatedAt = parseTime(updatedAt)
	return agg, nil
}

func (s *Aggregates) GetAdvocateYear(ctx context.Context, advocateID int64, year int) (core.AdvocateYearAggregate, error) {
	agg := core.AdvocateYearAggregate{AdvocateID: advocateID, Year: year}
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT income_cents, expenses_cents, profit_cents, updated_at
		FROM advocate_year_aggregates WHERE advocate_id = ? AND year = ?`, advocateID, year).
		Scan(&agg.Income.Cents, &agg.Expenses.Cents, &agg.Profit.Cents, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, &core.NotFoundError{
			Resource: "advocate-year aggregate",
			ID:       fmt.Sprintf("%d/%d", advocateID, year),
		}
	}
	if err != nil {
		return agg, fmt.Errorf("get advocate-year aggregate %d/%d: %w", advocateID, year, err)
	}
	agg.UpdatedAt = parseTime(updatedAt)
	return agg, nil
}

// ListYears returns the advocate's yearly aggregates in [fromYear, toYear].
func (s *Aggregates) ListYears(ctx context.Context, advocateID int64, fromYear, toYear int) ([]core.AdvocateYearAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT year, income_cents, expenses_cents, profit_cents, updated_at
		FROM advocate_year_aggregates
		WHERE advocate_id = ? AND year BETWEEN ? AND ?
		ORDER BY year`, advocateID, fromYear, toYear)
	if err != nil {
		return nil, fmt.Errorf("list yearly aggregates: %w", err)
	}
	defer rows.Close()

	var out []core.AdvocateYearAggregate
	for rows.Next() {
		agg := core.AdvocateYearAggregate{AdvocateID: advocateID}
		var updatedAt string
		if err := rows.Scan(&agg.Year, &agg.Income.Cents, &agg.Expenses.Cents, &agg.Profit.Cents, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan yearly aggregate: %w", err)
		}
		agg.UpdatedAt = parseTime(updatedAt)
		out = append(out, agg)
	}
	return out, rows.Err()
}

// Scopes lists every scope that has an aggregate row.
func (s *Aggregates) Scopes(ctx context.Context) ([]core.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'case', case_id, 0, 0 FROM case_aggregates
		UNION ALL
		SELECT 'advocate_year', 0, advocate_id, year FROM advocate_year_aggregates`)
	if err != nil {
		return nil, fmt.Errorf("list aggregate scopes: %w", err)
	}
	return scanScopes(rows)
}
