package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lexledger/internal/core"
)

// Entries is the ledger entry store. It validates and persists entries and
// knows nothing about aggregates.
type Entries struct {
	db  DBTX
	now func() time.Time
}

func NewEntries(db DBTX) *Entries {
	return &Entries{db: db, now: time.Now}
}

// WithTx returns a store bound to tx.
func (s *Entries) WithTx(tx *sql.Tx) *Entries {
	return &Entries{db: tx, now: s.now}
}

const entryColumns = `id, advocate_id, kind, amount_cents, occurred_on, category, category_other,
	description, case_id, receipt_ref, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (core.LedgerEntry, error) {
	var (
		e                    core.LedgerEntry
		kind, occurred       string
		category, other      string
		caseID               sql.NullInt64
		createdAt, updatedAt string
	)
	err := row.Scan(&e.ID, &e.AdvocateID, &kind, &e.Amount.Cents, &occurred, &category, &other,
		&e.Description, &caseID, &e.ReceiptRef, &createdAt, &updatedAt)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	d, err := core.ParseDate(occurred)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("entry %d has malformed date %q: %w", e.ID, occurred, err)
	}
	e.Kind = core.EntryKind(kind)
	e.OccurredOn = d
	e.Category = core.CategoryFromColumns(category, other)
	e.CaseID = idPtr(caseID)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

// Create validates and inserts a new entry owned by advocateID.
func (s *Entries) Create(ctx context.Context, advocateID int64, e core.LedgerEntry) (int64, error) {
	e.AdvocateID = advocateID
	if err := e.Validate(); err != nil {
		return 0, err
	}
	if err := s.assertCase(ctx, advocateID, e.CaseID); err != nil {
		return 0, err
	}

	now := formatTime(s.now())
	category, other := e.Category.Columns()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (advocate_id, kind, amount_cents, occurred_on, category, category_other,
			description, case_id, receipt_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		advocateID, string(e.Kind), e.Amount.Cents, e.OccurredOn.String(), category, other,
		e.Description, nullableID(e.CaseID), e.ReceiptRef, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read ledger entry id: %w", err)
	}
	return id, nil
}

// Get loads an entry owned by advocateID. Entries of other advocates are
// reported as not found.
func (s *Entries) Get(ctx context.Context, advocateID, id int64) (core.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = ? AND advocate_id = ?`, id, advocateID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, &core.NotFoundError{Resource: "ledger entry", ID: core.FormatID(id)}
	}
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("get ledger entry %d: %w", id, err)
	}
	return e, nil
}

// GetForUpdate is the locking read of an entry. It must run on a store
// bound to a transaction from DB.WithTx, which already holds the write lock.
func (s *Entries) GetForUpdate(ctx context.Context, advocateID, id int64) (core.LedgerEntry, error) {
	if _, ok := s.db.(*sql.Tx); !ok {
		return core.LedgerEntry{}, errors.New("GetForUpdate requires a transaction")
	}
	return s.Get(ctx, advocateID, id)
}

// Update replaces the mutable fields of an entry and returns the new state.
func (s *Entries) Update(ctx context.Context, advocateID, id int64, changes core.EntryChanges) (core.LedgerEntry, error) {
	if err := changes.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	current, err := s.Get(ctx, advocateID, id)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	if err := s.assertCase(ctx, advocateID, changes.CaseID); err != nil {
		return core.LedgerEntry{}, err
	}

	updated := changes.ApplyTo(current)
	updated.UpdatedAt = s.now().UTC()
	category, other := updated.Category.Columns()
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET amount_cents = ?, occurred_on = ?, category = ?, category_other = ?,
			description = ?, case_id = ?, receipt_ref = ?, updated_at = ?
		WHERE id = ? AND advocate_id = ?`,
		updated.Amount.Cents, updated.OccurredOn.String(), category, other,
		updated.Description, nullableID(updated.CaseID), updated.ReceiptRef, formatTime(updated.UpdatedAt),
		id, advocateID)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("update ledger entry %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.LedgerEntry{}, &core.NotFoundError{Resource: "ledger entry", ID: core.FormatID(id)}
	}
	return updated, nil
}

// Delete removes an entry owned by advocateID.
func (s *Entries) Delete(ctx context.Context, advocateID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ledger_entries WHERE id = ? AND advocate_id = ?`, id, advocateID)
	if err != nil {
		return fmt.Errorf("delete ledger entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ledger entry %d: %w", id, err)
	}
	if n == 0 {
		return &core.NotFoundError{Resource: "ledger entry", ID: core.FormatID(id)}
	}
	return nil
}

// List returns the advocate's entries matching f, newest first.
func (s *Entries) List(ctx context.Context, advocateID int64, f core.ReportFilter, limit int) ([]core.LedgerEntry, error) {
	where, args := filterClause(advocateID, f, "")
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE `+where+
			` ORDER BY occurred_on DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SumByScope recomputes the totals of a scope from the entries themselves.
func (s *Entries) SumByScope(ctx context.Context, scope core.Scope) (core.Totals, error) {
	if err := scope.Validate(); err != nil {
		return core.Totals{}, err
	}
	const sums = `SELECT
		COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount_cents ELSE 0 END), 0)
		FROM ledger_entries WHERE `

	var row *sql.Row
	switch scope.Kind {
	case core.ScopeCase:
		row = s.db.QueryRowContext(ctx, sums+`case_id = ?`, scope.CaseID)
	default:
		from, to := core.YearBounds(scope.Year)
		row = s.db.QueryRowContext(ctx, sums+`advocate_id = ? AND occurred_on >= ? AND occurred_on < ?`,
			scope.AdvocateID, from, to)
	}
	var income, expenses int64
	if err := row.Scan(&income, &expenses); err != nil {
		return core.Totals{}, fmt.Errorf("sum entries for %s: %w", scope, err)
	}
	return core.NewTotals(income, expenses), nil
}

// Scopes lists every aggregate scope that has at least one entry.
func (s *Entries) Scopes(ctx context.Context) ([]core.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT 'case', case_id, 0, 0 FROM ledger_entries WHERE case_id IS NOT NULL
		UNION
		SELECT DISTINCT 'advocate_year', 0, advocate_id, CAST(substr(occurred_on, 1, 4) AS INTEGER)
		FROM ledger_entries`)
	if err != nil {
		return nil, fmt.Errorf("list entry scopes: %w", err)
	}
	return scanScopes(rows)
}

// assertCase re-checks, against the cases table, that the case exists and
// belongs to the advocate.
func (s *Entries) assertCase(ctx context.Context, advocateID int64, caseID *int64) error {
	if caseID == nil {
		return nil
	}
	var owner int64
	err := s.db.QueryRowContext(ctx, `SELECT advocate_id FROM cases WHERE id = ?`, *caseID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.NotFoundError{Resource: "case", ID: core.FormatID(*caseID)}
	}
	if err != nil {
		return fmt.Errorf("check case %d: %w", *caseID, err)
	}
	if owner != advocateID {
		return &core.AuthorizationError{Resource: "case", ID: core.FormatID(*caseID), AdvocateID: advocateID}
	}
	return nil
}

func scanScopes(rows *sql.Rows) ([]core.Scope, error) {
	defer rows.Close()
	var out []core.Scope
	for rows.Next() {
		var (
			kind     string
			caseID   int64
			advocate int64
			year     int
		)
		if err := rows.Scan(&kind, &caseID, &advocate, &year); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		if core.ScopeKind(kind) == core.ScopeCase {
			out = append(out, core.CaseScope(caseID))
		} else {
			out = append(out, core.AdvocateYearScope(advocate, year))
		}
	}
	return out, rows.Err()
}
