package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lexledger/internal/core"
)

// Activity is the append-only audit trail of ledger mutations.
type Activity struct {
	db  DBTX
	now func() time.Time
}

func NewActivity(db DBTX) *Activity {
	return &Activity{db: db, now: time.Now}
}

func (s *Activity) WithTx(tx *sql.Tx) *Activity {
	return &Activity{db: tx, now: s.now}
}

func (s *Activity) Append(ctx context.Context, rec core.ActivityRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_activity (advocate_id, entry_id, action, old_amount_cents, new_amount_cents,
			old_case_id, new_case_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AdvocateID, nullableID(rec.EntryID), string(rec.Action), rec.OldAmount.Cents, rec.NewAmount.Cents,
		nullableID(rec.OldCaseID), nullableID(rec.NewCaseID), rec.Detail, formatTime(rec.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("append activity %s: %w", rec.Action, err)
	}
	return res.LastInsertId()
}

// List returns the advocate's most recent activity, newest first.
func (s *Activity) List(ctx context.Context, advocateID int64, limit int) ([]core.ActivityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, advocate_id, entry_id, action, old_amount_cents, new_amount_cents,
			old_case_id, new_case_id, detail, created_at
		FROM ledger_activity
		WHERE advocate_id = ?
		ORDER BY id DESC
		LIMIT ?`, advocateID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []core.ActivityRecord
	for rows.Next() {
		var (
			rec                           core.ActivityRecord
			action, createdAt             string
			entryID, oldCaseID, newCaseID sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.AdvocateID, &entryID, &action, &rec.OldAmount.Cents,
			&rec.NewAmount.Cents, &oldCaseID, &newCaseID, &rec.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		rec.Action = core.Action(action)
		rec.EntryID = idPtr(entryID)
		rec.OldCaseID = idPtr(oldCaseID)
		rec.NewCaseID = idPtr(newCaseID)
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
