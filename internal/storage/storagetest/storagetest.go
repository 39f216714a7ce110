// Package storagetest opens throwaway ledger databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"lexledger/internal/storage"
)

// Open returns a migrated database in t.TempDir, closed when the test ends.
func Open(t testing.TB) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedCase inserts a case owned by advocateID.
func SeedCase(t testing.TB, db *storage.DB, caseID, advocateID int64, title string) {
	t.Helper()
	_, err := db.Conn().ExecContext(context.Background(),
		`INSERT INTO cases (id, advocate_id, title) VALUES (?, ?, ?)`, caseID, advocateID, title)
	if err != nil {
		t.Fatalf("seed case %d: %v", caseID, err)
	}
}

// CorruptCaseAggregate overwrites a case aggregate behind the ledger's back,
// keeping the profit column consistent so the row check passes.
func CorruptCaseAggregate(t testing.TB, db *storage.DB, caseID, incomeCents, expensesCents int64) {
	t.Helper()
	_, err := db.Conn().ExecContext(context.Background(), `
		UPDATE case_aggregates SET income_cents = ?, expenses_cents = ?, profit_cents = ?
		WHERE case_id = ?`, incomeCents, expensesCents, incomeCents-expensesCents, caseID)
	if err != nil {
		t.Fatalf("corrupt case aggregate %d: %v", caseID, err)
	}
}
