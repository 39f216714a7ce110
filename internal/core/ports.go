package core

import (
	"context"
	"strconv"
	"time"
)

// Actor is the authenticated advocate on whose behalf a call runs.
type Actor struct {
	AdvocateID int64
}

func (a Actor) Validate() error {
	if a.AdvocateID <= 0 {
		return &AuthorizationError{Resource: "ledger", AdvocateID: a.AdvocateID}
	}
	return nil
}

// CaseDirectory answers ownership questions about cases managed elsewhere.
type CaseDirectory interface {
	CaseExists(ctx context.Context, caseID int64) (bool, error)
	IsCaseOwnedBy(ctx context.Context, caseID, advocateID int64) (bool, error)
}

// Receipt is an uploaded attachment before it is stored.
type Receipt struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReceiptStore persists attachments and hands back an opaque reference.
type ReceiptStore interface {
	StoreReceipt(ctx context.Context, r Receipt) (string, error)
	DeleteReceipt(ctx context.Context, ref string) error
}

// Action names a ledger mutation in the activity log and in events.
type Action string

const (
	ActionEntryCreated      Action = "entry.created"
	ActionEntryEdited       Action = "entry.edited"
	ActionEntryReassigned   Action = "entry.reassigned"
	ActionEntryDeleted      Action = "entry.deleted"
	ActionAggregateRepaired Action = "aggregate.repaired"
)

// ActivityRecord is one row of the audit trail.
type ActivityRecord struct {
	ID         int64
	AdvocateID int64
	EntryID    *int64
	Action     Action
	OldAmount  Money
	NewAmount  Money
	OldCaseID  *int64
	NewCaseID  *int64
	Detail     string
	CreatedAt  time.Time
}

// LedgerEvent is published after a mutation commits.
type LedgerEvent struct {
	Action     Action
	AdvocateID int64
	EntryID    int64
	Kind       EntryKind
	OldAmount  Money
	NewAmount  Money
	OldCaseID  *int64
	NewCaseID  *int64
	Scopes     []Scope
	OccurredAt time.Time
}

// EventPublisher delivers ledger events to other parts of the portal.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev LedgerEvent) error
}

// FormatID renders an id for error messages.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
