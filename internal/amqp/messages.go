package amqp

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"lexledger/internal/core"
)

// LedgerEventMessage is the wire form of a committed ledger mutation.
// Consumers treat ID as an idempotency key.
type LedgerEventMessage struct {
	ID             string    `json:"id"`
	Action         string    `json:"action"`
	AdvocateID     int64     `json:"advocate_id"`
	EntryID        int64     `json:"entry_id,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	OldAmountCents int64     `json:"old_amount_cents"`
	NewAmountCents int64     `json:"new_amount_cents"`
	OldCaseID      *int64    `json:"old_case_id,omitempty"`
	NewCaseID      *int64    `json:"new_case_id,omitempty"`
	Scopes         []string  `json:"scopes,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewLedgerEventMessage converts ev and stamps it with a fresh id.
func NewLedgerEventMessage(ev core.LedgerEvent) *LedgerEventMessage {
	scopes := make([]string, len(ev.Scopes))
	for i, s := range ev.Scopes {
		scopes[i] = s.String()
	}
	return &LedgerEventMessage{
		ID:             ulid.Make().String(),
		Action:         string(ev.Action),
		AdvocateID:     ev.AdvocateID,
		EntryID:        ev.EntryID,
		Kind:           string(ev.Kind),
		OldAmountCents: ev.OldAmount.Cents,
		NewAmountCents: ev.NewAmount.Cents,
		OldCaseID:      ev.OldCaseID,
		NewCaseID:      ev.NewCaseID,
		Scopes:         scopes,
		OccurredAt:     ev.OccurredAt,
		Timestamp:      time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON creates a message from JSON bytes
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
