package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  EntryKind = "income"
	Expense EntryKind = "expense"
)

// MaxDescriptionLen is the longest description accepted on an entry.
const MaxDescriptionLen = 500

const dateLayout = "2006-01-02"

type (
	EntryKind string

	Date struct {
		time.Time
	}

	// LedgerEntry is a single income or expense owned by one advocate and
	// optionally linked to one case.
	LedgerEntry struct {
		ID          int64
		Kind        EntryKind
		Amount      Money
		OccurredOn  Date
		Category    Category
		Description string
		CaseID      *int64
		AdvocateID  int64
		ReceiptRef  string
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// EntryChanges carries the mutable fields of an entry. Kind and owner
	// never change after creation.
	EntryChanges struct {
		Amount      Money
		OccurredOn  Date
		Category    Category
		Description string
		CaseID      *int64
		ReceiptRef  string
	}

	// EntrySpec is what callers hand to the ledger service when creating or
	// editing an entry. On edit an empty Kind means "unchanged" and a nil
	// Receipt keeps the current attachment.
	EntrySpec struct {
		Kind        EntryKind
		Amount      Money
		OccurredOn  Date
		Category    Category
		Description string
		CaseID      *int64
		Receipt     *Receipt
	}
)

var (
	ErrInvalidKind         = errors.New("invalid entry kind")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidDate         = errors.New("invalid date")
	ErrEmptyCategory       = errors.New("empty category")
	ErrDescriptionTooLong  = fmt.Errorf("description too long (max %d characters)", MaxDescriptionLen)
	ErrInvalidCaseID       = errors.New("invalid case id")
	ErrInvalidAdvocate     = errors.New("invalid advocate id")
	ErrKindImmutable       = errors.New("entry kind cannot be changed")
	ErrInvalidYear         = errors.New("invalid year")
	ErrInvalidMonth        = errors.New("invalid month")
	ErrInvalidLimit        = errors.New("invalid limit")
	ErrInvalidDateRange    = errors.New("from date is after to date")
	ErrUnknownScopeKind    = errors.New("unknown aggregate scope kind")
	ErrReceiptStoreMissing = errors.New("no receipt store configured")
)

func (k EntryKind) Validate() error {
	switch k {
	case Income, Expense:
		return nil
	}
	return ErrInvalidKind
}

// ParseEntryKind accepts "income" or "expense" in any case.
func ParseEntryKind(s string) (EntryKind, error) {
	k := EntryKind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO calendar date (YYYY-MM-DD). Impossible dates such
// as 2024-02-30 are rejected.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	if y := d.Time.Year(); y < 1900 || y > 9999 {
		return ErrInvalidDate
	}
	return nil
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON overrides the promoted time.Time encoding.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return ErrInvalidDate
	}
	return d.UnmarshalText([]byte(s[1 : len(s)-1]))
}

// YearBounds returns the first day of year and the first day of the next
// year, as stored date strings.
func YearBounds(year int) (string, string) {
	return NewDate(year, 1, 1).String(), NewDate(year+1, 1, 1).String()
}

func (e LedgerEntry) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return &ValidationError{Field: "kind", Err: err}
	}
	if e.AdvocateID <= 0 {
		return &ValidationError{Field: "advocate_id", Err: ErrInvalidAdvocate}
	}
	return e.Changes().Validate()
}

// Changes returns the mutable part of the entry.
func (e LedgerEntry) Changes() EntryChanges {
	return EntryChanges{
		Amount:      e.Amount,
		OccurredOn:  e.OccurredOn,
		Category:    e.Category,
		Description: e.Description,
		CaseID:      e.CaseID,
		ReceiptRef:  e.ReceiptRef,
	}
}

// HasCase reports whether the entry is linked to a case.
func (e LedgerEntry) HasCase() bool {
	return e.CaseID != nil
}

func (c EntryChanges) Validate() error {
	if err := c.Amount.Validate(); err != nil {
		return &ValidationError{Field: "amount", Err: err}
	}
	if err := c.OccurredOn.Validate(); err != nil {
		return &ValidationError{Field: "occurred_on", Err: err}
	}
	if err := c.Category.Validate(); err != nil {
		return &ValidationError{Field: "category", Err: err}
	}
	if len([]rune(c.Description)) > MaxDescriptionLen {
		return &ValidationError{Field: "description", Err: ErrDescriptionTooLong}
	}
	if c.CaseID != nil && *c.CaseID <= 0 {
		return &ValidationError{Field: "case_id", Err: ErrInvalidCaseID}
	}
	return nil
}

// ApplyTo returns e with the mutable fields replaced by c.
func (c EntryChanges) ApplyTo(e LedgerEntry) LedgerEntry {
	e.Amount = c.Amount
	e.OccurredOn = c.OccurredOn
	e.Category = c.Category
	e.Description = strings.TrimSpace(c.Description)
	e.CaseID = c.CaseID
	e.ReceiptRef = c.ReceiptRef
	return e
}

// Entry builds the entry this spec describes for the given owner.
func (s EntrySpec) Entry(advocateID int64) LedgerEntry {
	return LedgerEntry{
		Kind:        s.Kind,
		Amount:      s.Amount,
		OccurredOn:  s.OccurredOn,
		Category:    s.Category,
		Description: strings.TrimSpace(s.Description),
		CaseID:      s.CaseID,
		AdvocateID:  advocateID,
	}
}

// Changes returns the edit this spec describes; receiptRef is the attachment
// reference the entry should carry afterwards.
func (s EntrySpec) Changes(receiptRef string) EntryChanges {
	return EntryChanges{
		Amount:      s.Amount,
		OccurredOn:  s.OccurredOn,
		Category:    s.Category,
		Description: strings.TrimSpace(s.Description),
		CaseID:      s.CaseID,
		ReceiptRef:  receiptRef,
	}
}

// SameCase reports whether two optional case ids point at the same case.
func SameCase(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
