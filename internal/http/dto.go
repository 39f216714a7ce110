package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lexledger/internal/core"
	"lexledger/internal/reconcile"
)

// jsonAmount accepts an amount as a JSON string ("12.34", "12,34") or a
// JSON number and keeps its text for core.ParseAmount.
type jsonAmount string

func (a *jsonAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = jsonAmount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a string or a number")
	}
	*a = jsonAmount(n.String())
	return nil
}

type receiptRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"` // base64
}

// EntryRequest is the body of POST /api/entries and PUT /api/entries/{id}.
type EntryRequest struct {
	Kind        string          `json:"kind"`
	Amount      jsonAmount      `json:"amount"`
	OccurredOn  string          `json:"occurred_on"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	CaseID      *int64          `json:"case_id"`
	Receipt     *receiptRequest `json:"receipt,omitempty"`
}

// Spec converts the request into an entry spec. requireKind is false on
// edit, where an empty kind means unchanged.
func (req EntryRequest) Spec(requireKind bool) (core.EntrySpec, error) {
	var spec core.EntrySpec
	if req.Kind != "" || requireKind {
		k, err := core.ParseEntryKind(req.Kind)
		if err != nil {
			return spec, &core.ValidationError{Field: "kind", Err: err}
		}
		spec.Kind = k
	}
	amount, err := core.ParseAmount(string(req.Amount))
	if err != nil {
		return spec, &core.ValidationError{Field: "amount", Err: err}
	}
	spec.Amount = amount
	date, err := core.ParseDate(req.OccurredOn)
	if err != nil {
		return spec, &core.ValidationError{Field: "occurred_on", Err: err}
	}
	spec.OccurredOn = date
	cat, err := core.ParseCategory(req.Category)
	if err != nil {
		return spec, &core.ValidationError{Field: "category", Err: err}
	}
	spec.Category = cat
	spec.Description = strings.TrimSpace(req.Description)
	spec.CaseID = req.CaseID
	if req.Receipt != nil {
		spec.Receipt = &core.Receipt{
			Filename:    req.Receipt.Filename,
			ContentType: req.Receipt.ContentType,
			Data:        req.Receipt.Data,
		}
	}
	return spec, nil
}

// MoneyJSON renders an amount both as a decimal string and in cents.
type MoneyJSON struct {
	Amount string `json:"amount"`
	Cents  int64  `json:"cents"`
}

func moneyJSON(m core.Money) MoneyJSON {
	return MoneyJSON{Amount: m.String(), Cents: m.Cents}
}

type TotalsJSON struct {
	Income   MoneyJSON `json:"income"`
	Expenses MoneyJSON `json:"expenses"`
	Profit   MoneyJSON `json:"profit"`
}

func totalsJSON(t core.Totals) TotalsJSON {
	return TotalsJSON{
		Income:   moneyJSON(t.Income),
		Expenses: moneyJSON(t.Expenses),
		Profit:   moneyJSON(t.Profit),
	}
}

type CategoryJSON struct {
	Code  string `json:"code"`
	Other string `json:"other,omitempty"`
	Label string `json:"label"`
}

func categoryJSON(c core.Category) CategoryJSON {
	return CategoryJSON{Code: string(c.Code()), Other: c.OtherText(), Label: c.Label()}
}

type EntryJSON struct {
	ID          int64        `json:"id"`
	Kind        string       `json:"kind"`
	Amount      MoneyJSON    `json:"amount"`
	OccurredOn  core.Date    `json:"occurred_on"`
	Category    CategoryJSON `json:"category"`
	Description string       `json:"description"`
	CaseID      *int64       `json:"case_id"`
	HasReceipt  bool         `json:"has_receipt"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func entryJSON(e core.LedgerEntry) EntryJSON {
	return EntryJSON{
		ID:          e.ID,
		Kind:        string(e.Kind),
		Amount:      moneyJSON(e.Amount),
		OccurredOn:  e.OccurredOn,
		Category:    categoryJSON(e.Category),
		Description: e.Description,
		CaseID:      e.CaseID,
		HasReceipt:  e.ReceiptRef != "",
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

type CaseAggregateJSON struct {
	CaseID int64 `json:"case_id"`
	TotalsJSON
}

type YearAggregateJSON struct {
	AdvocateID int64 `json:"advocate_id"`
	Year       int   `json:"year"`
	TotalsJSON
}

type MonthPointJSON struct {
	Month int `json:"month"`
	TotalsJSON
}

type CategoryShareJSON struct {
	Category CategoryJSON    `json:"category"`
	Amount   MoneyJSON       `json:"amount"`
	Percent  decimal.Decimal `json:"percent"`
}

type CaseProfitJSON struct {
	CaseID    int64  `json:"case_id"`
	CaseTitle string `json:"case_title"`
	TotalsJSON
	MarginPercent decimal.Decimal `json:"margin_percent"`
}

type TransactionJSON struct {
	EntryID     int64        `json:"entry_id"`
	Kind        string       `json:"kind"`
	Amount      MoneyJSON    `json:"amount"`
	OccurredOn  core.Date    `json:"occurred_on"`
	Category    CategoryJSON `json:"category"`
	Description string       `json:"description"`
	CaseID      *int64       `json:"case_id"`
	CaseTitle   string       `json:"case_title,omitempty"`
}

type YearPointJSON struct {
	Year int `json:"year"`
	TotalsJSON
}

type ActivityJSON struct {
	ID        int64     `json:"id"`
	EntryID   *int64    `json:"entry_id"`
	Action    string    `json:"action"`
	OldAmount MoneyJSON `json:"old_amount"`
	NewAmount MoneyJSON `json:"new_amount"`
	OldCaseID *int64    `json:"old_case_id"`
	NewCaseID *int64    `json:"new_case_id"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func activityJSON(a core.ActivityRecord) ActivityJSON {
	return ActivityJSON{
		ID:        a.ID,
		EntryID:   a.EntryID,
		Action:    string(a.Action),
		OldAmount: moneyJSON(a.OldAmount),
		NewAmount: moneyJSON(a.NewAmount),
		OldCaseID: a.OldCaseID,
		NewCaseID: a.NewCaseID,
		Detail:    a.Detail,
		CreatedAt: a.CreatedAt,
	}
}

type ReconcileJSON struct {
	Scope      string     `json:"scope"`
	Consistent bool       `json:"consistent"`
	Found      bool       `json:"found"`
	Repaired   bool       `json:"repaired"`
	Stored     TotalsJSON `json:"stored"`
	Computed   TotalsJSON `json:"computed"`
}

func reconcileJSON(r reconcile.Result) ReconcileJSON {
	return ReconcileJSON{
		Scope:      r.Scope.String(),
		Consistent: r.Consistent(),
		Found:      r.Found,
		Repaired:   r.Repaired,
		Stored:     totalsJSON(r.Stored),
		Computed:   totalsJSON(r.Computed),
	}
}

type listJSON[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listJSON[T] {
	if items == nil {
		items = []T{}
	}
	return listJSON[T]{Items: items, Count: len(items)}
}
