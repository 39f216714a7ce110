package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lexledger/internal/cache"
	"lexledger/internal/core"
	"lexledger/internal/ledger"
	"lexledger/internal/receipts/localfs"
	"lexledger/internal/reconcile"
	"lexledger/internal/reports"
	"lexledger/internal/storage"
	"lexledger/internal/storage/storagetest"
)

type testServer struct {
	srv *Server
	db  *storage.DB
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	db := storagetest.Open(t)
	storagetest.SeedCase(t, db, 42, 7, "Rossi v. Bianchi")
	storagetest.SeedCase(t, db, 99, 7, "Estate of Verdi")
	storagetest.SeedCase(t, db, 500, 8, "someone else's case")

	store, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	engine := reports.NewEngine(db, cache.NewLRUCache[[]byte](100, time.Minute), nil)
	svc := ledger.NewService(db, ledger.Deps{Receipts: store, Cache: engine})
	checker := reconcile.NewChecker(db, reconcile.Deps{Cache: engine})

	srv := NewServer(":0", Deps{
		Ledger:             svc,
		Reports:            engine,
		Checker:            checker,
		DB:                 db,
		RateLimitPerMinute: rateLimit,
	})
	srv.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { srv.rateLimiter.Stop() })
	return &testServer{srv: srv, db: db}
}

func (ts *testServer) do(t *testing.T, method, path string, advocate string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if advocate != "" {
		req.Header.Set(AdvocateHeader, advocate)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (%s)", v, err, rr.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}

func entryBody(kind string, amount any, on, category string, caseID *int64) map[string]any {
	body := map[string]any{
		"kind":        kind,
		"amount":      amount,
		"occurred_on": on,
		"category":    category,
		"description": "test entry",
	}
	if caseID != nil {
		body["case_id"] = *caseID
	}
	return body
}

func ptr(v int64) *int64 { return &v }

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, 0)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := ts.do(t, http.MethodGet, path, "", nil)
		expectStatus(t, rr, http.StatusOK)
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: missing security headers", path)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing request id", path)
		}
	}
}

func TestAPIRequiresAdvocate(t *testing.T) {
	ts := newTestServer(t, 0)
	for _, header := range []string{"", "abc", "0", "-3"} {
		rr := ts.do(t, http.MethodGet, "/api/entries", header, nil)
		expectStatus(t, rr, http.StatusUnauthorized)
		body := decode[ErrorBody](t, rr)
		if body.Error.Code != "unauthenticated" {
			t.Errorf("header %q: code = %q", header, body.Error.Code)
		}
	}
}

func TestEntryLifecycle(t *testing.T) {
	ts := newTestServer(t, 0)

	body := entryBody("expense", "150,00", "2024-03-05", "travel", ptr(42))
	body["receipt"] = map[string]any{
		"filename":     "train.pdf",
		"content_type": "application/pdf",
		"data":         base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
	}
	rr := ts.do(t, http.MethodPost, "/api/entries", "7", body)
	expectStatus(t, rr, http.StatusCreated)
	created := decode[CreatedJSON](t, rr)
	if created.ID == 0 || created.Entry.Amount.Cents != 15000 || !created.Entry.HasReceipt {
		t.Fatalf("created = %+v", created)
	}
	if created.Entry.Category.Code != "travel" {
		t.Errorf("category = %+v", created.Entry.Category)
	}
	path := rr.Header().Get("Location")
	if path != "/api/entries/"+core.FormatID(created.ID) {
		t.Fatalf("Location = %q", path)
	}

	agg := decode[CaseAggregateJSON](t, ts.do(t, http.MethodGet, "/api/cases/42/aggregate", "7", nil))
	if agg.Expenses.Cents != 15000 || agg.Profit.Cents != -15000 {
		t.Fatalf("case aggregate after create = %+v", agg)
	}

	rr = ts.do(t, http.MethodPut, path, "7", entryBody("", 200, "2024-03-05", "travel", ptr(99)))
	expectStatus(t, rr, http.StatusOK)
	edited := decode[EntryJSON](t, rr)
	if edited.Amount.Cents != 20000 || edited.CaseID == nil || *edited.CaseID != 99 || !edited.HasReceipt {
		t.Fatalf("edited = %+v", edited)
	}

	agg = decode[CaseAggregateJSON](t, ts.do(t, http.MethodGet, "/api/cases/42/aggregate", "7", nil))
	if agg.Expenses.Cents != 0 {
		t.Errorf("case 42 after reassign = %+v", agg)
	}
	agg = decode[CaseAggregateJSON](t, ts.do(t, http.MethodGet, "/api/cases/99/aggregate", "7", nil))
	if agg.Expenses.Cents != 20000 {
		t.Errorf("case 99 after reassign = %+v", agg)
	}
	year := decode[YearAggregateJSON](t, ts.do(t, http.MethodGet, "/api/aggregates/2024", "7", nil))
	if year.Expenses.Cents != 20000 || year.Year != 2024 {
		t.Errorf("year aggregate = %+v", year)
	}

	rr = ts.do(t, http.MethodDelete, path, "7", nil)
	expectStatus(t, rr, http.StatusOK)
	if deleted := decode[DeletedJSON](t, rr); !deleted.Deleted || deleted.ReceiptWarning != "" {
		t.Errorf("deleted = %+v", deleted)
	}
	expectStatus(t, ts.do(t, http.MethodGet, path, "7", nil), http.StatusNotFound)

	activity := decode[listJSON[ActivityJSON]](t, ts.do(t, http.MethodGet, "/api/activity", "7", nil))
	if activity.Count != 3 {
		t.Fatalf("activity count = %d, want 3", activity.Count)
	}
	wantActions := []string{"entry.deleted", "entry.reassigned", "entry.created"}
	for i, a := range activity.Items {
		if a.Action != wantActions[i] {
			t.Errorf("activity[%d] = %s, want %s", i, a.Action, wantActions[i])
		}
	}
}

func TestCreateEntryRejections(t *testing.T) {
	ts := newTestServer(t, 0)
	cases := []struct {
		name   string
		body   any
		status int
		field  string
	}{
		{"malformed json", `{"kind":`, http.StatusBadRequest, ""},
		{"unknown field", `{"kind":"expense","colour":"red"}`, http.StatusBadRequest, ""},
		{"bad amount", entryBody("expense", "abc", "2024-01-01", "travel", nil), http.StatusUnprocessableEntity, "amount"},
		{"zero amount", entryBody("expense", "0", "2024-01-01", "travel", nil), http.StatusUnprocessableEntity, "amount"},
		{"negative amount", entryBody("income", -5, "2024-01-01", "retainer", nil), http.StatusUnprocessableEntity, "amount"},
		{"missing kind", entryBody("", "10", "2024-01-01", "travel", nil), http.StatusUnprocessableEntity, "kind"},
		{"bad date", entryBody("expense", "10", "2024-13-01", "travel", nil), http.StatusUnprocessableEntity, "occurred_on"},
		{"empty category", entryBody("expense", "10", "2024-01-01", " ", nil), http.StatusUnprocessableEntity, "category"},
		{"someone else's case", entryBody("expense", "10", "2024-01-01", "travel", ptr(500)), http.StatusForbidden, ""},
		{"unknown case", entryBody("expense", "10", "2024-01-01", "travel", ptr(12345)), http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/api/entries", "7", tc.body)
			expectStatus(t, rr, tc.status)
			if got := decode[ErrorBody](t, rr); got.Error.Field != tc.field {
				t.Errorf("field = %q, want %q", got.Error.Field, tc.field)
			}
		})
	}

	list := decode[listJSON[EntryJSON]](t, ts.do(t, http.MethodGet, "/api/entries", "7", nil))
	if list.Count != 0 {
		t.Errorf("rejected requests left %d entries behind", list.Count)
	}
}

func TestEditCannotChangeKind(t *testing.T) {
	ts := newTestServer(t, 0)
	rr := ts.do(t, http.MethodPost, "/api/entries", "7", entryBody("income", "300", "2024-02-01", "retainer", ptr(42)))
	expectStatus(t, rr, http.StatusCreated)
	id := decode[CreatedJSON](t, rr).ID

	rr = ts.do(t, http.MethodPut, "/api/entries/"+core.FormatID(id), "7", entryBody("expense", "300", "2024-02-01", "retainer", ptr(42)))
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	if got := decode[ErrorBody](t, rr); got.Error.Field != "kind" {
		t.Errorf("field = %q", got.Error.Field)
	}
}

func TestEntriesAreIsolatedPerAdvocate(t *testing.T) {
	ts := newTestServer(t, 0)
	rr := ts.do(t, http.MethodPost, "/api/entries", "7", entryBody("income", "300", "2024-02-01", "retainer", nil))
	expectStatus(t, rr, http.StatusCreated)
	path := "/api/entries/" + core.FormatID(decode[CreatedJSON](t, rr).ID)

	expectStatus(t, ts.do(t, http.MethodGet, path, "8", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodDelete, path, "8", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/cases/42/aggregate", "8", nil), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/aggregates/2024", "8", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, path, "7", nil), http.StatusOK)
}

func TestListEntriesFilters(t *testing.T) {
	ts := newTestServer(t, 0)
	for _, body := range []map[string]any{
		entryBody("expense", "10", "2024-01-10", "travel", ptr(42)),
		entryBody("expense", "20", "2024-02-10", "filing", ptr(99)),
		entryBody("income", "500", "2024-02-11", "retainer", ptr(42)),
		entryBody("expense", "30", "2023-12-31", "travel", nil),
	} {
		expectStatus(t, ts.do(t, http.MethodPost, "/api/entries", "7", body), http.StatusCreated)
	}

	cases := []struct {
		query string
		want  int
	}{
		{"", 4},
		{"?year=2024", 3},
		{"?year=2024&month=2", 2},
		{"?case_id=42", 2},
		{"?kind=expense", 3},
		{"?category=travel", 2},
		{"?from=2024-01-01&to=2024-01-31", 1},
		{"?limit=1", 1},
	}
	for _, tc := range cases {
		rr := ts.do(t, http.MethodGet, "/api/entries"+tc.query, "7", nil)
		expectStatus(t, rr, http.StatusOK)
		if got := decode[listJSON[EntryJSON]](t, rr).Count; got != tc.want {
			t.Errorf("%q: count = %d, want %d", tc.query, got, tc.want)
		}
	}

	expectStatus(t, ts.do(t, http.MethodGet, "/api/entries?month=2", "7", nil), http.StatusUnprocessableEntity)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/entries?year=abc", "7", nil), http.StatusUnprocessableEntity)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/entries?limit=-1", "7", nil), http.StatusUnprocessableEntity)
}

func TestReportEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)
	for _, body := range []map[string]any{
		entryBody("income", "300", "2024-01-15", "retainer", ptr(42)),
		entryBody("expense", "100", "2024-01-20", "travel", ptr(42)),
		entryBody("expense", "50", "2024-03-02", "filing", ptr(99)),
		entryBody("expense", "50", "2024-03-03", "Courier", nil),
		entryBody("income", "80", "2023-11-11", "retainer", nil),
	} {
		expectStatus(t, ts.do(t, http.MethodPost, "/api/entries", "7", body), http.StatusCreated)
	}

	monthly := decode[listJSON[MonthPointJSON]](t, ts.do(t, http.MethodGet, "/api/reports/monthly?year=2024", "7", nil))
	if monthly.Count != 12 {
		t.Fatalf("monthly count = %d", monthly.Count)
	}
	if jan := monthly.Items[0]; jan.Income.Cents != 30000 || jan.Expenses.Cents != 10000 || jan.Profit.Cents != 20000 {
		t.Errorf("january = %+v", jan)
	}

	shares := decode[listJSON[CategoryShareJSON]](t, ts.do(t, http.MethodGet, "/api/reports/categories?year=2024", "7", nil))
	if shares.Count != 3 {
		t.Fatalf("category shares = %+v", shares.Items)
	}
	var total int64
	for _, sh := range shares.Items {
		total += sh.Percent.Shift(2).IntPart()
	}
	if total != 10000 {
		t.Errorf("percentages sum to %d basis points", total)
	}

	ranking := decode[listJSON[CaseProfitJSON]](t, ts.do(t, http.MethodGet, "/api/reports/cases", "7", nil))
	if ranking.Count != 2 || ranking.Items[0].CaseID != 42 {
		t.Fatalf("ranking = %+v", ranking.Items)
	}
	if got := ranking.Items[0].MarginPercent.String(); got != "66.67" {
		t.Errorf("margin = %s", got)
	}

	txs := decode[listJSON[TransactionJSON]](t, ts.do(t, http.MethodGet, "/api/reports/transactions?limit=2", "7", nil))
	if txs.Count != 2 || txs.Items[0].OccurredOn.String() != "2024-03-03" {
		t.Errorf("transactions = %+v", txs.Items)
	}

	yearly := decode[listJSON[YearPointJSON]](t, ts.do(t, http.MethodGet, "/api/reports/yearly?from=2023&to=2024", "7", nil))
	if yearly.Count != 2 || yearly.Items[0].Income.Cents != 8000 || yearly.Items[1].Profit.Cents != 10000 {
		t.Errorf("yearly = %+v", yearly.Items)
	}
	current := decode[listJSON[YearPointJSON]](t, ts.do(t, http.MethodGet, "/api/reports/yearly", "7", nil))
	if current.Count != 1 || current.Items[0].Year != 2024 {
		t.Errorf("yearly default = %+v", current.Items)
	}
	expectStatus(t, ts.do(t, http.MethodGet, "/api/reports/yearly?from=2025&to=2020", "7", nil), http.StatusUnprocessableEntity)

	// Another advocate sees none of it.
	other := decode[listJSON[CaseProfitJSON]](t, ts.do(t, http.MethodGet, "/api/reports/cases", "8", nil))
	if other.Count != 0 {
		t.Errorf("advocate 8 ranking = %+v", other.Items)
	}
}

func TestReconcileEndpoints(t *testing.T) {
	ts := newTestServer(t, 0)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/entries", "7",
		entryBody("income", "300", "2024-01-15", "retainer", ptr(42))), http.StatusCreated)

	rr := ts.do(t, http.MethodGet, "/api/reconcile/cases/42", "7", nil)
	expectStatus(t, rr, http.StatusOK)
	if res := decode[ReconcileJSON](t, rr); !res.Consistent || !res.Found {
		t.Fatalf("reconcile = %+v", res)
	}

	storagetest.CorruptCaseAggregate(t, ts.db, 42, 1, 0)
	rr = ts.do(t, http.MethodGet, "/api/reconcile/cases/42", "7", nil)
	expectStatus(t, rr, http.StatusConflict)
	if res := decode[ReconcileJSON](t, rr); res.Consistent || res.Stored.Income.Cents != 1 || res.Computed.Income.Cents != 30000 {
		t.Fatalf("drifted reconcile = %+v", res)
	}

	rr = ts.do(t, http.MethodPost, "/api/reconcile/cases/42/repair", "7", nil)
	expectStatus(t, rr, http.StatusOK)
	if res := decode[ReconcileJSON](t, rr); !res.Repaired {
		t.Fatalf("repair = %+v", res)
	}
	agg := decode[CaseAggregateJSON](t, ts.do(t, http.MethodGet, "/api/cases/42/aggregate", "7", nil))
	if agg.Income.Cents != 30000 {
		t.Errorf("aggregate after repair = %+v", agg)
	}

	expectStatus(t, ts.do(t, http.MethodGet, "/api/reconcile/years/2024", "7", nil), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/reconcile/cases/500", "7", nil), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/reconcile/cases/500/repair", "7", nil), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/reconcile/cases/777", "7", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/reconcile/years/20", "7", nil), http.StatusUnprocessableEntity)
}

func TestMutationsAreRateLimited(t *testing.T) {
	ts := newTestServer(t, 1)
	body := entryBody("income", "1", "2024-01-01", "retainer", nil)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/entries", "7", body), http.StatusCreated)

	rr := ts.do(t, http.MethodPost, "/api/entries", "7", body)
	expectStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Reads are not limited.
	expectStatus(t, ts.do(t, http.MethodGet, "/api/entries", "7", nil), http.StatusOK)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, 0)
	rr := ts.do(t, http.MethodGet, "/api/nope", "7", nil)
	expectStatus(t, rr, http.StatusNotFound)
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}
}
