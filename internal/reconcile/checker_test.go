package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lexledger/internal/core"
	"lexledger/internal/ledger"
	"lexledger/internal/reconcile"
	"lexledger/internal/storage"
	"lexledger/internal/storage/storagetest"
)

var advocate = core.Actor{AdvocateID: 7}

type recorder struct {
	mu          sync.Mutex
	events      []core.LedgerEvent
	invalidated []int64
}

func (r *recorder) PublishLedgerEvent(_ context.Context, ev core.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Invalidate(advocateID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, advocateID)
}

type fixture struct {
	db      *storage.DB
	ledger  *ledger.Service
	checker *reconcile.Checker
	rec     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.Open(t)
	storagetest.SeedCase(t, db, 42, 7, "Rossi v. Bianchi")
	storagetest.SeedCase(t, db, 500, 8, "someone else's case")
	rec := &recorder{}
	return &fixture{
		db:      db,
		ledger:  ledger.NewService(db, ledger.Deps{}),
		checker: reconcile.NewChecker(db, reconcile.Deps{Publisher: rec, Cache: rec}),
		rec:     rec,
	}
}

func (f *fixture) add(t *testing.T, kind core.EntryKind, cents int64, caseID *int64) {
	t.Helper()
	_, err := f.ledger.CreateEntry(context.Background(), advocate, core.EntrySpec{
		Kind:        kind,
		Amount:      core.Money{Cents: cents},
		OccurredOn:  core.NewDate(2024, 3, 1),
		Category:    core.KnownCategory(core.CategoryTravel),
		Description: "entry",
		CaseID:      caseID,
	})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
}

func ptr(v int64) *int64 { return &v }

func TestReconcileConsistent(t *testing.T) {
	f := newFixture(t)
	f.add(t, core.Expense, 10000, ptr(42))
	f.add(t, core.Income, 25000, ptr(42))

	for _, scope := range []core.Scope{core.CaseScope(42), core.AdvocateYearScope(7, 2024)} {
		res, err := f.checker.Reconcile(context.Background(), scope)
		if err != nil {
			t.Fatalf("Reconcile(%s): %v", scope, err)
		}
		if !res.Consistent() || !res.Found || res.Computed.Profit.Cents != 15000 {
			t.Errorf("Reconcile(%s) = %+v", scope, res)
		}
	}
}

func TestReconcileMissingAggregateIsZero(t *testing.T) {
	f := newFixture(t)
	res, err := f.checker.Reconcile(context.Background(), core.CaseScope(42))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Found || !res.Consistent() {
		t.Errorf("Reconcile = %+v, want consistent and not found", res)
	}
}

func TestReconcileDetectsAndRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, core.Expense, 10000, ptr(42))
	storagetest.CorruptCaseAggregate(t, f.db, 42, 0, 9000)

	res, err := f.checker.Reconcile(ctx, core.CaseScope(42))
	var ce *core.ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("Reconcile err = %v, want ConsistencyError", err)
	}
	if ce.Expected.Expenses.Cents != 10000 || ce.Actual.Expenses.Cents != 9000 {
		t.Errorf("ConsistencyError = %+v", ce)
	}
	if res.Consistent() {
		t.Errorf("result should report the mismatch: %+v", res)
	}

	repaired, err := f.checker.Repair(ctx, core.CaseScope(42))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !repaired.Repaired || repaired.Stored.Expenses.Cents != 9000 {
		t.Errorf("Repair = %+v", repaired)
	}

	after, err := f.checker.Reconcile(ctx, core.CaseScope(42))
	if err != nil {
		t.Fatalf("Reconcile after repair: %v", err)
	}
	if after.Stored.Expenses.Cents != 10000 {
		t.Errorf("stored after repair = %+v", after.Stored)
	}

	again, err := f.checker.Repair(ctx, core.CaseScope(42))
	if err != nil {
		t.Fatalf("second Repair: %v", err)
	}
	if again.Repaired {
		t.Errorf("repairing a consistent aggregate should be a no-op")
	}

	activity, err := f.ledger.ListActivity(ctx, advocate, 10)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	repairs := 0
	for _, a := range activity {
		if a.Action == core.ActionAggregateRepaired {
			repairs++
		}
	}
	if repairs != 1 {
		t.Errorf("got %d repair activity rows, want 1", repairs)
	}
	if len(f.rec.events) != 1 || f.rec.events[0].Action != core.ActionAggregateRepaired {
		t.Errorf("events = %+v", f.rec.events)
	}
	if len(f.rec.invalidated) != 1 || f.rec.invalidated[0] != 7 {
		t.Errorf("invalidated = %v", f.rec.invalidated)
	}
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t)
	f.add(t, core.Expense, 10000, ptr(42))
	f.add(t, core.Income, 500, nil)
	storagetest.CorruptCaseAggregate(t, f.db, 42, 1, 10000)

	results, err := f.checker.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	for _, r := range results {
		wantConsistent := r.Scope.Kind != core.ScopeCase
		if r.Consistent() != wantConsistent {
			t.Errorf("%s consistent = %v, want %v", r.Scope, r.Consistent(), wantConsistent)
		}
	}
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		scope core.Scope
		check func(error) bool
	}{
		{"own case", core.CaseScope(42), func(err error) bool { return err == nil }},
		{"own year", core.AdvocateYearScope(7, 2024), func(err error) bool { return err == nil }},
		{"other case", core.CaseScope(500), core.IsAuthorization},
		{"other year", core.AdvocateYearScope(8, 2024), core.IsAuthorization},
		{"unknown case", core.CaseScope(1234), core.IsNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.checker.Authorize(ctx, advocate, tc.scope); !tc.check(err) {
				t.Errorf("Authorize(%s) = %v", tc.scope, err)
			}
		})
	}
}

func TestProcessorLifecycle(t *testing.T) {
	f := newFixture(t)
	f.add(t, core.Expense, 100, ptr(42))

	p := reconcile.NewProcessor(f.checker, reconcile.ProcessorConfig{Interval: time.Hour, RunOnStart: true})
	passes := make(chan []reconcile.Result, 1)
	reconcile.SetOnPass(p, func(results []reconcile.Result, err error) {
		if err == nil {
			passes <- results
		}
	})

	if p.IsRunning() {
		t.Fatal("processor should not be running initially")
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Error("expected error when starting already running processor")
	}

	select {
	case results := <-passes:
		if len(results) != 2 {
			t.Errorf("first pass checked %d scopes, want 2", len(results))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reconcile pass within 5s")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsRunning() {
		t.Error("processor should not be running after Stop")
	}
}

func TestProcessorConcurrentStop(t *testing.T) {
	f := newFixture(t)
	p := reconcile.NewProcessor(f.checker, reconcile.ProcessorConfig{Interval: time.Hour})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Stop(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	}
	if p.IsRunning() {
		t.Error("processor should not be running after Stop")
	}
}

func TestProcessorStopTimeoutResetsRunning(t *testing.T) {
	f := newFixture(t)
	p := reconcile.NewProcessor(f.checker, reconcile.ProcessorConfig{Interval: time.Hour, RunOnStart: true})
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	reconcile.SetOnPass(p, func([]reconcile.Result, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}
	if p.IsRunning() {
		t.Error("processor still marked running after a timed out Stop")
	}
	close(release)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Errorf("Stop after restart: %v", err)
	}
}
