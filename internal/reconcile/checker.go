// Package reconcile recomputes aggregates from the ledger entries and
// compares them with the stored running totals.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lexledger/internal/core"
	"lexledger/internal/log"
	"lexledger/internal/storage"
)

// Result is the outcome of checking one aggregate.
type Result struct {
	Scope    core.Scope
	Stored   core.Totals
	Computed core.Totals
	// Found is false when no aggregate row exists; Stored is then zero.
	Found    bool
	Repaired bool
}

func (r Result) Consistent() bool {
	return r.Stored == r.Computed
}

// Invalidator drops cached reports of an advocate.
type Invalidator interface {
	Invalidate(advocateID int64)
}

type Deps struct {
	Publisher core.EventPublisher
	Cache     Invalidator
	Logger    *log.Logger
}

// Checker detects and repairs drift between aggregates and entries.
type Checker struct {
	db         *storage.DB
	entries    *storage.Entries
	aggregates *storage.Aggregates
	activity   *storage.Activity
	cases      *storage.Cases
	publisher  core.EventPublisher
	cache      Invalidator
	logger     *log.Logger
	now        func() time.Time
}

func NewChecker(db *storage.DB, deps Deps) *Checker {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	conn := db.Conn()
	return &Checker{
		db:         db,
		entries:    storage.NewEntries(conn),
		aggregates: storage.NewAggregates(conn),
		activity:   storage.NewActivity(conn),
		cases:      storage.NewCases(conn),
		publisher:  deps.Publisher,
		cache:      deps.Cache,
		logger:     logger.WithComponent(log.ComponentReconcile),
		now:        time.Now,
	}
}

// Authorize checks that actor owns scope. A case scope of an unknown case is
// reported as not found.
func (c *Checker) Authorize(ctx context.Context, actor core.Actor, scope core.Scope) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if err := scope.Validate(); err != nil {
		return err
	}
	owner, err := c.owner(ctx, c.cases, scope)
	if err != nil {
		return err
	}
	if owner != actor.AdvocateID {
		return &core.AuthorizationError{Resource: "aggregate", ID: scope.String(), AdvocateID: actor.AdvocateID}
	}
	return nil
}

// Reconcile compares the stored aggregate of scope with the totals
// recomputed from the entries. On a mismatch the result is returned together
// with a *core.ConsistencyError.
func (c *Checker) Reconcile(ctx context.Context, scope core.Scope) (Result, error) {
	if err := scope.Validate(); err != nil {
		return Result{}, err
	}
	var res Result
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = c.compare(ctx, tx, scope)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if !res.Consistent() {
		c.logger.WarnContext(ctx, "Aggregate drift detected",
			log.FieldScope, scope.String(),
			"stored", res.Stored.String(),
			"computed", res.Computed.String())
		return res, &core.ConsistencyError{Scope: scope, Expected: res.Computed, Actual: res.Stored}
	}
	return res, nil
}

func (c *Checker) compare(ctx context.Context, tx *sql.Tx, scope core.Scope) (Result, error) {
	computed, err := c.entries.WithTx(tx).SumByScope(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	stored, found, err := c.aggregates.WithTx(tx).Get(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	return Result{Scope: scope, Stored: stored, Computed: computed, Found: found}, nil
}

// Repair overwrites the aggregate of scope with the recomputed totals and
// records an aggregate.repaired activity row. Repairing a consistent
// aggregate is a no-op.
func (c *Checker) Repair(ctx context.Context, scope core.Scope) (Result, error) {
	if err := scope.Validate(); err != nil {
		return Result{}, err
	}

	var (
		res        Result
		advocateID int64
	)
	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = c.compare(ctx, tx, scope)
		if err != nil || res.Consistent() {
			return err
		}
		advocateID, err = c.owner(ctx, c.cases.WithTx(tx), scope)
		if err != nil {
			return err
		}

		d := core.Delta{Income: res.Computed.Income.Cents, Expenses: res.Computed.Expenses.Cents, Absolute: true}
		if _, err := c.aggregates.WithTx(tx).ApplyDelta(ctx, scope, d); err != nil {
			return err
		}
		_, err = c.activity.WithTx(tx).Append(ctx, core.ActivityRecord{
			AdvocateID: advocateID,
			Action:     core.ActionAggregateRepaired,
			OldAmount:  res.Stored.Profit,
			NewAmount:  res.Computed.Profit,
			Detail:     fmt.Sprintf("%s: %s -> %s", scope, res.Stored, res.Computed),
			CreatedAt:  c.now().UTC(),
		})
		return err
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "Aggregate repair rolled back",
			log.NewFields().WithScope(scope).WithOperation(log.OpRepair).WithError(err).ToSlice()...)
		return Result{}, &core.TransactionFailedError{Op: "repair aggregate", Err: err}
	}
	if res.Consistent() {
		return res, nil
	}

	res.Repaired = true
	c.logger.InfoContext(ctx, "Aggregate repaired",
		log.FieldScope, scope.String(),
		"stored", res.Stored.String(),
		"computed", res.Computed.String())
	c.afterRepair(ctx, advocateID, scope)
	return res, nil
}

func (c *Checker) afterRepair(ctx context.Context, advocateID int64, scope core.Scope) {
	if c.cache != nil {
		c.cache.Invalidate(advocateID)
	}
	if c.publisher == nil {
		return
	}
	ev := core.LedgerEvent{
		Action:     core.ActionAggregateRepaired,
		AdvocateID: advocateID,
		Scopes:     []core.Scope{scope},
		OccurredAt: c.now().UTC(),
	}
	if err := c.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish repair event",
			log.FieldScope, scope.String(), log.FieldError, err)
	}
}

// ReconcileAll checks every scope that has entries or a stored aggregate.
// Mismatches are reported in the results, not as an error.
func (c *Checker) ReconcileAll(ctx context.Context) ([]Result, error) {
	fromEntries, err := c.entries.Scopes(ctx)
	if err != nil {
		return nil, err
	}
	fromAggregates, err := c.aggregates.Scopes(ctx)
	if err != nil {
		return nil, err
	}
	scopes := mergeScopes(fromEntries, fromAggregates)

	results := make([]Result, 0, len(scopes))
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := c.Reconcile(ctx, scope)
		if err != nil && !core.IsConsistency(err) {
			return results, fmt.Errorf("reconcile %s: %w", scope, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *Checker) owner(ctx context.Context, cases *storage.Cases, scope core.Scope) (int64, error) {
	if scope.Kind == core.ScopeAdvocateYear {
		return scope.AdvocateID, nil
	}
	return cases.Owner(ctx, scope.CaseID)
}
