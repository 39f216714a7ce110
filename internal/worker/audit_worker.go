// Package worker consumes ledger events and re-checks the aggregates each
// event touched.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"lexledger/internal/amqp"
	"lexledger/internal/cache"
	"lexledger/internal/core"
	"lexledger/internal/log"
	"lexledger/internal/reconcile"
)

// Reconciler is the part of reconcile.Checker the worker needs.
type Reconciler interface {
	Reconcile(ctx context.Context, scope core.Scope) (reconcile.Result, error)
	ReconcileAll(ctx context.Context) ([]reconcile.Result, error)
}

// AuditWorker reconciles the scopes listed in each ledger event. It reports
// drift and never repairs.
type AuditWorker struct {
	checker Reconciler
	logger  *log.Logger
	// handled message ids; redelivered events are skipped.
	seen *cache.LRUCache[struct{}]

	handled atomic.Int64
	drifted atomic.Int64
}

const (
	seenSize = 10000
	seenTTL  = 24 * time.Hour
)

func NewAuditWorker(checker Reconciler, logger *log.Logger) *AuditWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AuditWorker{
		checker: checker,
		logger:  logger.WithComponent("audit-worker"),
		seen:    cache.NewLRUCache[struct{}](seenSize, seenTTL),
	}
}

// HandleLedgerEvent processes a single ledger event from AMQP. Unparseable
// scopes are logged and skipped. A storage failure is returned so the
// message is requeued.
func (w *AuditWorker) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	if _, ok := w.seen.Get(msg.ID); ok {
		w.logger.DebugContext(ctx, "Skipping duplicate ledger event", "message_id", msg.ID)
		return nil
	}

	w.logger.InfoContext(ctx, "Processing ledger event",
		"message_id", msg.ID,
		log.FieldAction, msg.Action,
		log.FieldAdvocateID, msg.AdvocateID,
		"scopes", len(msg.Scopes))

	for _, raw := range msg.Scopes {
		scope, err := core.ParseScope(raw)
		if err != nil {
			w.logger.WarnContext(ctx, "Ignoring malformed scope in ledger event",
				"message_id", msg.ID, log.FieldScope, raw, log.FieldError, err)
			continue
		}
		if _, err := w.checker.Reconcile(ctx, scope); err != nil {
			if core.IsConsistency(err) {
				w.drifted.Add(1)
				w.logger.WarnContext(ctx, "Ledger event left an aggregate inconsistent",
					"message_id", msg.ID, log.FieldScope, raw)
				continue
			}
			return fmt.Errorf("reconcile %s: %w", raw, err)
		}
	}

	w.seen.Set(msg.ID, struct{}{})
	w.handled.Add(1)
	return nil
}

// StartupCheck reconciles every aggregate once before events are consumed,
// covering mutations whose events were lost while the worker was down.
func (w *AuditWorker) StartupCheck(ctx context.Context) error {
	start := time.Now()
	results, err := w.checker.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	drifted := 0
	for _, r := range results {
		if !r.Consistent() {
			drifted++
		}
	}
	w.drifted.Add(int64(drifted))
	w.logger.InfoContext(ctx, "Startup reconcile completed",
		"checked", len(results),
		"drifted", drifted,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// Stats returns the number of handled events and drifted aggregates seen.
func (w *AuditWorker) Stats() (handled, drifted int64) {
	return w.handled.Load(), w.drifted.Load()
}
