// Package ledger is the only mutation surface of the ledger. Every entry
// change and the aggregate deltas it implies commit or roll back together.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lexledger/internal/core"
	"lexledger/internal/log"
	"lexledger/internal/storage"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Invalidator drops cached reports of an advocate after a mutation.
type Invalidator interface {
	Invalidate(advocateID int64)
}

// Deps are the collaborators of the service. Receipts, Publisher and Cache
// are optional.
type Deps struct {
	Cases     core.CaseDirectory
	Receipts  core.ReceiptStore
	Publisher core.EventPublisher
	Cache     Invalidator
	Logger    *log.Logger
}

// Service creates, edits and deletes ledger entries and keeps the case and
// advocate-year aggregates in step with them.
type Service struct {
	db         *storage.DB
	entries    *storage.Entries
	aggregates *storage.Aggregates
	activity   *storage.Activity
	cases      core.CaseDirectory
	receipts   core.ReceiptStore
	publisher  core.EventPublisher
	cache      Invalidator
	logger     *log.Logger
	now        func() time.Time
}

func NewService(db *storage.DB, deps Deps) *Service {
	conn := db.Conn()
	cases := deps.Cases
	if cases == nil {
		cases = storage.NewCases(conn)
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Service{
		db:         db,
		entries:    storage.NewEntries(conn),
		aggregates: storage.NewAggregates(conn),
		activity:   storage.NewActivity(conn),
		cases:      cases,
		receipts:   deps.Receipts,
		publisher:  deps.Publisher,
		cache:      deps.Cache,
		logger:     logger.WithComponent(log.ComponentLedger),
		now:        time.Now,
	}
}

// DeleteOutcome reports side effects of a committed delete that did not
// abort it.
type DeleteOutcome struct {
	// ReceiptWarning is set when the entry's receipt could not be removed.
	ReceiptWarning error
}

// CreateEntry validates spec, stores its receipt and records the entry and
// its aggregate deltas in one transaction.
func (s *Service) CreateEntry(ctx context.Context, actor core.Actor, spec core.EntrySpec) (int64, error) {
	if err := actor.Validate(); err != nil {
		return 0, err
	}
	entry := spec.Entry(actor.AdvocateID)
	if err := entry.Validate(); err != nil {
		return 0, err
	}
	if err := s.authorizeCase(ctx, actor, entry.CaseID); err != nil {
		return 0, err
	}

	ref, err := s.storeReceipt(ctx, spec.Receipt)
	if err != nil {
		return 0, err
	}
	entry.ReceiptRef = ref

	var scopes []core.Scope
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := s.entries.WithTx(tx).Create(ctx, actor.AdvocateID, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		scopes, err = s.propagate(ctx, tx, core.ActionEntryCreated, nil, &entry)
		return err
	})
	if err != nil {
		s.discardReceipt(ctx, ref)
		s.logFailure(ctx, "Create entry rolled back", err, log.NewFields().WithEntry(entry))
		return 0, &core.TransactionFailedError{Op: "create entry", Err: err}
	}

	s.logger.InfoContext(ctx, "Ledger entry created",
		log.NewFields().WithEntry(entry).WithOperation(log.OpCreate).ToSlice()...)
	s.afterCommit(ctx, core.ActionEntryCreated, nil, &entry, scopes)
	return entry.ID, nil
}

// EditEntry replaces the mutable fields of an entry. Kind cannot change. A
// new receipt replaces the old one, which is removed after commit.
func (s *Service) EditEntry(ctx context.Context, actor core.Actor, id int64, spec core.EntrySpec) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if spec.Kind != "" {
		if err := spec.Kind.Validate(); err != nil {
			return &core.ValidationError{Field: "kind", Err: err}
		}
	}
	if err := spec.Changes("").Validate(); err != nil {
		return err
	}
	if err := s.authorizeCase(ctx, actor, spec.CaseID); err != nil {
		return err
	}

	newRef, err := s.storeReceipt(ctx, spec.Receipt)
	if err != nil {
		return err
	}

	var (
		old, updated core.LedgerEntry
		action       = core.ActionEntryEdited
		scopes       []core.Scope
	)
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		entries := s.entries.WithTx(tx)
		var err error
		old, err = entries.GetForUpdate(ctx, actor.AdvocateID, id)
		if err != nil {
			return err
		}
		if spec.Kind != "" && spec.Kind != old.Kind {
			return &core.ValidationError{Field: "kind", Err: core.ErrKindImmutable}
		}
		ref := old.ReceiptRef
		if newRef != "" {
			ref = newRef
		}
		updated, err = entries.Update(ctx, actor.AdvocateID, id, spec.Changes(ref))
		if err != nil {
			return err
		}
		if !core.SameCase(old.CaseID, updated.CaseID) {
			action = core.ActionEntryReassigned
		}
		scopes, err = s.propagate(ctx, tx, action, &old, &updated)
		return err
	})
	if err != nil {
		s.discardReceipt(ctx, newRef)
		s.logFailure(ctx, "Edit entry rolled back", err,
			log.NewFields().WithOperation(log.OpUpdate))
		return &core.TransactionFailedError{Op: "edit entry", Err: err}
	}

	if newRef != "" && old.ReceiptRef != "" && old.ReceiptRef != newRef {
		if err := s.deleteReceipt(ctx, old.ReceiptRef); err != nil {
			s.logger.WarnContext(ctx, "Replaced receipt could not be removed",
				log.FieldEntryID, id, log.FieldReceiptRef, old.ReceiptRef, log.FieldError, err)
		}
	}

	s.logger.InfoContext(ctx, "Ledger entry edited",
		log.NewFields().WithEntry(updated).WithOperation(log.OpUpdate).ToSlice()...)
	s.afterCommit(ctx, action, &old, &updated, scopes)
	return nil
}

// DeleteEntry removes an entry and reverses its contribution. The receipt is
// removed after commit; a failure there is returned as a warning only.
func (s *Service) DeleteEntry(ctx context.Context, actor core.Actor, id int64) (DeleteOutcome, error) {
	var outcome DeleteOutcome
	if err := actor.Validate(); err != nil {
		return outcome, err
	}

	var (
		old    core.LedgerEntry
		scopes []core.Scope
	)
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		entries := s.entries.WithTx(tx)
		var err error
		old, err = entries.GetForUpdate(ctx, actor.AdvocateID, id)
		if err != nil {
			return err
		}
		if err := entries.Delete(ctx, actor.AdvocateID, id); err != nil {
			return err
		}
		scopes, err = s.propagate(ctx, tx, core.ActionEntryDeleted, &old, nil)
		return err
	})
	if err != nil {
		s.logFailure(ctx, "Delete entry rolled back", err,
			log.NewFields().WithOperation(log.OpDelete))
		return outcome, &core.TransactionFailedError{Op: "delete entry", Err: err}
	}

	if old.ReceiptRef != "" {
		if err := s.deleteReceipt(ctx, old.ReceiptRef); err != nil {
			s.logger.WarnContext(ctx, "Receipt of deleted entry could not be removed",
				log.FieldEntryID, id, log.FieldReceiptRef, old.ReceiptRef, log.FieldError, err)
			outcome.ReceiptWarning = err
		}
	}

	s.logger.InfoContext(ctx, "Ledger entry deleted",
		log.NewFields().WithEntry(old).WithOperation(log.OpDelete).ToSlice()...)
	s.afterCommit(ctx, core.ActionEntryDeleted, &old, nil, scopes)
	return outcome, nil
}

func (s *Service) GetEntry(ctx context.Context, actor core.Actor, id int64) (core.LedgerEntry, error) {
	if err := actor.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	return s.entries.Get(ctx, actor.AdvocateID, id)
}

// ListEntries returns the actor's entries matching f, newest first.
func (s *Service) ListEntries(ctx context.Context, actor core.Actor, f core.ReportFilter, limit int) ([]core.LedgerEntry, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.entries.List(ctx, actor.AdvocateID, f, clampLimit(limit))
}

// GetCaseAggregate returns the totals of a case the actor owns. A case with
// no entries yet has zero totals.
func (s *Service) GetCaseAggregate(ctx context.Context, actor core.Actor, caseID int64) (core.CaseAggregate, error) {
	if err := actor.Validate(); err != nil {
		return core.CaseAggregate{}, err
	}
	if err := core.CaseScope(caseID).Validate(); err != nil {
		return core.CaseAggregate{}, err
	}
	if err := s.authorizeCase(ctx, actor, &caseID); err != nil {
		return core.CaseAggregate{}, err
	}
	agg, err := s.aggregates.GetCase(ctx, caseID)
	if core.IsNotFound(err) {
		return core.CaseAggregate{CaseID: caseID}, nil
	}
	return agg, err
}

// GetAdvocateYearAggregate returns the actor's totals for year. It reports
// NotFound when the actor has no entries in that year.
func (s *Service) GetAdvocateYearAggregate(ctx context.Context, actor core.Actor, year int) (core.AdvocateYearAggregate, error) {
	if err := actor.Validate(); err != nil {
		return core.AdvocateYearAggregate{}, err
	}
	if err := core.AdvocateYearScope(actor.AdvocateID, year).Validate(); err != nil {
		return core.AdvocateYearAggregate{}, err
	}
	return s.aggregates.GetAdvocateYear(ctx, actor.AdvocateID, year)
}

// ListActivity returns the actor's audit trail, newest first.
func (s *Service) ListActivity(ctx context.Context, actor core.Actor, limit int) ([]core.ActivityRecord, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	return s.activity.List(ctx, actor.AdvocateID, clampLimit(limit))
}

// propagate applies the aggregate deltas between old and next and appends
// the activity row, all on tx.
func (s *Service) propagate(ctx context.Context, tx *sql.Tx, action core.Action, old, next *core.LedgerEntry) ([]core.Scope, error) {
	aggregates := s.aggregates.WithTx(tx)
	deltas := ComputeDeltas(ContributionOf(old), ContributionOf(next))
	scopes := make([]core.Scope, 0, len(deltas))
	for _, sd := range deltas {
		if _, err := aggregates.ApplyDelta(ctx, sd.Scope, sd.Delta); err != nil {
			return nil, err
		}
		scopes = append(scopes, sd.Scope)
	}

	if _, err := s.activity.WithTx(tx).Append(ctx, activityRecord(action, old, next, s.now())); err != nil {
		return nil, err
	}
	return scopes, nil
}

func activityRecord(action core.Action, old, next *core.LedgerEntry, at time.Time) core.ActivityRecord {
	rec := core.ActivityRecord{Action: action, CreatedAt: at}
	var ref *core.LedgerEntry
	if old != nil {
		ref = old
		rec.OldAmount = old.Amount
		rec.OldCaseID = old.CaseID
	}
	if next != nil {
		ref = next
		rec.NewAmount = next.Amount
		rec.NewCaseID = next.CaseID
	}
	id := ref.ID
	rec.EntryID = &id
	rec.AdvocateID = ref.AdvocateID
	rec.Detail = fmt.Sprintf("%s %s on %s", ref.Kind, ref.Category, ref.OccurredOn)
	return rec
}

// authorizeCase checks that the case exists and belongs to the actor.
func (s *Service) authorizeCase(ctx context.Context, actor core.Actor, caseID *int64) error {
	if caseID == nil {
		return nil
	}
	exists, err := s.cases.CaseExists(ctx, *caseID)
	if err != nil {
		return fmt.Errorf("look up case %d: %w", *caseID, err)
	}
	if !exists {
		return &core.NotFoundError{Resource: "case", ID: core.FormatID(*caseID)}
	}
	owned, err := s.cases.IsCaseOwnedBy(ctx, *caseID, actor.AdvocateID)
	if err != nil {
		return fmt.Errorf("check ownership of case %d: %w", *caseID, err)
	}
	if !owned {
		return &core.AuthorizationError{Resource: "case", ID: core.FormatID(*caseID), AdvocateID: actor.AdvocateID}
	}
	return nil
}

func (s *Service) storeReceipt(ctx context.Context, r *core.Receipt) (string, error) {
	if r == nil {
		return "", nil
	}
	if s.receipts == nil {
		return "", &core.IOError{Op: "store", Err: core.ErrReceiptStoreMissing}
	}
	ref, err := s.receipts.StoreReceipt(ctx, *r)
	if err != nil {
		var ioErr *core.IOError
		if errors.As(err, &ioErr) {
			return "", err
		}
		return "", &core.IOError{Op: "store", Err: err}
	}
	return ref, nil
}

func (s *Service) deleteReceipt(ctx context.Context, ref string) error {
	if s.receipts == nil {
		return &core.IOError{Op: "delete", Ref: ref, Err: core.ErrReceiptStoreMissing}
	}
	if err := s.receipts.DeleteReceipt(ctx, ref); err != nil {
		var ioErr *core.IOError
		if errors.As(err, &ioErr) {
			return err
		}
		return &core.IOError{Op: "delete", Ref: ref, Err: err}
	}
	return nil
}

// discardReceipt removes a receipt stored for a transaction that then
// rolled back.
func (s *Service) discardReceipt(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	if err := s.deleteReceipt(ctx, ref); err != nil {
		s.logger.WarnContext(ctx, "Orphaned receipt could not be removed",
			log.FieldReceiptRef, ref, log.FieldError, err)
	}
}

func (s *Service) afterCommit(ctx context.Context, action core.Action, old, next *core.LedgerEntry, scopes []core.Scope) {
	ref := next
	if ref == nil {
		ref = old
	}
	if s.cache != nil {
		s.cache.Invalidate(ref.AdvocateID)
	}
	if s.publisher == nil {
		return
	}

	ev := core.LedgerEvent{
		Action:     action,
		AdvocateID: ref.AdvocateID,
		EntryID:    ref.ID,
		Kind:       ref.Kind,
		Scopes:     scopes,
		OccurredAt: s.now().UTC(),
	}
	if old != nil {
		ev.OldAmount = old.Amount
		ev.OldCaseID = old.CaseID
	}
	if next != nil {
		ev.NewAmount = next.Amount
		ev.NewCaseID = next.CaseID
	}
	if err := s.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldAction, string(action), log.FieldEntryID, ref.ID, log.FieldError, err)
	}
}

func (s *Service) logFailure(ctx context.Context, msg string, err error, fields log.LogFields) {
	s.logger.ErrorContext(ctx, msg, fields.WithError(err).ToSlice()...)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
