package core

import (
	"errors"
	"fmt"
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports a missing entry, case or aggregate. Entries owned
// by someone else are reported as not found as well.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// AuthorizationError reports that the actor may not touch a resource.
type AuthorizationError struct {
	Resource   string
	ID         string
	AdvocateID int64
}

func (e *AuthorizationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("advocate %d is not authorized for %s", e.AdvocateID, e.Resource)
	}
	return fmt.Sprintf("advocate %d is not authorized for %s %s", e.AdvocateID, e.Resource, e.ID)
}

// ConsistencyError reports an aggregate whose stored totals disagree with
// the expected ones.
type ConsistencyError struct {
	Scope    Scope
	Expected Totals
	Actual   Totals
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("aggregate %s inconsistent: expected %s, got %s", e.Scope, e.Expected, e.Actual)
}

// IOError reports a receipt storage failure.
type IOError struct {
	Op  string
	Ref string
	Err error
}

func (e *IOError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("receipt %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("receipt %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// TransactionFailedError wraps whatever made a ledger transaction roll back.
type TransactionFailedError struct {
	Op  string
	Err error
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("%s: transaction rolled back: %v", e.Op, e.Err)
}

func (e *TransactionFailedError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
