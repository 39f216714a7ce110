package log

import (
	"errors"

	"lexledger/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldAdvocateID    = "advocate_id"
	FieldEntryID       = "entry_id"
	FieldCaseID        = "case_id"
	FieldKind          = "kind"
	FieldCategory      = "category"
	FieldYear          = "year"
	FieldAmountCents   = "amount_cents"
	FieldAction        = "action"
	FieldScope         = "scope"
	FieldReceiptRef    = "receipt_ref"
	FieldEventType     = "event_type"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentReports   = "reports"
	ComponentReconcile = "reconcile"
	ComponentStorage   = "storage"
	ComponentReceipts  = "receipts"
	ComponentAMQP      = "amqp"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpReconcile = "reconcile"
	OpRepair    = "repair"
	OpPublish   = "publish"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeConsistency   = "consistency_error"
	ErrorTypeIO            = "io_error"
	ErrorTypeTransaction   = "transaction_error"
	ErrorTypeInternal      = "internal_error"
)

// ErrorType classifies err into one of the ErrorType constants.
func ErrorType(err error) string {
	var (
		ve *core.ValidationError
		nf *core.NotFoundError
		ae *core.AuthorizationError
		ce *core.ConsistencyError
		ie *core.IOError
		te *core.TransactionFailedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ErrorTypeValidation
	case errors.As(err, &nf):
		return ErrorTypeNotFound
	case errors.As(err, &ae):
		return ErrorTypeAuth
	case errors.As(err, &ce):
		return ErrorTypeConsistency
	case errors.As(err, &ie):
		return ErrorTypeIO
	case errors.As(err, &te):
		return ErrorTypeTransaction
	}
	return ErrorTypeInternal
}

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds the error and its classification
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = ErrorType(err)
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithEntry adds the identifying fields of a ledger entry
func (f LogFields) WithEntry(e core.LedgerEntry) LogFields {
	f[FieldEntryID] = e.ID
	f[FieldAdvocateID] = e.AdvocateID
	f[FieldKind] = string(e.Kind)
	f[FieldAmountCents] = e.Amount.Cents
	f[FieldCategory] = e.Category.String()
	if e.CaseID != nil {
		f[FieldCaseID] = *e.CaseID
	}
	return f
}

// WithScope adds an aggregate scope
func (f LogFields) WithScope(s core.Scope) LogFields {
	f[FieldScope] = s.String()
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
