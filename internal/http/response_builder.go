// Package http provides the JSON API of the ledger.
//
// This file implements response writing and the mapping from domain errors
// to HTTP status codes and error bodies.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"lexledger/internal/core"
	"lexledger/internal/log"
	"lexledger/internal/middleware/trace"
)

// ErrorBody is the envelope of every non-2xx JSON response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// badRequestError marks a request the API could not decode at all.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, code, message, field string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		Field:     field,
		RequestID: trace.GetRequestID(r.Context()),
	}})
}

// statusFor maps an error to its status code and error code. The specific
// domain errors are looked for before a wrapping transaction failure, so a
// rolled-back edit of a missing entry is still a 404.
func statusFor(err error) (int, string) {
	var (
		br *badRequestError
		ve *core.ValidationError
		nf *core.NotFoundError
		ae *core.AuthorizationError
		ce *core.ConsistencyError
		ie *core.IOError
	)
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.As(err, &nf):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &ae):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &ce):
		return http.StatusConflict, "inconsistent_aggregate"
	case errors.As(err, &ie):
		return http.StatusBadGateway, "receipt_storage_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError logs err and writes the matching error body. Internal errors
// never leak their message to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	logger := log.FromContext(r.Context())

	message := err.Error()
	var field string
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		field = ve.Field
		message = ve.Error()
	}

	switch {
	case status >= 500:
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldError, err, log.FieldErrorType, log.ErrorType(err))
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	default:
		logger.DebugContext(r.Context(), "Request rejected",
			log.FieldError, err, log.FieldErrorType, log.ErrorType(err))
	}

	writeErrorBody(w, r, status, code, message, field)
}
