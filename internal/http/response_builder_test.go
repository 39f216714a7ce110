package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"lexledger/internal/core"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantTag  string
	}{
		{"bad request", &badRequestError{msg: "x"}, http.StatusBadRequest, "bad_request"},
		{"validation", &core.ValidationError{Field: "amount", Err: core.ErrInvalidAmount}, http.StatusUnprocessableEntity, "validation_failed"},
		{"not found", &core.NotFoundError{Resource: "entry", ID: "1"}, http.StatusNotFound, "not_found"},
		{"authorization", &core.AuthorizationError{Resource: "case"}, http.StatusForbidden, "forbidden"},
		{"consistency", &core.ConsistencyError{}, http.StatusConflict, "inconsistent_aggregate"},
		{"receipt io", &core.IOError{Op: "store", Err: errors.New("quota")}, http.StatusBadGateway, "receipt_storage_failed"},
		{
			"not found inside rolled back tx",
			&core.TransactionFailedError{Op: "edit entry", Err: &core.NotFoundError{Resource: "entry", ID: "9"}},
			http.StatusNotFound, "not_found",
		},
		{
			"plain rollback",
			&core.TransactionFailedError{Op: "create entry", Err: errors.New("database is locked")},
			http.StatusInternalServerError, "internal_error",
		},
		{"wrapped validation", fmt.Errorf("ctx: %w", &core.ValidationError{Field: "kind"}), http.StatusUnprocessableEntity, "validation_failed"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, tag := statusFor(tt.err)
			if code != tt.wantCode || tag != tt.wantTag {
				t.Errorf("statusFor = %d %q, want %d %q", code, tag, tt.wantCode, tt.wantTag)
			}
		})
	}
}

func TestWriteErrorHidesInternalMessages(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(w, r, errors.New("sql: connection refused at 10.0.0.3"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Message != "internal error" {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestWriteErrorReportsField(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	writeError(w, r, &core.TransactionFailedError{
		Op:  "edit entry",
		Err: &core.ValidationError{Field: "kind", Err: core.ErrKindImmutable},
	})

	var body ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusUnprocessableEntity || body.Error.Field != "kind" {
		t.Errorf("status %d body %+v", w.Code, body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}
