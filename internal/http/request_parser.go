// Package http provides the JSON API of the ledger.
//
// This file implements utilities for parsing and validating request data:
// the acting advocate, path ids, report filters and JSON bodies.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lexledger/internal/core"
	"lexledger/internal/log"
	"lexledger/internal/receipts"
)

// AdvocateHeader carries the id of the authenticated advocate. It is set by
// the portal's authenticating proxy.
const AdvocateHeader = "X-Advocate-ID"

// maxBodyBytes leaves room for a base64 receipt of receipts.MaxSize.
const maxBodyBytes = receipts.MaxSize*4/3 + 64<<10

type actorKey struct{}

var errMissingActor = errors.New("missing or invalid " + AdvocateHeader + " header")

// requireActor rejects requests without a usable advocate id and stores the
// actor in the request context.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(AdvocateHeader))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeErrorBody(w, r, http.StatusUnauthorized, "unauthenticated", errMissingActor.Error(), "")
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, core.Actor{AdvocateID: id})
		logger := log.FromContext(ctx).With(log.FieldAdvocateID, id)
		ctx = log.IntoContext(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom returns the actor stored by requireActor. A zero actor fails
// validation in every service.
func actorFrom(ctx context.Context) core.Actor {
	actor, _ := ctx.Value(actorKey{}).(core.Actor)
	return actor
}

// pathID parses a positive int64 path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &core.ValidationError{Field: name, Err: errors.New("must be a positive integer")}
	}
	return id, nil
}

// pathYear parses a year path parameter.
func pathYear(r *http.Request, name string) (int, error) {
	y, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, &core.ValidationError{Field: name, Err: core.ErrInvalidYear}
	}
	return y, nil
}

func queryInt(q url.Values, name string) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &core.ValidationError{Field: name, Err: errors.New("must be an integer")}
	}
	return n, nil
}

// queryLimit reads ?limit=; zero means the operation's default.
func queryLimit(q url.Values) (int, error) {
	n, err := queryInt(q, "limit")
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &core.ValidationError{Field: "limit", Err: core.ErrInvalidLimit}
	}
	return n, nil
}

// ParseFilter builds a report filter from year, month, case_id, category,
// kind, q, from and to. Validation of the combination is left to the
// services.
func ParseFilter(q url.Values) (core.ReportFilter, error) {
	var f core.ReportFilter
	var err error
	if f.Year, err = queryInt(q, "year"); err != nil {
		return f, err
	}
	if f.Month, err = queryInt(q, "month"); err != nil {
		return f, err
	}
	if v := strings.TrimSpace(q.Get("case_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, &core.ValidationError{Field: "case_id", Err: core.ErrInvalidCaseID}
		}
		f.CaseID = &id
	}
	if v := strings.TrimSpace(q.Get("category")); v != "" {
		c, err := core.ParseCategory(v)
		if err != nil {
			return f, &core.ValidationError{Field: "category", Err: err}
		}
		f.Category = &c
	}
	if v := strings.TrimSpace(q.Get("kind")); v != "" {
		k, err := core.ParseEntryKind(v)
		if err != nil {
			return f, &core.ValidationError{Field: "kind", Err: err}
		}
		f.Kind = k
	}
	f.Search = strings.TrimSpace(q.Get("q"))
	for _, d := range []struct {
		name string
		dst  *core.Date
	}{{"from", &f.From}, {"to", &f.To}} {
		v := strings.TrimSpace(q.Get(d.name))
		if v == "" {
			continue
		}
		date, err := core.ParseDate(v)
		if err != nil {
			return f, &core.ValidationError{Field: d.name, Err: err}
		}
		*d.dst = date
	}
	return f, nil
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and oversized bodies.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &core.ValidationError{Field: "receipt", Err: receipts.ErrTooLarge}
		}
		if errors.Is(err, io.EOF) {
			return &badRequestError{msg: "request body is empty"}
		}
		return &badRequestError{msg: "malformed JSON body: " + err.Error()}
	}
	if dec.More() {
		return &badRequestError{msg: "request body must hold a single JSON object"}
	}
	return nil
}
