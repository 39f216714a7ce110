package http

import (
	"net/http"

	"lexledger/internal/core"
)

func (s *Server) handleCaseAggregate(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathID(r, "caseID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	agg, err := s.ledger.GetCaseAggregate(r.Context(), actorFrom(r.Context()), caseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CaseAggregateJSON{CaseID: agg.CaseID, TotalsJSON: totalsJSON(agg.Totals)})
}

func (s *Server) handleYearAggregate(w http.ResponseWriter, r *http.Request) {
	year, err := pathYear(r, "year")
	if err != nil {
		writeError(w, r, err)
		return
	}
	agg, err := s.ledger.GetAdvocateYearAggregate(r.Context(), actorFrom(r.Context()), year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, YearAggregateJSON{
		AdvocateID: agg.AdvocateID,
		Year:       agg.Year,
		TotalsJSON: totalsJSON(agg.Totals),
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := s.ledger.ListActivity(r.Context(), actorFrom(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]ActivityJSON, 0, len(records))
	for _, a := range records {
		items = append(items, activityJSON(a))
	}
	writeJSON(w, http.StatusOK, newList(items))
}

// scopeParam resolves the aggregate scope named by a reconcile route.
type scopeParam func(r *http.Request, actor core.Actor) (core.Scope, error)

func caseScopeParam(r *http.Request, _ core.Actor) (core.Scope, error) {
	id, err := pathID(r, "caseID")
	if err != nil {
		return core.Scope{}, err
	}
	return core.CaseScope(id), nil
}

func yearScopeParam(r *http.Request, actor core.Actor) (core.Scope, error) {
	year, err := pathYear(r, "year")
	if err != nil {
		return core.Scope{}, err
	}
	return core.AdvocateYearScope(actor.AdvocateID, year), nil
}

func (s *Server) resolveScope(r *http.Request, param scopeParam) (core.Scope, error) {
	actor := actorFrom(r.Context())
	scope, err := param(r, actor)
	if err != nil {
		return scope, err
	}
	return scope, s.checker.Authorize(r.Context(), actor, scope)
}

// handleReconcile compares a stored aggregate with the totals recomputed
// from entries. Drift is reported with 409 and the comparison as body.
func (s *Server) handleReconcile(param scopeParam) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := s.resolveScope(r, param)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.checker.Reconcile(r.Context(), scope)
		if err != nil && !core.IsConsistency(err) {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if !res.Consistent() {
			status = http.StatusConflict
		}
		writeJSON(w, status, reconcileJSON(res))
	}
}

func (s *Server) handleRepair(param scopeParam) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := s.resolveScope(r, param)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.checker.Repair(r.Context(), scope)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, reconcileJSON(res))
	}
}
