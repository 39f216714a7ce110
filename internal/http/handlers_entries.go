package http

import (
	"net/http"

	"lexledger/internal/core"
	"lexledger/internal/log"
)

// CreatedJSON is returned by POST /api/entries.
type CreatedJSON struct {
	ID    int64     `json:"id"`
	Entry EntryJSON `json:"entry"`
}

// DeletedJSON is returned by DELETE /api/entries/{id}. ReceiptWarning is
// set when the entry is gone but its receipt could not be removed.
type DeletedJSON struct {
	ID             int64  `json:"id"`
	Deleted        bool   `json:"deleted"`
	ReceiptWarning string `json:"receipt_warning,omitempty"`
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	spec, err := req.Spec(true)
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor := actorFrom(r.Context())
	id, err := s.ledger.CreateEntry(r.Context(), actor, spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.ledger.GetEntry(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/entries/"+core.FormatID(id))
	writeJSON(w, http.StatusCreated, CreatedJSON{ID: id, Entry: entryJSON(entry)})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.ledger.GetEntry(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryJSON(entry))
}

func (s *Server) handleEditEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req EntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	spec, err := req.Spec(false)
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor := actorFrom(r.Context())
	if err := s.ledger.EditEntry(r.Context(), actor, id, spec); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.ledger.GetEntry(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryJSON(entry))
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcome, err := s.ledger.DeleteEntry(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := DeletedJSON{ID: id, Deleted: true}
	if outcome.ReceiptWarning != nil {
		resp.ReceiptWarning = outcome.ReceiptWarning.Error()
		log.FromContext(r.Context()).WarnContext(r.Context(), "Entry deleted with receipt warning",
			log.FieldEntryID, id, log.FieldError, outcome.ReceiptWarning)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := ParseFilter(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryLimit(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := s.ledger.ListEntries(r.Context(), actorFrom(r.Context()), f, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]EntryJSON, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryJSON(e))
	}
	writeJSON(w, http.StatusOK, newList(items))
}
