package http

import (
	"net/http"

	"lexledger/internal/core"
)

func (s *Server) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	series, err := s.reports.MonthlySeries(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	points := make([]MonthPointJSON, 0, len(series))
	for _, p := range series {
		points = append(points, MonthPointJSON{
			Month: p.Month,
			TotalsJSON: totalsJSON(core.Totals{
				Income:   p.Income,
				Expenses: p.Expenses,
				Profit:   p.Profit,
			}),
		})
	}
	writeJSON(w, http.StatusOK, newList(points))
}

func (s *Server) handleCategoryReport(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	shares, err := s.reports.CategoryBreakdown(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]CategoryShareJSON, 0, len(shares))
	for _, sh := range shares {
		items = append(items, CategoryShareJSON{
			Category: categoryJSON(sh.Category),
			Amount:   moneyJSON(sh.Amount),
			Percent:  sh.Percent,
		})
	}
	writeJSON(w, http.StatusOK, newList(items))
}

func (s *Server) handleCaseRanking(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ranking, err := s.reports.CaseRanking(r.Context(), actorFrom(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]CaseProfitJSON, 0, len(ranking))
	for _, c := range ranking {
		items = append(items, CaseProfitJSON{
			CaseID:        c.CaseID,
			CaseTitle:     c.CaseTitle,
			TotalsJSON:    totalsJSON(c.Totals),
			MarginPercent: c.MarginPercent,
		})
	}
	writeJSON(w, http.StatusOK, newList(items))
}

func (s *Server) handleRecentTransactions(w http.ResponseWriter, r *http.Request) {
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
	txs, err := s.reports.RecentTransactions(r.Context(), actorFrom(r.Context()), f, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]TransactionJSON, 0, len(txs))
	for _, t := range txs {
		items = append(items, TransactionJSON{
			EntryID:     t.EntryID,
			Kind:        string(t.Kind),
			Amount:      moneyJSON(t.Amount),
			OccurredOn:  t.OccurredOn,
			Category:    categoryJSON(t.Category),
			Description: t.Description,
			CaseID:      t.CaseID,
			CaseTitle:   t.CaseTitle,
		})
	}
	writeJSON(w, http.StatusOK, newList(items))
}

// handleYearlyReport serves ?from=YYYY&to=YYYY. Both default to the
// current year.
func (s *Server) handleYearlyReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := queryInt(q, "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryInt(q, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	year := s.now().Year()
	if from == 0 && to == 0 {
		from, to = year, year
	} else if from == 0 {
		from = to
	} else if to == 0 {
		to = from
	}

	series, err := s.reports.YearlySeries(r.Context(), actorFrom(r.Context()), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]YearPointJSON, 0, len(series))
	for _, p := range series {
		items = append(items, YearPointJSON{Year: p.Year, TotalsJSON: totalsJSON(p.Totals)})
	}
	writeJSON(w, http.StatusOK, newList(items))
}
