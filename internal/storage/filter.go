package storage

import (
	"strings"

	"lexledger/internal/core"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// filterClause builds the WHERE clause for entry queries. prefix qualifies
// column names when the query joins other tables ("e." for example).
func filterClause(advocateID int64, f core.ReportFilter, prefix string) (string, []any) {
	col := func(name string) string { return prefix + name }

	conds := []string{col("advocate_id") + " = ?"}
	args := []any{advocateID}

	switch {
	case f.Year != 0 && f.Month != 0:
		from := core.NewDate(f.Year, f.Month, 1)
		to := core.Date{Time: from.AddDate(0, 1, 0)}
		conds = append(conds, col("occurred_on")+" >= ?", col("occurred_on")+" < ?")
		args = append(args, from.String(), to.String())
	case f.Year != 0:
		from, to := core.YearBounds(f.Year)
		conds = append(conds, col("occurred_on")+" >= ?", col("occurred_on")+" < ?")
		args = append(args, from, to)
	}
	if !f.From.IsZero() {
		conds = append(conds, col("occurred_on")+" >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		conds = append(conds, col("occurred_on")+" <= ?")
		args = append(args, f.To.String())
	}
	if f.CaseID != nil {
		conds = append(conds, col("case_id")+" = ?")
		args = append(args, *f.CaseID)
	}
	if f.Category != nil {
		category, other := f.Category.Columns()
		conds = append(conds, col("category")+" = ?")
		args = append(args, category)
		if f.Category.IsOther() {
			conds = append(conds, col("category_other")+" = ? COLLATE NOCASE")
			args = append(args, other)
		}
	}
	if f.Kind != "" {
		conds = append(conds, col("kind")+" = ?")
		args = append(args, string(f.Kind))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		pattern := "%" + likeEscaper.Replace(q) + "%"
		conds = append(conds, "("+col("description")+` LIKE ? ESCAPE '\' OR `+col("category_other")+` LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	return strings.Join(conds, " AND "), args
}
