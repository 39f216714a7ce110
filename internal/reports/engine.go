package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"lexledger/internal/cache"
	"lexledger/internal/core"
	"lexledger/internal/log"
	"lexledger/internal/storage"
)

const (
	DefaultLimit = 10
	MaxLimit     = 200
)

// Engine answers read-only reporting queries. Results are cached per
// advocate and dropped by Invalidate whenever that advocate's ledger changes.
type Engine struct {
	reports    *storage.Reports
	aggregates *storage.Aggregates
	cache      cache.Cache[[]byte]
	logger     *log.Logger

	mu          sync.Mutex
	generations map[int64]uint64
	group       singleflight.Group
}

// NewEngine builds an engine over db. A nil cache disables caching.
func NewEngine(db *storage.DB, c cache.Cache[[]byte], logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Engine{
		reports:     storage.NewReports(db.Conn()),
		aggregates:  storage.NewAggregates(db.Conn()),
		cache:       c,
		logger:      logger.WithComponent(log.ComponentReports),
		generations: make(map[int64]uint64),
	}
}

// Invalidate drops every cached result of the advocate. With a shared
// cache the generation is bumped in the cache itself, so other instances
// stop reading and writing the old generation too.
func (e *Engine) Invalidate(advocateID int64) {
	ctx := context.Background()
	owner := core.FormatID(advocateID)

	e.mu.Lock()
	e.generations[advocateID]++
	e.mu.Unlock()

	if v, ok := e.cache.(cache.Versioned); ok {
		if _, err := v.BumpGeneration(owner); err != nil {
			e.logger.WarnContext(ctx, "Failed to bump report cache generation",
				log.FieldAdvocateID, advocateID, log.FieldError, err)
		}
	}
	if e.cache != nil {
		n := e.cache.DeletePrefix(owner + ":")
		e.logger.DebugContext(ctx, "Report cache invalidated",
			log.FieldAdvocateID, advocateID, "removed", n)
	}
}

// generation returns the advocate's current cache generation. ok is false
// when a shared generation cannot be read; the result must then not be
// cached.
func (e *Engine) generation(ctx context.Context, advocateID int64) (gen string, ok bool) {
	e.mu.Lock()
	local := e.generations[advocateID]
	e.mu.Unlock()

	v, shared := e.cache.(cache.Versioned)
	if !shared {
		return strconv.FormatUint(local, 10), true
	}
	g, err := v.Generation(core.FormatID(advocateID))
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to read report cache generation",
			log.FieldAdvocateID, advocateID, log.FieldError, err)
		return "", false
	}
	return strconv.FormatUint(local, 10) + "." + strconv.FormatUint(g, 10), true
}

// cached runs load once per key, sharing the result between concurrent
// callers and storing it in the cache. A result whose generation changed
// while it was loading is returned but not stored.
func cached[T any](ctx context.Context, e *Engine, advocateID int64, name, params string, load func() (T, error)) (T, error) {
	var zero T
	gen, ok := e.generation(ctx, advocateID)
	if e.cache == nil || !ok {
		return load()
	}
	key := core.FormatID(advocateID) + ":" + gen + ":" + name + ":" + params

	if b, ok := e.cache.Get(key); ok {
		var out T
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
		e.cache.Delete(key)
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		out, err := load()
		if err != nil {
			return nil, err
		}
		if cur, ok := e.generation(ctx, advocateID); !ok || cur != gen {
			e.logger.DebugContext(ctx, "Report invalidated while loading, not cached",
				"report", name, log.FieldAdvocateID, advocateID)
			return out, nil
		}
		b, err := json.Marshal(out)
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to encode report for cache", "report", name, log.FieldError, err)
		} else {
			e.cache.Set(key, b)
		}
		return out, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// MonthlySeries returns income, expenses and profit for every month of the
// filtered period, zero-filled.
func (e *Engine) MonthlySeries(ctx context.Context, actor core.Actor, f core.ReportFilter) ([12]core.MonthPoint, error) {
	var zero [12]core.MonthPoint
	if err := actor.Validate(); err != nil {
		return zero, err
	}
	if err := f.Validate(); err != nil {
		return zero, err
	}

	return cached(ctx, e, actor.AdvocateID, "monthly", f.Key(), func() ([12]core.MonthPoint, error) {
		var series [12]core.MonthPoint
		for i := range series {
			series[i].Month = i + 1
		}
		rows, err := e.reports.MonthlyTotals(ctx, actor.AdvocateID, f)
		if err != nil {
			return series, err
		}
		for _, r := range rows {
			if r.Month < 1 || r.Month > 12 {
				continue
			}
			p := &series[r.Month-1]
			if r.Kind == core.Income {
				p.Income.Cents += r.Cents
			} else {
				p.Expenses.Cents += r.Cents
			}
		}
		for i := range series {
			series[i].Profit = series[i].Income.Sub(series[i].Expenses)
		}
		return series, nil
	})
}

// CategoryBreakdown groups the filtered entries by category, largest first.
// Only one kind is reported at a time; expenses unless the filter says
// otherwise.
func (e *Engine) CategoryBreakdown(ctx context.Context, actor core.Actor, f core.ReportFilter) ([]core.CategoryShare, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if f.Kind == "" {
		f.Kind = core.Expense
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	return cached(ctx, e, actor.AdvocateID, "categories", f.Key(), func() ([]core.CategoryShare, error) {
		rows, err := e.reports.CategoryTotals(ctx, actor.AdvocateID, f)
		if err != nil {
			return nil, err
		}
		amounts := make([]int64, len(rows))
		for i, r := range rows {
			amounts[i] = r.Cents
		}
		bps := shares(amounts)
		out := make([]core.CategoryShare, len(rows))
		for i, r := range rows {
			out[i] = core.CategoryShare{
				Category: r.Category,
				Amount:   core.Money{Cents: r.Cents},
				Percent:  basisPointsToPercent(bps[i]),
			}
		}
		return out, nil
	})
}

// CaseRanking lists the advocate's cases by profit, highest first.
func (e *Engine) CaseRanking(ctx context.Context, actor core.Actor, limit int) ([]core.CaseProfit, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	return cached(ctx, e, actor.AdvocateID, "cases", strconv.Itoa(limit), func() ([]core.CaseProfit, error) {
		rows, err := e.reports.CaseRanking(ctx, actor.AdvocateID, limit)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i].MarginPercent = marginPercent(rows[i].Profit.Cents, rows[i].Income.Cents)
		}
		return rows, nil
	})
}

// RecentTransactions is the newest-first feed of income and expense
// entries, optionally narrowed by f.
func (e *Engine) RecentTransactions(ctx context.Context, actor core.Actor, f core.ReportFilter, limit int) ([]core.Transaction, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	return cached(ctx, e, actor.AdvocateID, "transactions", f.Key()+"|n="+strconv.Itoa(limit), func() ([]core.Transaction, error) {
		return e.reports.RecentTransactions(ctx, actor.AdvocateID, f, limit)
	})
}

// YearlySeries returns one point per year in [fromYear, toYear], zero-filled.
func (e *Engine) YearlySeries(ctx context.Context, actor core.Actor, fromYear, toYear int) ([]core.YearPoint, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if fromYear < 1900 || fromYear > 9999 {
		return nil, &core.ValidationError{Field: "from", Err: core.ErrInvalidYear}
	}
	if toYear < 1900 || toYear > 9999 {
		return nil, &core.ValidationError{Field: "to", Err: core.ErrInvalidYear}
	}
	if fromYear > toYear {
		return nil, &core.ValidationError{Field: "from", Err: core.ErrInvalidDateRange}
	}
	if toYear-fromYear >= 100 {
		return nil, &core.ValidationError{Field: "to", Err: fmt.Errorf("%w: at most 100 years", core.ErrInvalidDateRange)}
	}

	params := strconv.Itoa(fromYear) + "-" + strconv.Itoa(toYear)
	return cached(ctx, e, actor.AdvocateID, "yearly", params, func() ([]core.YearPoint, error) {
		rows, err := e.aggregates.ListYears(ctx, actor.AdvocateID, fromYear, toYear)
		if err != nil {
			return nil, err
		}
		byYear := make(map[int]core.Totals, len(rows))
		for _, r := range rows {
			byYear[r.Year] = r.Totals
		}
		out := make([]core.YearPoint, 0, toYear-fromYear+1)
		for y := fromYear; y <= toYear; y++ {
			out = append(out, core.YearPoint{Year: y, Totals: byYear[y]})
		}
		return out, nil
	})
}
