package reports

import (
	"sort"

	"github.com/shopspring/decimal"
)

const wholeBasisPoints = 10000

// shares splits 100.00% across amounts proportionally. The result is in
// basis points and uses the largest-remainder method so that it always sums
// to exactly 10000 when total is positive. The arithmetic is done in
// decimal because amount*10000 and the total can exceed int64.
func shares(amounts []int64) []int64 {
	out := make([]int64, len(amounts))
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromInt(a))
	}
	if !total.IsPositive() {
		return out
	}

	type rem struct {
		idx int
		r   decimal.Decimal
	}
	whole := decimal.NewFromInt(wholeBasisPoints)
	rems := make([]rem, len(amounts))
	var assigned int64
	for i, a := range amounts {
		q, r := decimal.NewFromInt(a).Mul(whole).QuoRem(total, 0)
		out[i] = q.IntPart()
		rems[i] = rem{idx: i, r: r}
		assigned += out[i]
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].r.GreaterThan(rems[j].r) })
	for k := 0; assigned < wholeBasisPoints; k++ {
		out[rems[k%len(rems)].idx]++
		assigned++
	}
	return out
}

func basisPointsToPercent(bp int64) decimal.Decimal {
	return decimal.New(bp, -2)
}

// marginPercent is profit/income*100 rounded to two places, zero when there
// is no income.
func marginPercent(profitCents, incomeCents int64) decimal.Decimal {
	if incomeCents == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(profitCents).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(incomeCents)).
		Round(2)
}
