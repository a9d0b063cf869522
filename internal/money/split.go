package money

import (
	"github.com/shopspring/decimal"
)

// EqualSplit partitions total into n parts at the currency's scale. Parts
// 1..n-1 receive the rounded base; the final part absorbs the residual so the
// parts always sum back to total exactly.
func EqualSplit(total decimal.Decimal, n int, code string) []decimal.Decimal {
	parts := make([]decimal.Decimal, n)
	if n <= 0 {
		return parts
	}
	if n == 1 {
		parts[0] = total
		return parts
	}

	base := Round(total.Div(decimal.NewFromInt(int64(n))), code)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = base
		allocated = allocated.Add(base)
	}
	parts[n-1] = total.Sub(allocated)
	return parts
}

// ProportionalSplit distributes component across weights, where weightTotal
// is the sum of weights. Entries 1..n-1 take round(component × weight_i /
// weightTotal) at the currency scale; the last entry absorbs the residual so
// the distribution conserves component exactly.
func ProportionalSplit(component decimal.Decimal, weights []decimal.Decimal, weightTotal decimal.Decimal, code string) []decimal.Decimal {
	n := len(weights)
	parts := make([]decimal.Decimal, n)
	if n == 0 {
		return parts
	}
	if n == 1 || weightTotal.IsZero() {
		for i := range parts {
			parts[i] = decimal.Zero
		}
		parts[n-1] = component
		return parts
	}

	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		share := component.Mul(weights[i]).Div(weightTotal)
		parts[i] = Round(share, code)
		allocated = allocated.Add(parts[i])
	}
	parts[n-1] = component.Sub(allocated)
	return parts
}
