package money

import (
	"github.com/shopspring/decimal"

	ierr "billing-service/internal/errors"
)

// Currency describes a supported settlement currency. Scale is the number of
// decimal places amounts carry at rest and on the wire.
type Currency struct {
	Code   string
	Scale  int32
	Symbol string
}

var currencies = map[string]Currency{
	"IDR": {Code: "IDR", Scale: 0, Symbol: "Rp"},
	"MYR": {Code: "MYR", Scale: 2, Symbol: "RM"},
	"USD": {Code: "USD", Scale: 2, Symbol: "$"},
	"SGD": {Code: "SGD", Scale: 2, Symbol: "S$"},
	"PHP": {Code: "PHP", Scale: 2, Symbol: "₱"},
	"THB": {Code: "THB", Scale: 2, Symbol: "฿"},
	"INR": {Code: "INR", Scale: 2, Symbol: "₹"},
}

const defaultScale = 2

// Supported reports whether code is a known settlement currency.
func Supported(code string) bool {
	_, ok := currencies[code]
	return ok
}

// ValidateCurrency rejects unknown currency codes. This is the only gate;
// downstream scale lookups assume a validated code.
func ValidateCurrency(code string) error {
	if !Supported(code) {
		return ierr.NewError("unsupported currency").
			WithHintf("Currency %s is not supported", code).
			WithReportableDetails(map[string]any{"currency": code}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Scale returns the currency's native decimal scale. Unknown codes fall back
// to two decimal places; ValidateCurrency is the gate that rejects them.
func Scale(code string) int32 {
	if c, ok := currencies[code]; ok {
		return c.Scale
	}
	return defaultScale
}

// Symbol returns the display symbol for a currency code, or the code itself.
func Symbol(code string) string {
	if c, ok := currencies[code]; ok {
		return c.Symbol
	}
	return code
}

// Round applies banker's rounding (half to even) at the currency's native
// scale. All monetary arithmetic in the system settles through this function.
func Round(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.RoundBank(Scale(code))
}

// SmallestUnit returns the minimal representable amount for the currency,
// e.g. 1 for IDR and 0.01 for USD.
func SmallestUnit(code string) decimal.Decimal {
	return decimal.New(1, -Scale(code))
}

// ValidateAmount rejects negative amounts and amounts carrying more
// fractional digits than the currency allows. The check is value-based:
// "100.00" is a valid IDR amount, "100.50" is not.
func ValidateAmount(amount decimal.Decimal, code string) error {
	if err := ValidateCurrency(code); err != nil {
		return err
	}
	if amount.IsNegative() {
		return ierr.NewError("negative amount").
			WithHintf("Amount %s must not be negative", amount.String()).
			Mark(ierr.ErrValidation)
	}
	if !amount.RoundBank(Scale(code)).Equal(amount) {
		return ierr.NewError("amount exceeds currency scale").
			WithHintf("Amount %s has more than %d decimal places for %s", amount.String(), Scale(code), code).
			WithReportableDetails(map[string]any{
				"amount":   amount.String(),
				"currency": code,
				"scale":    Scale(code),
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// FormatAmount renders an amount at the currency's native scale for wire
// serialization (decimal string, no symbol).
func FormatAmount(amount decimal.Decimal, code string) string {
	return amount.StringFixed(Scale(code))
}
