package money

import (
	"github.com/shopspring/decimal"

	ierr "billing-service/internal/errors"
)

// maxTaxRateDigits is the maximum number of fractional digits a tax rate may
// carry. 0.1234 is valid, 0.12345 is not.
const maxTaxRateDigits = 4

var one = decimal.NewFromInt(1)

// ValidateTaxRate enforces the tax-rate contract: rate in [0, 1] with at most
// four fractional digits. The digit check is value-based so "0.10000" passes.
func ValidateTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return ierr.NewError("tax rate out of range").
			WithHintf("Tax rate %s must be between 0 and 1", rate.String()).
			Mark(ierr.ErrValidation)
	}
	if !rate.Round(maxTaxRateDigits).Equal(rate) {
		return ierr.NewError("tax rate too precise").
			WithHintf("Tax rate %s must have at most %d decimal places", rate.String(), maxTaxRateDigits).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// TaxAmount computes the per-line tax: subtotal × rate, rounded at the
// currency's scale. The service fee never enters the tax base.
func TaxAmount(subtotal, rate decimal.Decimal, code string) decimal.Decimal {
	return Round(subtotal.Mul(rate), code)
}

// ServiceFee composes the gateway fee: the percentage component is rounded at
// the currency scale before the fixed component is added. The base is the
// subtotal alone, never subtotal plus tax.
func ServiceFee(subtotal, feePercentage, feeFixed decimal.Decimal, code string) decimal.Decimal {
	return Round(subtotal.Mul(feePercentage), code).Add(feeFixed)
}
