// Package money holds the amount checks shared by the settlement packages.
// Amounts are shopspring decimals in dinars with two fractional digits.
package money

import (
	"github.com/shopspring/decimal"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
)

// Places is the number of fractional digits in the minor unit (centimes).
const Places = 2

var Hundred = decimal.NewFromInt(100)

// InMinorUnit reports whether d has no more than two fractional digits.
func InMinorUnit(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Places))
}

// NonNegative validates an amount that may be zero.
func NonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return apperr.Invalid(field, "must not be negative, got %s", d.StringFixed(Places))
	}
	return Scale(field, d)
}

// Positive validates an amount that must be strictly greater than zero.
func Positive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return apperr.Invalid(field, "must be positive, got %s", d.String())
	}
	return Scale(field, d)
}

// Scale validates that d fits the minor unit.
func Scale(field string, d decimal.Decimal) error {
	if !InMinorUnit(d) {
		return apperr.Invalid(field, "has more than %d decimal places: %s", Places, d.String())
	}
	return nil
}

// Sum adds amounts.
func Sum(ds ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}
