package money

import (
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// ExToInc converts an ex-tax major-unit amount to a tax-inclusive amount at
// the given rate, rounded to 2 decimal places half-up.
func ExToInc(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(one.Add(rate)).Round(2)
}

// IncToEx is the inverse of ExToInc. Because both directions round to 2
// decimal places, the round-trip is only guaranteed to land within 1 minor
// unit of the original amount; it is a rounding approximation, not exact.
func IncToEx(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Div(one.Add(rate)).Round(2)
}

// ToMinorUnits converts a 2-decimal major-unit amount into integer minor
// units for payment-processor calls.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts integer minor units back to a major-unit amount.
func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Shift(-2)
}

// NetExTax computes an order's net ex-tax total. The source systems expose
// overlapping totals, so one precedence applies everywhere:
//
//  1. subtotal - totalTax, when subtotal is positive
//  2. total - totalShipping - totalTax, when total is positive
//  3. sum of line totals
//
// No caller may use another formula.
func NetExTax(subtotal, total, totalShipping, totalTax decimal.Decimal, lineTotals []decimal.Decimal) decimal.Decimal {
	if subtotal.IsPositive() {
		return subtotal.Sub(totalTax).Round(2)
	}
	if total.IsPositive() {
		return total.Sub(totalShipping).Sub(totalTax).Round(2)
	}
	sum := decimal.Zero
	for _, lt := range lineTotals {
		sum = sum.Add(lt)
	}
	return sum.Round(2)
}
