package money

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// TestRoundTripProperty verifies the documented rounding bound:
// |IncToEx(ExToInc(a, r), r) - a| <= one minor unit, for any 2dp amount and
// any rate below 100%.
func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	tolerance := decimal.New(1, -2)

	properties.Property("round trip stays within one minor unit", prop.ForAll(
		func(amountMinor int64, rateBps int64) bool {
			amount := decimal.New(amountMinor, -2)
			rate := decimal.New(rateBps, -4)
			back := IncToEx(ExToInc(amount, rate), rate)
			return back.Sub(amount).Abs().LessThanOrEqual(tolerance)
		},
		gen.Int64Range(0, 100_000_000), // up to 1,000,000.00
		gen.Int64Range(0, 9_999),       // 0% to 99.99%
	))

	properties.TestingRun(t)
}
