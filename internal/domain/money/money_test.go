package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestExToInc(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		rate   string
		want   string
	}{
		{"standard rate", "10.00", "0.20", "12.00"},
		{"rounds half up", "10.02", "0.175", "11.77"},
		{"zero rate", "10.00", "0", "10.00"},
		{"zero amount", "0.00", "0.20", "0.00"},
		{"line total example", "20.00", "0.20", "24.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExToInc(d(tc.amount), d(tc.rate))
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestIncToExRoundTripWithinOneMinorUnit(t *testing.T) {
	rates := []string{"0", "0.05", "0.10", "0.175", "0.20", "0.25"}
	amounts := []string{"0.01", "0.99", "1.00", "9.99", "10.00", "123.45", "9999.99"}

	tolerance := d("0.01")
	for _, r := range rates {
		for _, a := range amounts {
			rate, amount := d(r), d(a)
			back := IncToEx(ExToInc(amount, rate), rate)
			diff := back.Sub(amount).Abs()
			assert.True(t, diff.LessThanOrEqual(tolerance),
				"round trip of %s at rate %s drifted by %s", a, r, diff)
		}
	}
}

func TestMinorUnits(t *testing.T) {
	require.Equal(t, int64(2400), ToMinorUnits(d("24.00")))
	require.Equal(t, int64(1), ToMinorUnits(d("0.01")))
	require.Equal(t, int64(0), ToMinorUnits(decimal.Zero))

	assert.True(t, FromMinorUnits(2400).Equal(d("24.00")))
	assert.True(t, FromMinorUnits(1).Equal(d("0.01")))
}

func TestNetExTaxPrecedence(t *testing.T) {
	lines := []decimal.Decimal{d("10.00"), d("5.50")}

	t.Run("subtotal wins when present", func(t *testing.T) {
		got := NetExTax(d("20.00"), d("26.00"), d("2.00"), d("4.00"), lines)
		assert.True(t, got.Equal(d("16.00")), "got %s", got)
	})

	t.Run("falls back to total minus shipping minus tax", func(t *testing.T) {
		got := NetExTax(decimal.Zero, d("26.00"), d("2.00"), d("4.00"), lines)
		assert.True(t, got.Equal(d("20.00")), "got %s", got)
	})

	t.Run("falls back to line totals last", func(t *testing.T) {
		got := NetExTax(decimal.Zero, decimal.Zero, d("2.00"), d("4.00"), lines)
		assert.True(t, got.Equal(d("15.50")), "got %s", got)
	})
}
