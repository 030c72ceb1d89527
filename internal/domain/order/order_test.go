package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestFinancialStatusNeverRegresses(t *testing.T) {
	o := &CommerceOrder{ID: "1001", FinancialStatus: StatusPending}

	require.NoError(t, o.SetFinancialStatus(StatusPaid))
	assert.True(t, o.IsPaid())

	err := o.SetFinancialStatus(StatusPending)
	require.ErrorIs(t, err, ErrStatusRegression)
	assert.Equal(t, StatusPaid, o.FinancialStatus)

	require.NoError(t, o.SetFinancialStatus(StatusPartiallyRefunded))
	require.NoError(t, o.SetFinancialStatus(StatusRefunded))
	require.ErrorIs(t, o.SetFinancialStatus(StatusPaid), ErrStatusRegression)
}

func TestNetExTaxUsesOrderTotals(t *testing.T) {
	o := &CommerceOrder{
		Subtotal:      dec("20.00"),
		Total:         dec("26.00"),
		TotalShipping: dec("2.00"),
		TotalTax:      dec("4.00"),
		LineItems: []LineItem{
			{ID: "li-1", Quantity: 2, UnitPriceExTax: dec("10.00")},
		},
	}
	assert.True(t, o.NetExTax().Equal(dec("16.00")), "got %s", o.NetExTax())

	// With no subtotal nor total it falls through to line totals.
	o.Subtotal = decimal.Zero
	o.Total = decimal.Zero
	assert.True(t, o.NetExTax().Equal(dec("20.00")), "got %s", o.NetExTax())
}

func TestFindSuccessfulSale(t *testing.T) {
	txs := []Transaction{
		{ID: "t1", Kind: TransactionSale, Status: TransactionFailure},
		{ID: "t2", Kind: TransactionRefund, Status: TransactionSuccess},
		{ID: "t3", Kind: TransactionSale, Status: TransactionSuccess, ProcessorRef: "pi_123"},
	}
	sale := FindSuccessfulSale(txs)
	require.NotNil(t, sale)
	assert.Equal(t, "t3", sale.ID)
	assert.Equal(t, "pi_123", sale.ProcessorRef)

	assert.Nil(t, FindSuccessfulSale(nil))
}
