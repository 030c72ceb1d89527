package order

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/solentline/paybridge/internal/domain/money"
)

var (
	ErrNotFound         = errors.New("order: not found")
	ErrStatusRegression = errors.New("order: financial status cannot regress from paid")
)

// FinancialStatus is the commerce-side payment state of an order. It is
// monotonic: once an order is paid it can only move toward refunded, never
// back to pending.
type FinancialStatus string

const (
	StatusPending           FinancialStatus = "pending"
	StatusPaid              FinancialStatus = "paid"
	StatusPartiallyRefunded FinancialStatus = "partially_refunded"
	StatusRefunded          FinancialStatus = "refunded"
)

var statusRank = map[FinancialStatus]int{
	StatusPending:           0,
	StatusPaid:              1,
	StatusPartiallyRefunded: 2,
	StatusRefunded:          3,
}

// LineItem is one purchased line on a commerce order or draft.
type LineItem struct {
	ID             string
	ItemID         string
	Title          string
	Quantity       int
	UnitPriceExTax decimal.Decimal
	TaxAmount      decimal.Decimal
}

// Total is the line's ex-tax extended amount.
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPriceExTax.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

// CommerceOrder mirrors the commerce platform's order record. All amounts
// are 2-decimal major units in the order's currency.
type CommerceOrder struct {
	ID              string
	FinancialStatus FinancialStatus
	LineItems       []LineItem
	Subtotal        decimal.Decimal
	Total           decimal.Decimal
	TotalTax        decimal.Decimal
	TotalShipping   decimal.Decimal
	Currency        string

	// Reference is the payment-artifact id recorded on the order at
	// creation. The de-duplication guard looks orders up by it.
	Reference string
}

// SetFinancialStatus applies a status transition, enforcing monotonicity.
func (o *CommerceOrder) SetFinancialStatus(s FinancialStatus) error {
	if statusRank[s] < statusRank[o.FinancialStatus] {
		return ErrStatusRegression
	}
	o.FinancialStatus = s
	return nil
}

// IsPaid reports whether money has moved for this order in any form.
func (o *CommerceOrder) IsPaid() bool {
	return statusRank[o.FinancialStatus] >= statusRank[StatusPaid]
}

// NetExTax applies the canonical net ex-tax precedence to this order's
// totals.
func (o *CommerceOrder) NetExTax() decimal.Decimal {
	lineTotals := make([]decimal.Decimal, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		lineTotals = append(lineTotals, li.Total())
	}
	return money.NetExTax(o.Subtotal, o.Total, o.TotalShipping, o.TotalTax, lineTotals)
}

// FindLineItem returns the line with the given id, or nil.
func (o *CommerceOrder) FindLineItem(id string) *LineItem {
	for i := range o.LineItems {
		if o.LineItems[i].ID == id {
			return &o.LineItems[i]
		}
	}
	return nil
}

// DraftOrderRef identifies a not-yet-finalized quoted cart on the commerce
// platform. A draft is converted into exactly one CommerceOrder; once
// OrderID is set the draft is terminal.
type DraftOrderRef struct {
	DraftID     string
	OrderID     string
	LineItems   []LineItem
	CustomerRef string
	Terms       money.Terms
}
