package refund

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solentline/paybridge/internal/domain/order"
)

var (
	ErrZeroAmount              = errors.New("refund: calculated amount is zero or negative")
	ErrOriginalPaymentNotFound = errors.New("refund: original payment not found")
	// ErrReconciliationRequired marks a partial cross-system execution: the
	// processor leg succeeded but the commerce leg did not. It must never be
	// auto-retried with a freshly recomputed amount.
	ErrReconciliationRequired = errors.New("refund: partial execution, operator reconciliation required")
)

// RequestLine asks for a quantity reduction on one purchased line.
type RequestLine struct {
	LineItemID string
	Quantity   int
}

// Request is an ephemeral ask to refund part of an order. It is validated
// against the purchased order before any external call is made.
type Request struct {
	OrderID string
	Lines   []RequestLine
	Reason  string
}

// Validate rejects malformed requests and quantities exceeding what was
// purchased. It performs no external calls.
func (r Request) Validate(o *order.CommerceOrder) error {
	if r.OrderID == "" {
		return errors.New("refund: order id is required")
	}
	if len(r.Lines) == 0 {
		return errors.New("refund: at least one line is required")
	}
	for _, l := range r.Lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("refund: line %s: quantity must be greater than zero", l.LineItemID)
		}
		li := o.FindLineItem(l.LineItemID)
		if li == nil {
			return fmt.Errorf("refund: line %s: not on order %s", l.LineItemID, o.ID)
		}
		if l.Quantity > li.Quantity {
			return fmt.Errorf("refund: line %s: quantity %d exceeds purchased %d", l.LineItemID, l.Quantity, li.Quantity)
		}
	}
	return nil
}

// LineRefund is the commerce system's per-line breakdown of a calculation.
type LineRefund struct {
	LineItemID string
	Quantity   int
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
}

// Calculation is the commerce system's answer to "what is a consistent
// refund for these line reductions". Only the commerce system computes it;
// the engine never recomputes discount or tax logic.
type Calculation struct {
	Amount   decimal.Decimal
	Currency string
	PerLine  []LineRefund
}

// Execution records both legs of an executed refund. Both legs reference
// the same calculated amount.
type Execution struct {
	CommerceRefundID  string
	ProcessorRefundID string
	Amount            decimal.Decimal
	Currency          string
}
