package commerce

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/solentline/paybridge/internal/domain/money"
	"github.com/solentline/paybridge/internal/domain/order"
	"github.com/solentline/paybridge/internal/domain/refund"
)

// Wire shapes for the commerce platform admin API, pinned to one API
// version. Amounts travel as 2-decimal strings; decimal.Decimal accepts
// both string and number encodings on the way in. Everything loosely typed
// is converted here, at the boundary; nothing downstream touches raw maps.

type variantEnvelope struct {
	Variant *wireVariant `json:"variant"`
}

type wireVariant struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
}

type draftEnvelope struct {
	DraftOrder *wireDraft `json:"draft_order"`
}

type wireDraft struct {
	ID               string         `json:"id"`
	Status           string         `json:"status"`
	OrderID          string         `json:"order_id,omitempty"`
	LineItems        []wireLineItem `json:"line_items"`
	Customer         *wireCustomer  `json:"customer,omitempty"`
	PaymentTermsName string         `json:"payment_terms_name,omitempty"`
	PaymentDueInDays *int           `json:"payment_due_in_days,omitempty"`
}

type wireCustomer struct {
	ID string `json:"id"`
}

type wireLineItem struct {
	ID       string          `json:"id,omitempty"`
	ItemID   string          `json:"variant_id,omitempty"`
	Title    string          `json:"title,omitempty"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	TaxLines []wireTaxLine   `json:"tax_lines,omitempty"`
}

type wireTaxLine struct {
	Title string          `json:"title"`
	Rate  decimal.Decimal `json:"rate"`
	Price decimal.Decimal `json:"price"`
}

type orderEnvelope struct {
	Order *wireOrder `json:"order"`
}

type ordersEnvelope struct {
	Orders []wireOrder `json:"orders"`
}

type wireOrder struct {
	ID              string          `json:"id"`
	FinancialStatus string          `json:"financial_status"`
	Currency        string          `json:"currency"`
	SubtotalPrice   decimal.Decimal `json:"subtotal_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	TotalTax        decimal.Decimal `json:"total_tax"`
	TotalShipping   decimal.Decimal `json:"total_shipping_price"`
	Reference       string          `json:"reference,omitempty"`
	SourceName      string          `json:"source_name,omitempty"`
	LineItems       []wireLineItem  `json:"line_items,omitempty"`
}

type transactionEnvelope struct {
	Transaction *wireTransaction `json:"transaction"`
}

type transactionsEnvelope struct {
	Transactions []wireTransaction `json:"transactions"`
}

type wireTransaction struct {
	ID           string          `json:"id,omitempty"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	Gateway      string          `json:"gateway,omitempty"`
	ProcessorRef string          `json:"authorization,omitempty"`
	ParentID     string          `json:"parent_id,omitempty"`
}

type refundEnvelope struct {
	Refund *wireRefund `json:"refund"`
}

type wireRefund struct {
	ID              string               `json:"id,omitempty"`
	Currency        string               `json:"currency,omitempty"`
	Note            string               `json:"note,omitempty"`
	RefundLineItems []wireRefundLineItem `json:"refund_line_items,omitempty"`
	Transactions    []wireTransaction    `json:"transactions,omitempty"`
}

type wireRefundLineItem struct {
	LineItemID string          `json:"line_item_id"`
	Quantity   int             `json:"quantity"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TotalTax   decimal.Decimal `json:"total_tax"`
}

// errorsEnvelope is the platform's error body. Errors may be a bare string
// or a field map; both flatten into text for matching and logging.
type errorsEnvelope struct {
	Errors any `json:"errors"`
}

func (e errorsEnvelope) text() string {
	switch v := e.Errors.(type) {
	case string:
		return v
	case map[string]any:
		var parts []string
		for field, msgs := range v {
			switch m := msgs.(type) {
			case string:
				parts = append(parts, field+": "+m)
			case []any:
				for _, one := range m {
					if s, ok := one.(string); ok {
						parts = append(parts, field+": "+s)
					}
				}
			}
		}
		return strings.Join(parts, "; ")
	default:
		return ""
	}
}

func (w wireOrder) toDomain() *order.CommerceOrder {
	o := &order.CommerceOrder{
		ID:              w.ID,
		FinancialStatus: order.FinancialStatus(w.FinancialStatus),
		Currency:        w.Currency,
		Subtotal:        w.SubtotalPrice,
		Total:           w.TotalPrice,
		TotalTax:        w.TotalTax,
		TotalShipping:   w.TotalShipping,
		Reference:       w.Reference,
	}
	for _, li := range w.LineItems {
		o.LineItems = append(o.LineItems, li.toDomain())
	}
	return o
}

func (w wireLineItem) toDomain() order.LineItem {
	li := order.LineItem{
		ID:             w.ID,
		ItemID:         w.ItemID,
		Title:          w.Title,
		Quantity:       w.Quantity,
		UnitPriceExTax: w.Price,
	}
	for _, tl := range w.TaxLines {
		li.TaxAmount = li.TaxAmount.Add(tl.Price)
	}
	return li
}

func (w wireDraft) toDomain() *order.DraftOrderRef {
	d := &order.DraftOrderRef{
		DraftID: w.ID,
		OrderID: w.OrderID,
		Terms:   money.CanonicalTerms(w.PaymentTermsName, w.PaymentDueInDays),
	}
	if w.Customer != nil {
		d.CustomerRef = w.Customer.ID
	}
	for _, li := range w.LineItems {
		d.LineItems = append(d.LineItems, li.toDomain())
	}
	return d
}

func (w wireTransaction) toDomain() order.Transaction {
	return order.Transaction{
		ID:           w.ID,
		Kind:         order.TransactionKind(w.Kind),
		Status:       order.TransactionStatus(w.Status),
		Amount:       w.Amount,
		Currency:     w.Currency,
		ProcessorRef: w.ProcessorRef,
		ParentID:     w.ParentID,
		Gateway:      w.Gateway,
	}
}

func (w wireRefund) toCalculation() *refund.Calculation {
	calc := &refund.Calculation{Currency: w.Currency}
	for _, li := range w.RefundLineItems {
		calc.Amount = calc.Amount.Add(li.Subtotal).Add(li.TotalTax)
		calc.PerLine = append(calc.PerLine, refund.LineRefund{
			LineItemID: li.LineItemID,
			Quantity:   li.Quantity,
			Subtotal:   li.Subtotal,
			Tax:        li.TotalTax,
		})
	}
	calc.Amount = calc.Amount.Round(2)
	return calc
}
