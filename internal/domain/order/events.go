package order

import "time"

// OrderSettledEvent is emitted after a payment artifact has been settled
// into a paid order. It feeds the best-effort CRM mirror; mirror failures
// must never flow back into the settlement.
type OrderSettledEvent struct {
	OrderID     string
	ArtifactID  string
	CustomerRef string
	AmountTotal int64
	Currency    string
	OccurredAt  time.Time
}

func (OrderSettledEvent) EventName() string { return "order.settled" }

func NewOrderSettledEvent(orderID, artifactID, customerRef string, amountTotal int64, currency string) OrderSettledEvent {
	return OrderSettledEvent{
		OrderID:     orderID,
		ArtifactID:  artifactID,
		CustomerRef: customerRef,
		AmountTotal: amountTotal,
		Currency:    currency,
		OccurredAt:  time.Now().UTC(),
	}
}
