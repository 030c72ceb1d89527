package refund

import (
	"context"

	"github.com/solentline/paybridge/internal/domain/order"
	domain "github.com/solentline/paybridge/internal/domain/refund"
)

// CommerceGateway is the commerce platform surface the refund engine needs.
// CalculateRefund asks the platform to price the restock; CreateRefund is the
// second, commerce-side leg of the money movement.
type CommerceGateway interface {
	GetOrder(ctx context.Context, orderID string) (*order.CommerceOrder, error)
	ListTransactions(ctx context.Context, orderID string) ([]order.Transaction, error)
	CalculateRefund(ctx context.Context, req domain.Request) (*domain.Calculation, error)
	CreateRefund(ctx context.Context, orderID string, calc *domain.Calculation, parentTransactionID, reason string) (string, error)
}

// ProcessorGateway executes the first, processor-side leg against the
// original charge. Amount is tax-inclusive minor units.
type ProcessorGateway interface {
	RefundPayment(ctx context.Context, processorRef string, amountMinor int64) (string, error)
}
