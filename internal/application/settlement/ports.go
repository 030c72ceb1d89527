package settlement

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/solentline/paybridge/internal/domain/checkout"
	"github.com/solentline/paybridge/internal/domain/order"
)

var (
	// ErrSignatureInvalid means the webhook payload could not be
	// authenticated. Handlers reject these before any acknowledgement.
	ErrSignatureInvalid = errors.New("settlement: webhook signature invalid")

	// ErrDraftAlreadyCompleted is the recoverable completion conflict: the
	// platform reports the draft was finalized earlier, usually by a replayed
	// delivery of the same event.
	ErrDraftAlreadyCompleted = errors.New("settlement: draft already completed")

	// ErrUnresolvableReference means the artifact carries no usable link back
	// to commerce data. The event is acknowledged and the failure journaled
	// for operator review.
	ErrUnresolvableReference = errors.New("settlement: unresolvable artifact reference")
)

// ProcessorEvent is an authenticated, decoded processor notification.
// Actionable is false for event types the flow acknowledges and discards.
type ProcessorEvent struct {
	ID         string
	ArtifactID string
	Kind       checkout.ArtifactKind
	Async      bool
	Actionable bool
}

// EventVerifier authenticates a raw webhook delivery and decodes it. It must
// fail closed: any doubt about the signature is ErrSignatureInvalid.
type EventVerifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (*ProcessorEvent, error)
}

// ArtifactGateway reads back the authoritative artifact from the processor
// and retires it after settlement. Event payloads are never trusted for
// amounts or line data.
type ArtifactGateway interface {
	GetArtifact(ctx context.Context, id string, kind checkout.ArtifactKind) (*checkout.PaymentArtifact, error)
	// DisableIfActive retires the artifact so a shared link cannot be paid
	// twice. It reports whether this call performed the transition.
	DisableIfActive(ctx context.Context, artifact *checkout.PaymentArtifact) (bool, error)
}

// PaidOrderLine is one line of an order created directly from artifact data.
// Prices are ex-tax major units.
type PaidOrderLine struct {
	ItemID         string
	Title          string
	Quantity       int
	UnitPriceExTax decimal.Decimal
	TaxAmount      decimal.Decimal
}

// PaidOrderSpec describes an order to create in paid state on the commerce
// platform. Reference carries the artifact id for duplicate detection.
type PaidOrderSpec struct {
	Reference   string
	CustomerRef string
	Currency    string
	SourceName  string
	Lines       []PaidOrderLine
	TotalTax    decimal.Decimal
	TaxRate     decimal.Decimal
}

// CommerceGateway is the commerce platform surface the settlement flow needs.
type CommerceGateway interface {
	GetDraft(ctx context.Context, draftID string) (*order.DraftOrderRef, error)
	// CompleteDraft finalizes a draft into an order and returns the order id.
	// A conflict with an earlier completion is ErrDraftAlreadyCompleted.
	CompleteDraft(ctx context.Context, draftID string) (string, error)
	GetOrder(ctx context.Context, orderID string) (*order.CommerceOrder, error)
	FindOrderByReference(ctx context.Context, reference string) (*order.CommerceOrder, error)
	ListTransactions(ctx context.Context, orderID string) ([]order.Transaction, error)
	CreateTransaction(ctx context.Context, orderID string, tx order.Transaction) (order.Transaction, error)
	MarkOrderPaid(ctx context.Context, orderID string) error
	CreatePaidOrder(ctx context.Context, spec PaidOrderSpec) (*order.CommerceOrder, error)
}

// CatalogResolver fetches trusted prices for the direct path, where only
// item references survive the round trip through the processor.
type CatalogResolver interface {
	ResolveItems(ctx context.Context, ids []string) (map[string]checkout.CatalogItem, error)
}
