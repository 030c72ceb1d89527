package checkout

import (
	"context"

	domain "github.com/solentline/paybridge/internal/domain/checkout"
	domorder "github.com/solentline/paybridge/internal/domain/order"
)

// CatalogResolver fetches trusted current prices and titles. It fails
// whole-lookup on any unresolvable id; there is no partial answer.
type CatalogResolver interface {
	ResolveItems(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error)
}

// DraftReader reads a draft whose line prices are already trusted.
type DraftReader interface {
	GetDraft(ctx context.Context, draftID string) (*domorder.DraftOrderRef, error)
}

// ArtifactSpecLine is one priced line of an artifact to create. UnitAmountInc
// is tax-inclusive minor units; ItemRef is the opaque back-reference embedded
// on the line.
type ArtifactSpecLine struct {
	Title         string
	ItemRef       string
	UnitAmountInc int64
	Quantity      int
}

// ArtifactSpec describes the payment artifact to create on the processor.
type ArtifactSpec struct {
	Kind          domain.ArtifactKind
	Currency      string
	BackReference string
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
	Lines         []ArtifactSpecLine
}

// ProcessorGateway creates payment artifacts on the payment processor and
// returns the customer-facing URL.
type ProcessorGateway interface {
	CreateArtifact(ctx context.Context, spec ArtifactSpec) (*domain.PaymentArtifact, string, error)
}
