package settlement

import (
	"fmt"

	"github.com/solentline/paybridge/internal/domain/checkout"
)

// ReferenceKind says which settlement path an artifact resolves to.
type ReferenceKind string

const (
	// RefDraft settles by finalizing an existing draft.
	RefDraft ReferenceKind = "draft"
	// RefDirect settles by creating a paid order from the artifact's lines.
	RefDirect ReferenceKind = "direct"
)

// Reference is the resolved link from a payment artifact back to commerce
// data. Exactly one of DraftID or Lines is populated.
type Reference struct {
	Kind    ReferenceKind
	DraftID string
	Lines   []checkout.ArtifactLine
}

// ResolveReference walks the reference chain in priority order: the
// artifact-level back-reference, then the draft id in artifact metadata,
// then per-line item references. An artifact with none of these is
// ErrUnresolvableReference.
func ResolveReference(a *checkout.PaymentArtifact) (Reference, error) {
	if a.BackReference != "" {
		return Reference{Kind: RefDraft, DraftID: a.BackReference}, nil
	}
	if id := a.Metadata[checkout.MetaDraftID]; id != "" {
		return Reference{Kind: RefDraft, DraftID: id}, nil
	}

	if len(a.Lines) == 0 {
		return Reference{}, fmt.Errorf("%w: artifact %s has no lines and no draft reference", ErrUnresolvableReference, a.ID)
	}
	for i, l := range a.Lines {
		if l.ItemRef == "" {
			return Reference{}, fmt.Errorf("%w: artifact %s line %d has no item reference", ErrUnresolvableReference, a.ID, i)
		}
	}
	return Reference{Kind: RefDirect, Lines: a.Lines}, nil
}
