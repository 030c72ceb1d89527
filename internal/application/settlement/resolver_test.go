package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solentline/paybridge/internal/domain/checkout"
)

func TestResolveReference(t *testing.T) {
	t.Run("artifact back-reference wins", func(t *testing.T) {
		ref, err := ResolveReference(&checkout.PaymentArtifact{
			ID:            "cs_1",
			BackReference: "draft_9",
			Metadata:      map[string]string{checkout.MetaDraftID: "draft_other"},
			Lines:         []checkout.ArtifactLine{{ItemRef: "item_1", Quantity: 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, RefDraft, ref.Kind)
		assert.Equal(t, "draft_9", ref.DraftID)
	})

	t.Run("metadata draft id is second", func(t *testing.T) {
		ref, err := ResolveReference(&checkout.PaymentArtifact{
			ID:       "cs_2",
			Metadata: map[string]string{checkout.MetaDraftID: "draft_42"},
		})
		require.NoError(t, err)
		assert.Equal(t, RefDraft, ref.Kind)
		assert.Equal(t, "draft_42", ref.DraftID)
	})

	t.Run("line item refs give the direct path", func(t *testing.T) {
		ref, err := ResolveReference(&checkout.PaymentArtifact{
			ID: "cs_3",
			Lines: []checkout.ArtifactLine{
				{ItemRef: "item_1", Quantity: 2},
				{ItemRef: "item_2", Quantity: 1},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, RefDirect, ref.Kind)
		assert.Len(t, ref.Lines, 2)
	})

	t.Run("no reference at all", func(t *testing.T) {
		_, err := ResolveReference(&checkout.PaymentArtifact{ID: "cs_4"})
		assert.ErrorIs(t, err, ErrUnresolvableReference)
	})

	t.Run("one line missing its ref poisons the artifact", func(t *testing.T) {
		_, err := ResolveReference(&checkout.PaymentArtifact{
			ID: "cs_5",
			Lines: []checkout.ArtifactLine{
				{ItemRef: "item_1", Quantity: 1},
				{Quantity: 3},
			},
		})
		assert.ErrorIs(t, err, ErrUnresolvableReference)
	})
}
