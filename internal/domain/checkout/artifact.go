package checkout

import "errors"

var (
	ErrNotFound       = errors.New("checkout: artifact not found")
	ErrPriceLookup    = errors.New("checkout: price lookup failed")
	ErrEmptyCart      = errors.New("checkout: cart has no lines")
	ErrMissingDraft   = errors.New("checkout: draft reference is required")
	ErrAlreadySettled = errors.New("checkout: artifact already settled")
)

// Metadata keys carried on payment artifacts. The settlement pipeline
// recovers commerce-side identity from these; they are the only trusted
// back-channel between artifact creation and webhook delivery.
const (
	MetaDraftID     = "draft_order_id"
	MetaCustomerRef = "crm_customer_ref"
	MetaSource      = "source"
	MetaItemRef     = "item_ref"
)

type ArtifactKind string

const (
	KindSession ArtifactKind = "session"
	KindLink    ArtifactKind = "link"
)

type ArtifactStatus string

const (
	StatusOpen      ArtifactStatus = "open"
	StatusCompleted ArtifactStatus = "completed"
	StatusExpired   ArtifactStatus = "expired"
	StatusDisabled  ArtifactStatus = "disabled"
)

// ArtifactLine is one purchasable line on a payment artifact. ItemRef is the
// opaque back-reference (commerce item id) embedded at creation time.
type ArtifactLine struct {
	ItemRef  string
	Quantity int
}

// PaymentArtifact is what a customer actually pays against: a checkout
// session or a payment link. AmountTotal is the processor-reported
// tax-inclusive total in minor units and is authoritative for what was
// charged; no component recomputes it.
type PaymentArtifact struct {
	ID            string
	Kind          ArtifactKind
	Status        ArtifactStatus
	AmountTotal   int64
	Currency      string
	BackReference string
	Metadata      map[string]string
	Lines         []ArtifactLine

	// LinkID is set when the artifact is a session spawned by a payment
	// link; retiring the artifact deactivates the link itself.
	LinkID string
	// PaymentIntentRef is the processor-side payment reference once the
	// artifact completes. Refunds execute against it.
	PaymentIntentRef string
}
