package stripeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	appcheckout "github.com/solentline/paybridge/internal/application/checkout"
	"github.com/solentline/paybridge/internal/application/settlement"
	"github.com/solentline/paybridge/internal/domain/checkout"
	"github.com/solentline/paybridge/internal/domain/refund"
	"github.com/solentline/paybridge/internal/observability"
)

const peer = "stripe"

// Gateway adapts the payment processor API. It holds its own client instance;
// nothing here touches process-global SDK state, so two gateways with two
// keys can coexist in one process.
type Gateway struct {
	api           *client.API
	signingSecret string

	log          observability.Logger
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

// New builds a Gateway around a dedicated API client.
func New(apiKey, signingSecret string, tel observability.Observability) *Gateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)

	baseLog := observability.NopLogger()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLog = tel.Logger()
		metricsProvider = tel.Metrics()
	}

	return &Gateway{
		api:           sc,
		signingSecret: signingSecret,
		log:           baseLog.With(observability.F("component", "stripe_gateway")),
		extCounter:    metricsProvider.Counter(observability.MExternalRequests),
		extHistogram:  metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

// CreateArtifact creates a checkout session or a payment link from the priced
// spec. Prices arriving here are already tax-inclusive minor units.
func (g *Gateway) CreateArtifact(ctx context.Context, spec appcheckout.ArtifactSpec) (*checkout.PaymentArtifact, string, error) {
	switch spec.Kind {
	case checkout.KindSession:
		return g.createSession(ctx, spec)
	case checkout.KindLink:
		return g.createLink(ctx, spec)
	default:
		return nil, "", fmt.Errorf("stripeclient: unknown artifact kind %q", spec.Kind)
	}
}

func (g *Gateway) createSession(ctx context.Context, spec appcheckout.ArtifactSpec) (*checkout.PaymentArtifact, string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(spec.SuccessURL),
		CancelURL:  stripe.String(spec.CancelURL),
	}
	params.Context = ctx
	params.Metadata = spec.Metadata
	if spec.BackReference != "" {
		params.ClientReferenceID = stripe.String(spec.BackReference)
	}
	for _, l := range spec.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(l.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(spec.Currency)),
				UnitAmount: stripe.Int64(l.UnitAmountInc),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(l.Title),
					Metadata: map[string]string{checkout.MetaItemRef: l.ItemRef},
				},
			},
		})
	}

	start := time.Now()
	s, err := g.api.CheckoutSessions.New(params)
	g.observe("checkout_session_new", start, err)
	if err != nil {
		return nil, "", fmt.Errorf("stripeclient: create session: %w", err)
	}

	artifact := &checkout.PaymentArtifact{
		ID:            s.ID,
		Kind:          checkout.KindSession,
		Status:        checkout.StatusOpen,
		AmountTotal:   s.AmountTotal,
		Currency:      spec.Currency,
		BackReference: spec.BackReference,
		Metadata:      spec.Metadata,
	}
	for _, l := range spec.Lines {
		artifact.Lines = append(artifact.Lines, checkout.ArtifactLine{ItemRef: l.ItemRef, Quantity: l.Quantity})
	}
	return artifact, s.URL, nil
}

// createLink first materializes each line as a reusable price, then hangs the
// link off those prices. The item reference lives in the price's product
// metadata, same place the session path puts it.
func (g *Gateway) createLink(ctx context.Context, spec appcheckout.ArtifactSpec) (*checkout.PaymentArtifact, string, error) {
	params := &stripe.PaymentLinkParams{}
	params.Context = ctx
	params.Metadata = spec.Metadata

	var total int64
	for _, l := range spec.Lines {
		priceParams := &stripe.PriceParams{
			Currency:   stripe.String(strings.ToLower(spec.Currency)),
			UnitAmount: stripe.Int64(l.UnitAmountInc),
			ProductData: &stripe.PriceProductDataParams{
				Name:     stripe.String(l.Title),
				Metadata: map[string]string{checkout.MetaItemRef: l.ItemRef},
			},
		}
		priceParams.Context = ctx

		start := time.Now()
		p, err := g.api.Prices.New(priceParams)
		g.observe("price_new", start, err)
		if err != nil {
			return nil, "", fmt.Errorf("stripeclient: create price for %s: %w", l.ItemRef, err)
		}

		params.LineItems = append(params.LineItems, &stripe.PaymentLinkLineItemParams{
			Price:    stripe.String(p.ID),
			Quantity: stripe.Int64(int64(l.Quantity)),
		})
		total += l.UnitAmountInc * int64(l.Quantity)
	}

	start := time.Now()
	pl, err := g.api.PaymentLinks.New(params)
	g.observe("payment_link_new", start, err)
	if err != nil {
		return nil, "", fmt.Errorf("stripeclient: create payment link: %w", err)
	}

	artifact := &checkout.PaymentArtifact{
		ID:          pl.ID,
		Kind:        checkout.KindLink,
		Status:      checkout.StatusOpen,
		AmountTotal: total,
		Currency:    spec.Currency,
		Metadata:    spec.Metadata,
		LinkID:      pl.ID,
	}
	for _, l := range spec.Lines {
		artifact.Lines = append(artifact.Lines, checkout.ArtifactLine{ItemRef: l.ItemRef, Quantity: l.Quantity})
	}
	return artifact, pl.URL, nil
}

// GetArtifact re-reads the authoritative session state. Payment links settle
// through the sessions they spawn, so the id here is always a session id;
// Kind only records how the artifact was created.
func (g *Gateway) GetArtifact(ctx context.Context, id string, _ checkout.ArtifactKind) (*checkout.PaymentArtifact, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items.data.price.product")
	params.AddExpand("payment_intent")

	start := time.Now()
	s, err := g.api.CheckoutSessions.Get(id, params)
	g.observe("checkout_session_get", start, err)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("stripeclient: session %s: %w", id, checkout.ErrNotFound)
		}
		return nil, fmt.Errorf("stripeclient: get session %s: %w", id, err)
	}
	return sessionToArtifact(s), nil
}

func sessionToArtifact(s *stripe.CheckoutSession) *checkout.PaymentArtifact {
	a := &checkout.PaymentArtifact{
		ID:            s.ID,
		Kind:          checkout.KindSession,
		AmountTotal:   s.AmountTotal,
		Currency:      strings.ToUpper(string(s.Currency)),
		BackReference: s.ClientReferenceID,
		Metadata:      s.Metadata,
	}
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	if s.PaymentLink != nil {
		a.Kind = checkout.KindLink
		a.LinkID = s.PaymentLink.ID
		// Link-level metadata is the creation-time metadata; the spawned
		// session may not carry it.
		for k, v := range s.PaymentLink.Metadata {
			if _, ok := a.Metadata[k]; !ok {
				a.Metadata[k] = v
			}
		}
	}
	if s.PaymentIntent != nil {
		a.PaymentIntentRef = s.PaymentIntent.ID
	}

	switch s.Status {
	case stripe.CheckoutSessionStatusOpen:
		a.Status = checkout.StatusOpen
	case stripe.CheckoutSessionStatusComplete:
		a.Status = checkout.StatusCompleted
	case stripe.CheckoutSessionStatusExpired:
		a.Status = checkout.StatusExpired
	default:
		a.Status = checkout.StatusOpen
	}
	if s.PaymentLink != nil && !s.PaymentLink.Active {
		a.Status = checkout.StatusDisabled
	}

	if s.LineItems != nil {
		for _, li := range s.LineItems.Data {
			line := checkout.ArtifactLine{Quantity: int(li.Quantity)}
			if li.Price != nil && li.Price.Product != nil {
				line.ItemRef = li.Price.Product.Metadata[checkout.MetaItemRef]
			}
			a.Lines = append(a.Lines, line)
		}
	}
	return a
}

// DisableIfActive retires the artifact: expired or completed sessions are
// already unusable, but a payment link stays payable until deactivated.
func (g *Gateway) DisableIfActive(ctx context.Context, artifact *checkout.PaymentArtifact) (bool, error) {
	if artifact.Kind == checkout.KindLink && artifact.LinkID != "" {
		getParams := &stripe.PaymentLinkParams{}
		getParams.Context = ctx

		start := time.Now()
		pl, err := g.api.PaymentLinks.Get(artifact.LinkID, getParams)
		g.observe("payment_link_get", start, err)
		if err != nil {
			return false, fmt.Errorf("stripeclient: get payment link %s: %w", artifact.LinkID, err)
		}
		if !pl.Active {
			return false, nil
		}

		updParams := &stripe.PaymentLinkParams{Active: stripe.Bool(false)}
		updParams.Context = ctx

		start = time.Now()
		_, err = g.api.PaymentLinks.Update(artifact.LinkID, updParams)
		g.observe("payment_link_update", start, err)
		if err != nil {
			return false, fmt.Errorf("stripeclient: deactivate payment link %s: %w", artifact.LinkID, err)
		}
		return true, nil
	}

	if artifact.Status != checkout.StatusOpen {
		return false, nil
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	start := time.Now()
	_, err := g.api.CheckoutSessions.Expire(artifact.ID, params)
	g.observe("checkout_session_expire", start, err)
	if err != nil {
		return false, fmt.Errorf("stripeclient: expire session %s: %w", artifact.ID, err)
	}
	return true, nil
}

// RefundPayment executes the processor leg of a refund against the original
// payment. amountMinor is tax-inclusive minor units.
func (g *Gateway) RefundPayment(ctx context.Context, processorRef string, amountMinor int64) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(processorRef),
		Amount:        stripe.Int64(amountMinor),
	}
	params.Context = ctx

	start := time.Now()
	r, err := g.api.Refunds.New(params)
	g.observe("refund_new", start, err)
	if err != nil {
		if isResourceMissing(err) {
			return "", fmt.Errorf("stripeclient: payment %s: %w", processorRef, refund.ErrOriginalPaymentNotFound)
		}
		return "", fmt.Errorf("stripeclient: refund %s: %w", processorRef, err)
	}
	return r.ID, nil
}

// VerifyEvent authenticates and decodes a webhook delivery. It fails closed:
// anything short of a valid signature over the exact raw body is rejected.
func (g *Gateway) VerifyEvent(payload []byte, signatureHeader string) (*settlement.ProcessorEvent, error) {
	if g.signingSecret == "" || signatureHeader == "" {
		return nil, settlement.ErrSignatureInvalid
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.signingSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", settlement.ErrSignatureInvalid, err)
	}

	evt := &settlement.ProcessorEvent{ID: event.ID}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		evt.Actionable = true
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		evt.Actionable = true
		evt.Async = true
	default:
		return evt, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("stripeclient: decode event %s: %w", event.ID, err)
	}
	// A completion with payment still pending settles later via the async
	// success event.
	if !evt.Async && s.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		evt.Actionable = false
		return evt, nil
	}

	evt.ArtifactID = s.ID
	evt.Kind = checkout.KindSession
	if s.PaymentLink != nil {
		evt.Kind = checkout.KindLink
	}
	return evt, nil
}

func (g *Gateway) observe(endpoint string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if g.extCounter != nil {
		g.extCounter.Add(1,
			observability.L("peer", peer),
			observability.L("endpoint", endpoint),
			observability.L("outcome", outcome),
		)
	}
	if g.extHistogram != nil {
		g.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peer),
			observability.L("endpoint", endpoint),
		)
	}
}

func isResourceMissing(err error) bool {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return sErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
