package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/solentline/paybridge/internal/domain/checkout"
	"github.com/solentline/paybridge/internal/domain/money"
	"github.com/solentline/paybridge/internal/observability"
	"github.com/solentline/paybridge/internal/observability/logctx"
)

const (
	checkoutService = "checkout-service"
	useCaseCreate   = "checkout.create"
	spanPrefix      = "UC."
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrPriceLookup  = domain.ErrPriceLookup
	ErrEmptyCart    = domain.ErrEmptyCart
	ErrInvalidInput = errors.New("checkout: invalid input")
)

// CreateCheckoutUseCase turns a cart or a finalized draft into a payment
// artifact on the processor, converting trusted ex-tax prices into
// tax-inclusive minor units at the boundary.
type CreateCheckoutUseCase struct {
	catalog CatalogResolver
	drafts  DraftReader
	gateway ProcessorGateway
	tel     observability.Observability

	taxRate  decimal.Decimal
	currency string
	baseURL  string

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

// NewCreateCheckoutUseCase wires the dependencies required to execute the use case.
func NewCreateCheckoutUseCase(
	catalog CatalogResolver,
	drafts DraftReader,
	gateway ProcessorGateway,
	taxRate decimal.Decimal,
	currency string,
	baseURL string,
	tel observability.Observability,
) *CreateCheckoutUseCase {
	baseLog := observability.NopLogger()
	if tel != nil {
		baseLog = tel.Logger()
	}
	baseLog = baseLog.With(
		observability.F("service", checkoutService),
	)

	metricsProvider := observability.NopMetrics()
	if tel != nil {
		metricsProvider = tel.Metrics()
	}

	return &CreateCheckoutUseCase{
		catalog:      catalog,
		drafts:       drafts,
		gateway:      gateway,
		tel:          tel,
		taxRate:      taxRate,
		currency:     currency,
		baseURL:      baseURL,
		log:          baseLog,
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
	}
}

type CreateCheckoutInput struct {
	Kind        domain.ArtifactKind
	DraftID     string
	CustomerRef string
	Source      string
	Lines       []domain.CartLine
}

type CreateCheckoutResult struct {
	ArtifactID  string
	Kind        domain.ArtifactKind
	URL         string
	AmountTotal int64
	Currency    string
}

// Execute creates the payment artifact. With a DraftID it trusts the draft's
// line prices; otherwise it reprices every cart line from the catalog.
func (uc *CreateCheckoutUseCase) Execute(ctx context.Context, cmd CreateCheckoutInput) (_ *CreateCheckoutResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseCreate))

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"CreateCheckout",
		attribute.String("use_case", useCaseCreate),
		attribute.String("checkout.kind", string(cmd.Kind)),
		attribute.String("checkout.draft_id", cmd.DraftID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		if uc.reqCounter != nil {
			uc.reqCounter.Add(1,
				observability.L("use_case", useCaseCreate),
				observability.L("outcome", outcome),
			)
		}
		if uc.durHistogram != nil {
			uc.durHistogram.Observe(lat,
				observability.L("use_case", useCaseCreate),
			)
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	kind := cmd.Kind
	if kind == "" {
		kind = domain.KindSession
	}
	if kind != domain.KindSession && kind != domain.KindLink {
		outcome, statusText = "error", "KIND_INVALID"
		return nil, newValidation(fmt.Sprintf("unknown artifact kind %q", cmd.Kind))
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	spec := ArtifactSpec{
		Kind:       kind,
		Currency:   uc.currency,
		Metadata:   map[string]string{},
		SuccessURL: uc.baseURL + "/checkout/success",
		CancelURL:  uc.baseURL + "/checkout/cancelled",
	}
	if cmd.Source != "" {
		spec.Metadata[domain.MetaSource] = cmd.Source
	}

	if cmd.DraftID != "" {
		spec, err = uc.specFromDraft(ctx, spec, cmd)
	} else {
		spec, err = uc.specFromCart(ctx, spec, cmd)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			outcome, statusText = "error", "DRAFT_NOT_FOUND"
		case errors.Is(err, domain.ErrPriceLookup):
			outcome, statusText = "error", "PRICE_LOOKUP_FAILED"
		case errors.Is(err, domain.ErrEmptyCart):
			outcome, statusText = "error", "CART_EMPTY"
		default:
			outcome, statusText = "error", "SPEC_BUILD_FAILED"
		}
		return nil, err
	}

	artifact, url, err := uc.gateway.CreateArtifact(ctx, spec)
	if err != nil {
		outcome, statusText = "error", "PROCESSOR_CREATE_FAILED"
		return nil, fmt.Errorf("checkout: create artifact: %w", err)
	}

	span.SetAttributes(
		attribute.String("checkout.artifact_id", artifact.ID),
		attribute.Int64("checkout.amount_total", artifact.AmountTotal),
	)
	span.AddEvent("checkout.artifact_created",
		trace.WithAttributes(attribute.String("checkout.artifact_id", artifact.ID)),
	)

	return &CreateCheckoutResult{
		ArtifactID:  artifact.ID,
		Kind:        artifact.Kind,
		URL:         url,
		AmountTotal: artifact.AmountTotal,
		Currency:    artifact.Currency,
	}, nil
}

// specFromDraft builds the artifact from a finalized draft. Draft line prices
// are trusted as-is; the draft id rides along as the back-reference so the
// settlement flow can find its way back.
func (uc *CreateCheckoutUseCase) specFromDraft(ctx context.Context, spec ArtifactSpec, cmd CreateCheckoutInput) (ArtifactSpec, error) {
	draft, err := uc.drafts.GetDraft(ctx, cmd.DraftID)
	if err != nil {
		return spec, fmt.Errorf("checkout: load draft %s: %w", cmd.DraftID, err)
	}
	if len(draft.LineItems) == 0 {
		return spec, domain.ErrEmptyCart
	}

	spec.BackReference = draft.DraftID
	spec.Metadata[domain.MetaDraftID] = draft.DraftID

	customerRef := cmd.CustomerRef
	if customerRef == "" {
		customerRef = draft.CustomerRef
	}
	if customerRef != "" {
		spec.Metadata[domain.MetaCustomerRef] = customerRef
	}

	for _, li := range draft.LineItems {
		spec.Lines = append(spec.Lines, ArtifactSpecLine{
			Title:         li.Title,
			ItemRef:       li.ItemID,
			UnitAmountInc: money.ToMinorUnits(money.ExToInc(li.UnitPriceExTax, uc.taxRate)),
			Quantity:      li.Quantity,
		})
	}
	return spec, nil
}

// specFromCart reprices every cart line from the catalog; client-supplied
// prices are never forwarded to the processor.
func (uc *CreateCheckoutUseCase) specFromCart(ctx context.Context, spec ArtifactSpec, cmd CreateCheckoutInput) (ArtifactSpec, error) {
	if len(cmd.Lines) == 0 {
		return spec, domain.ErrEmptyCart
	}

	ids := make([]string, 0, len(cmd.Lines))
	for _, l := range cmd.Lines {
		if err := l.Validate(); err != nil {
			return spec, newValidation(err.Error())
		}
		ids = append(ids, l.ItemID)
	}

	items, err := uc.catalog.ResolveItems(ctx, ids)
	if err != nil {
		return spec, fmt.Errorf("checkout: resolve items: %w", err)
	}

	if cmd.CustomerRef != "" {
		spec.Metadata[domain.MetaCustomerRef] = cmd.CustomerRef
	}

	for _, l := range cmd.Lines {
		item, ok := items[l.ItemID]
		if !ok {
			return spec, fmt.Errorf("checkout: item %s: %w", l.ItemID, domain.ErrPriceLookup)
		}
		spec.Lines = append(spec.Lines, ArtifactSpecLine{
			Title:         item.Title,
			ItemRef:       item.ItemID,
			UnitAmountInc: money.ToMinorUnits(money.ExToInc(item.UnitPriceExTax, uc.taxRate)),
			Quantity:      l.Quantity,
		})
	}
	return spec, nil
}

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
