package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solentline/paybridge/internal/domain/checkout"
	"github.com/solentline/paybridge/internal/domain/journal"
	"github.com/solentline/paybridge/internal/domain/order"
	domoutbox "github.com/solentline/paybridge/internal/domain/outbox"
	"github.com/solentline/paybridge/internal/observability"
	"github.com/solentline/paybridge/internal/observability/logctx"
)

const (
	settlementService = "settlement-service"
	useCaseSettle     = "settlement.settle"
	spanPrefix        = "UC."
	publishPeer       = "outbox"
	publishEndpoint   = "order.settled"
	publishTimeout    = 300 * time.Millisecond
)

// SettleUseCase drives an authenticated processor event to a paid commerce
// order and a retired artifact. Every step is idempotent; redelivery of the
// same event converges instead of duplicating.
type SettleUseCase struct {
	verifier  EventVerifier
	artifacts ArtifactGateway
	commerce  CommerceGateway
	catalog   CatalogResolver
	journal   journal.Recorder
	publisher domoutbox.Publisher
	tel       observability.Observability

	taxRate decimal.Decimal

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	eventCounter observability.Counter
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

// NewSettleUseCase wires the dependencies required to execute the use case.
func NewSettleUseCase(
	verifier EventVerifier,
	artifacts ArtifactGateway,
	commerce CommerceGateway,
	catalog CatalogResolver,
	rec journal.Recorder,
	publisher domoutbox.Publisher,
	taxRate decimal.Decimal,
	tel observability.Observability,
) *SettleUseCase {
	baseLog := observability.NopLogger()
	if tel != nil {
		baseLog = tel.Logger()
	}
	baseLog = baseLog.With(
		observability.F("service", settlementService),
	)

	metricsProvider := observability.NopMetrics()
	if tel != nil {
		metricsProvider = tel.Metrics()
	}

	return &SettleUseCase{
		verifier:     verifier,
		artifacts:    artifacts,
		commerce:     commerce,
		catalog:      catalog,
		journal:      rec,
		publisher:    publisher,
		tel:          tel,
		taxRate:      taxRate,
		log:          baseLog,
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		eventCounter: metricsProvider.Counter(observability.MWebhookEvents),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

type SettleInput struct {
	Payload         []byte
	SignatureHeader string
}

type SettleResult struct {
	Ignored    bool
	OrderID    string
	ArtifactID string
	Disabled   bool
}

// Execute authenticates the delivery, re-reads the authoritative artifact,
// resolves its commerce reference and runs the settlement to completion.
// ErrSignatureInvalid is the only error a transport should refuse to
// acknowledge; everything after authentication is journaled and acked.
func (uc *SettleUseCase) Execute(ctx context.Context, cmd SettleInput) (_ *SettleResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseSettle))

	var publishErr error

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"Settle",
		attribute.String("use_case", useCaseSettle),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	eventType := "unknown"

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
				observability.L("use_case", useCaseSettle),
				observability.L("outcome", outcome),
			)
		}
		if uc.durHistogram != nil {
			uc.durHistogram.Observe(lat,
				observability.L("use_case", useCaseSettle),
			)
		}
		if uc.eventCounter != nil {
			uc.eventCounter.Add(1,
				observability.L("event", eventType),
				observability.L("outcome", outcome),
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
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	evt, err := uc.verifier.VerifyEvent(cmd.Payload, cmd.SignatureHeader)
	if err != nil {
		outcome, statusText = "error", "SIGNATURE_INVALID"
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if !evt.Actionable {
		eventType = "ignored"
		statusText = "EVENT_IGNORED"
		return &SettleResult{Ignored: true}, nil
	}
	if evt.Async {
		eventType = "async_payment"
	} else {
		eventType = "payment"
	}
	span.SetAttributes(
		attribute.String("settlement.event_id", evt.ID),
		attribute.String("settlement.artifact_id", evt.ArtifactID),
	)

	artifact, err := uc.artifacts.GetArtifact(ctx, evt.ArtifactID, evt.Kind)
	if err != nil {
		outcome, statusText = "error", "ARTIFACT_FETCH_FAILED"
		uc.record(ctx, journal.OutcomeFailed, evt.ArtifactID, "", err)
		return nil, fmt.Errorf("settlement: fetch artifact %s: %w", evt.ArtifactID, err)
	}

	ref, err := ResolveReference(artifact)
	if err != nil {
		outcome, statusText = "error", "REFERENCE_UNRESOLVABLE"
		uc.record(ctx, journal.OutcomeUnresolvedReference, artifact.ID, "", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("settlement.reference_kind", string(ref.Kind)))

	m := &machine{
		commerce:  uc.commerce,
		artifacts: uc.artifacts,
		catalog:   uc.catalog,
		taxRate:   uc.taxRate,
		log:       logger,
	}
	r, err := m.settle(ctx, artifact, ref)
	if err != nil {
		outcome, statusText = "error", "SETTLEMENT_FAILED"
		uc.record(ctx, journal.OutcomeFailed, artifact.ID, r.orderID, err)
		return nil, err
	}
	if r.disableDeferred != nil {
		statusText = "DISABLE_DEFERRED"
	}
	uc.record(ctx, journal.OutcomeOK, artifact.ID, r.orderID, r.disableDeferred)

	if uc.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		pubStart := time.Now()
		pubOutcome := "success"

		settled := order.NewOrderSettledEvent(
			r.orderID,
			artifact.ID,
			artifact.Metadata[checkout.MetaCustomerRef],
			artifact.AmountTotal,
			artifact.Currency,
		)
		publishErr = uc.publisher.Publish(pubCtx, settled)
		if publishErr != nil {
			pubOutcome = "error"
			statusText = "EVENT_PUBLISH_FAILED"
		}
		cancel()

		if uc.extCounter != nil {
			uc.extCounter.Add(1,
				observability.L("peer", publishPeer),
				observability.L("endpoint", publishEndpoint),
				observability.L("outcome", pubOutcome),
			)
		}
		if uc.extHistogram != nil {
			uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
				observability.L("peer", publishPeer),
				observability.L("endpoint", publishEndpoint),
			)
		}
	}

	span.AddEvent("settlement.completed",
		trace.WithAttributes(attribute.String("settlement.order_id", r.orderID)),
	)

	return &SettleResult{
		OrderID:    r.orderID,
		ArtifactID: artifact.ID,
		Disabled:   r.disabledNow,
	}, nil
}

func (uc *SettleUseCase) record(ctx context.Context, out journal.Outcome, artifactID, orderID string, cause error) {
	if uc.journal == nil {
		return
	}
	entry := journal.Entry{
		Scope:      journal.ScopeSettlement,
		Outcome:    out,
		Reference:  artifactID,
		OrderID:    orderID,
		RecordedAt: time.Now().UTC(),
	}
	if cause != nil {
		entry.Detail = cause.Error()
	}
	uc.journal.Record(ctx, entry)
}
