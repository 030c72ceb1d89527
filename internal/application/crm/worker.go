package crm

import (
	"context"

	domorder "github.com/solentline/paybridge/internal/domain/order"
	domoutbox "github.com/solentline/paybridge/internal/domain/outbox"
	"github.com/solentline/paybridge/internal/observability"
	"github.com/solentline/paybridge/internal/observability/logctx"
)

// Mirror pushes a settled-order snapshot to the CRM system.
type Mirror interface {
	MirrorOrder(ctx context.Context, evt domorder.OrderSettledEvent) error
}

// Worker mirrors settled orders into the CRM off the outbox. The mirror is
// strictly best-effort: a failure is logged and counted, never propagated, so
// it can never hold up or fail a settlement.
type Worker struct {
	subscriber domoutbox.Subscriber
	mirror     Mirror

	log            observability.Logger
	failureCounter observability.Counter
}

func New(subscriber domoutbox.Subscriber, mirror Mirror, tel observability.Observability) *Worker {
	baseLog := observability.NopLogger()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLog = tel.Logger()
		metricsProvider = tel.Metrics()
	}
	return &Worker{
		subscriber:     subscriber,
		mirror:         mirror,
		log:            baseLog.With(observability.F("service", "crm-mirror")),
		failureCounter: metricsProvider.Counter(observability.MCRMMirrorFailures),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.mirror == nil {
		return
	}
	w.subscriber.Subscribe(domorder.OrderSettledEvent{}.EventName(), w.handleOrderSettled)
}

func (w *Worker) handleOrderSettled(ctx context.Context, e domoutbox.Event) error {
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", e.EventName()),
	)

	evt, ok := e.(domorder.OrderSettledEvent)
	if !ok {
		return nil
	}

	if err := w.mirror.MirrorOrder(ctx, evt); err != nil {
		if w.failureCounter != nil {
			w.failureCounter.Add(1, observability.L("event", e.EventName()))
		}
		logger.Warn("crm_mirror_failed",
			observability.F("order_id", evt.OrderID),
			observability.F("artifact_id", evt.ArtifactID),
			observability.F("error", err.Error()),
		)
		return nil
	}

	logger.Info("crm_mirror_done",
		observability.F("order_id", evt.OrderID),
	)
	return nil
}
