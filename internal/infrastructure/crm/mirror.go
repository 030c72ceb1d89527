package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/solentline/paybridge/internal/domain/money"
	"github.com/solentline/paybridge/internal/domain/order"
	"github.com/solentline/paybridge/internal/observability"
)

// Mirror posts settled-order snapshots to the CRM endpoint. Callers treat it
// as best-effort; it reports errors and leaves retry policy to them.
type Mirror struct {
	endpoint string
	http     *http.Client

	log          observability.Logger
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func New(endpoint string, tel observability.Observability) *Mirror {
	baseLog := observability.NopLogger()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLog = tel.Logger()
		metricsProvider = tel.Metrics()
	}
	return &Mirror{
		endpoint:     endpoint,
		http:         &http.Client{Timeout: 5 * time.Second},
		log:          baseLog.With(observability.F("component", "crm_mirror")),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

type mirrorPayload struct {
	OrderID     string `json:"order_id"`
	ArtifactID  string `json:"artifact_id"`
	CustomerRef string `json:"customer_ref,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	OccurredAt  string `json:"occurred_at"`
}

func (m *Mirror) MirrorOrder(ctx context.Context, evt order.OrderSettledEvent) error {
	if m.endpoint == "" {
		return nil
	}

	body, err := json.Marshal(mirrorPayload{
		OrderID:     evt.OrderID,
		ArtifactID:  evt.ArtifactID,
		CustomerRef: evt.CustomerRef,
		Amount:      money.FromMinorUnits(evt.AmountTotal).StringFixed(2),
		Currency:    evt.Currency,
		OccurredAt:  evt.OccurredAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("crm: encode mirror payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("crm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.http.Do(req)
	outcome := "success"
	if err != nil || resp.StatusCode >= http.StatusMultipleChoices {
		outcome = "error"
	}
	if m.extCounter != nil {
		m.extCounter.Add(1,
			observability.L("peer", "crm"),
			observability.L("endpoint", "mirror_order"),
			observability.L("outcome", outcome),
		)
	}
	if m.extHistogram != nil {
		m.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", "crm"),
			observability.L("endpoint", "mirror_order"),
		)
	}
	if err != nil {
		return fmt.Errorf("crm: mirror order %s: %w", evt.OrderID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("crm: mirror order %s: unexpected status %d", evt.OrderID, resp.StatusCode)
	}
	return nil
}
