package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	appcheckout "github.com/solentline/paybridge/internal/application/checkout"
	apprefund "github.com/solentline/paybridge/internal/application/refund"
	"github.com/solentline/paybridge/internal/application/settlement"
	domcheckout "github.com/solentline/paybridge/internal/domain/checkout"
	"github.com/solentline/paybridge/internal/domain/journal"
	"github.com/solentline/paybridge/internal/domain/order"
	domrefund "github.com/solentline/paybridge/internal/domain/refund"
	"github.com/solentline/paybridge/internal/infrastructure/commerce"
	"github.com/solentline/paybridge/internal/observability"
	"github.com/solentline/paybridge/internal/observability/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerSignature      = "Stripe-Signature"

	maxWebhookBody = 1 << 16
)

// OrderReader serves the read-side order endpoint.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*order.CommerceOrder, error)
	ListTransactions(ctx context.Context, orderID string) ([]order.Transaction, error)
}

type Handler struct {
	checkout *appcheckout.CreateCheckoutUseCase
	settle   *settlement.SettleUseCase
	refunds  *apprefund.ExecuteRefundUseCase
	orders   OrderReader
	journal  journal.Reader
	adminURL func(orderID string) string
	log      observability.Logger
	tel      observability.Observability
}

func NewHandler(
	checkoutUC *appcheckout.CreateCheckoutUseCase,
	settleUC *settlement.SettleUseCase,
	refundUC *apprefund.ExecuteRefundUseCase,
	orders OrderReader,
	reader journal.Reader,
	adminURL func(orderID string) string,
	logger observability.Logger,
	tel observability.Observability,
) *Handler {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = observability.NopLogger()
	}
	return &Handler{
		checkout: checkoutUC,
		settle:   settleUC,
		refunds:  refundUC,
		orders:   orders,
		journal:  reader,
		adminURL: adminURL,
		log:      baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:      tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Wire each route with middlewares:
	// Trace → ObservabilityMiddleware (request logger) → Access log → Handler
	h.muxHandle(mux, http.MethodPost, "/checkout", h.handleCreateCheckout)
	h.muxHandle(mux, http.MethodPost, "/webhooks/payment", h.handleWebhook)
	h.muxHandle(mux, http.MethodGet, "/reconciliation", h.handleReconciliation)
	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)
	h.muxHandleAny(mux, "/orders/", h.handleOrders)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.serve(w, r, route, handler)
	})
}

func (h *Handler) muxHandleAny(mux *http.ServeMux, route string, handler http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, route, handler)
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, route string, handler http.HandlerFunc) {
	// Store stable route template for low-cardinality labels
	ctx := contextWithRoute(r.Context(), route)
	r = r.WithContext(ctx)

	wrapped := h.withTrace(
		ObservabilityMiddleware(
			logctx.FromOr(ctx, h.log),
			func(r *http.Request) string {
				return r.Header.Get(headerRequestID)
			},
			h.tel,
		)(
			h.withAccessLog(handler),
		),
	)
	wrapped.ServeHTTP(w, r)
}

type checkoutLineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type createCheckoutRequest struct {
	Kind        string                `json:"kind"`
	DraftID     string                `json:"draft_order_id"`
	CustomerRef string                `json:"customer_ref"`
	Source      string                `json:"source"`
	Lines       []checkoutLineRequest `json:"lines"`
}

type createCheckoutResponse struct {
	ArtifactID  string `json:"artifact_id"`
	Kind        string `json:"kind"`
	URL         string `json:"url"`
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency"`
}

func (h *Handler) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	input := appcheckout.CreateCheckoutInput{
		Kind:        domcheckout.ArtifactKind(req.Kind),
		DraftID:     req.DraftID,
		CustomerRef: req.CustomerRef,
		Source:      req.Source,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, domcheckout.CartLine{ItemID: l.ItemID, Quantity: l.Quantity})
	}

	result, err := h.checkout.Execute(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createCheckoutResponse{
		ArtifactID:  result.ArtifactID,
		Kind:        string(result.Kind),
		URL:         result.URL,
		AmountTotal: result.AmountTotal,
		Currency:    result.Currency,
	})
}

type webhookResponse struct {
	Received bool   `json:"received"`
	OrderID  string `json:"order_id,omitempty"`
}

// handleWebhook authenticates the delivery before anything else. Signature
// failures get a 400 so the processor retries against a fixed deployment;
// every authenticated delivery is acknowledged with a 200, even when the
// settlement behind it failed, because redelivery cannot fix what the
// journal already holds.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.settle.Execute(r.Context(), settlement.SettleInput{
		Payload:         body,
		SignatureHeader: r.Header.Get(headerSignature),
	})
	if err != nil {
		if errors.Is(err, settlement.ErrSignatureInvalid) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	resp := webhookResponse{Received: true}
	if result != nil {
		resp.OrderID = result.OrderID
	}
	writeJSON(w, http.StatusOK, resp)
}

type refundLineRequest struct {
	LineItemID string `json:"line_item_id"`
	Quantity   int    `json:"quantity"`
}

type refundRequest struct {
	Lines  []refundLineRequest `json:"lines"`
	Reason string              `json:"reason"`
}

type refundResponse struct {
	CommerceRefundID  string `json:"commerce_refund_id"`
	ProcessorRefundID string `json:"processor_refund_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
}

func (h *Handler) handleOrders(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "" && r.Method == http.MethodGet:
		h.handleGetOrder(w, r, parts[0])
	case len(parts) == 2 && parts[0] != "" && parts[1] == "refunds" && r.Method == http.MethodPost:
		h.handleCreateRefund(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "refunds":
		w.WriteHeader(http.StatusMethodNotAllowed)
	case len(parts) == 1 && parts[0] != "":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleCreateRefund(w http.ResponseWriter, r *http.Request, orderID string) {
	var req refundRequest
	if err := decodeJSON(r.Context(), r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmd := domrefund.Request{OrderID: orderID, Reason: req.Reason}
	for _, l := range req.Lines {
		cmd.Lines = append(cmd.Lines, domrefund.RequestLine{LineItemID: l.LineItemID, Quantity: l.Quantity})
	}

	result, err := h.refunds.Execute(r.Context(), cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, refundResponse{
		CommerceRefundID:  result.CommerceRefundID,
		ProcessorRefundID: result.ProcessorRefundID,
		Amount:            result.Amount.StringFixed(2),
		Currency:          result.Currency,
	})
}

type orderLineResponse struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Tax       string `json:"tax"`
}

type orderTransactionResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	Amount       string `json:"amount"`
	ProcessorRef string `json:"processor_ref,omitempty"`
}

type orderResponse struct {
	ID              string                     `json:"id"`
	FinancialStatus string                     `json:"financial_status"`
	Currency        string                     `json:"currency"`
	Total           string                     `json:"total"`
	TotalTax        string                     `json:"total_tax"`
	NetExTax        string                     `json:"net_ex_tax"`
	AdminURL        string                     `json:"admin_url,omitempty"`
	Lines           []orderLineResponse        `json:"lines"`
	Transactions    []orderTransactionResponse `json:"transactions"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	o, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	txs, err := h.orders.ListTransactions(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := orderResponse{
		ID:              o.ID,
		FinancialStatus: string(o.FinancialStatus),
		Currency:        o.Currency,
		Total:           o.Total.StringFixed(2),
		TotalTax:        o.TotalTax.StringFixed(2),
		NetExTax:        o.NetExTax().StringFixed(2),
	}
	if h.adminURL != nil {
		resp.AdminURL = h.adminURL(o.ID)
	}
	for _, li := range o.LineItems {
		resp.Lines = append(resp.Lines, orderLineResponse{
			ID:        li.ID,
			ItemID:    li.ItemID,
			Title:     li.Title,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPriceExTax.StringFixed(2),
			Tax:       li.TaxAmount.StringFixed(2),
		})
	}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, orderTransactionResponse{
			ID:           tx.ID,
			Kind:         string(tx.Kind),
			Status:       string(tx.Status),
			Amount:       tx.Amount.StringFixed(2),
			ProcessorRef: tx.ProcessorRef,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type journalEntryResponse struct {
	Scope      string `json:"scope"`
	Outcome    string `json:"outcome"`
	Reference  string `json:"reference"`
	OrderID    string `json:"order_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

func (h *Handler) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	entries := h.journal.List(r.Context())
	resp := make([]journalEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, journalEntryResponse{
			Scope:      string(e.Scope),
			Outcome:    string(e.Outcome),
			Reference:  e.Reference,
			OrderID:    e.OrderID,
			Detail:     e.Detail,
			RecordedAt: e.RecordedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("paybridge.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

func decodeJSON(ctx context.Context, r *http.Request, dst any) error {
	_ = ctx
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, domcheckout.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, appcheckout.ErrInvalidInput),
		errors.Is(err, apprefund.ErrInvalidInput),
		errors.Is(err, domcheckout.ErrEmptyCart),
		errors.Is(err, domrefund.ErrZeroAmount):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domcheckout.ErrPriceLookup),
		errors.Is(err, domrefund.ErrOriginalPaymentNotFound):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, commerce.ErrAuth):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, commerce.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
