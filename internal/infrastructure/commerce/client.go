package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solentline/paybridge/internal/application/settlement"
	"github.com/solentline/paybridge/internal/config"
	"github.com/solentline/paybridge/internal/domain/checkout"
	"github.com/solentline/paybridge/internal/domain/order"
	"github.com/solentline/paybridge/internal/domain/refund"
	"github.com/solentline/paybridge/internal/observability"
)

const (
	componentCommerce = "commerce_client"
	peerCommerce      = "commerce"

	headerAccessToken = "X-Commerce-Access-Token"

	requestTimeout = 10 * time.Second
)

var (
	// ErrTransient marks network failures and 5xx responses. The whole
	// handler is safe to retry; this client never retries internally.
	ErrTransient = errors.New("commerce: transient upstream failure")
	// ErrAuth marks 401/403 responses. Retrying cannot help; the shop token
	// needs operator attention.
	ErrAuth = errors.New("commerce: authentication rejected")
)

// apiError is a non-transient platform rejection (422 and friends).
type apiError struct {
	status int
	detail string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("commerce: api error (status %d): %s", e.status, e.detail)
}

// Client is the typed commerce-platform admin API client, pinned to the
// configured API version. It backs the catalog resolver, the settlement
// gateway, and the refund gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     observability.Logger

	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewClient(cfg config.Config, tel observability.Observability) *Client {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Client{
		baseURL: cfg.CommerceBaseURL(),
		token:   cfg.ShopAccessToken,
		http:    &http.Client{Timeout: requestTimeout},
		log:     tel.Logger().With(observability.F("component", componentCommerce)),

		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// ResolveItems fetches the authoritative ex-tax unit price and title for
// every item id. Any unresolvable id fails the whole lookup: callers must
// abort artifact creation rather than substitute a default.
func (c *Client) ResolveItems(ctx context.Context, ids []string) (map[string]checkout.CatalogItem, error) {
	out := make(map[string]checkout.CatalogItem, len(ids))
	for _, id := range ids {
		var env variantEnvelope
		err := c.do(ctx, http.MethodGet, "/variants/"+url.PathEscape(id)+".json", nil, &env)
		if err != nil || env.Variant == nil {
			if err == nil || errors.Is(err, order.ErrNotFound) {
				return nil, fmt.Errorf("%w: item %s", checkout.ErrPriceLookup, id)
			}
			return nil, fmt.Errorf("resolve item %s: %w", id, err)
		}
		out[id] = checkout.CatalogItem{
			ItemID:         id,
			Title:          env.Variant.Title,
			UnitPriceExTax: env.Variant.Price,
		}
	}
	return out, nil
}

func (c *Client) GetDraft(ctx context.Context, draftID string) (*order.DraftOrderRef, error) {
	var env draftEnvelope
	if err := c.do(ctx, http.MethodGet, "/draft_orders/"+url.PathEscape(draftID)+".json", nil, &env); err != nil {
		return nil, err
	}
	if env.DraftOrder == nil {
		return nil, order.ErrNotFound
	}
	return env.DraftOrder.toDomain(), nil
}

// CompleteDraft finalizes a draft into an order. The platform answers with
// one of two acceptable shapes, tried in order: the completed draft carrying
// the new order id, or an error body stating the draft was already
// completed, surfaced as settlement.ErrDraftAlreadyCompleted so the caller
// can recover the existing order instead of erroring.
func (c *Client) CompleteDraft(ctx context.Context, draftID string) (string, error) {
	var env draftEnvelope
	err := c.do(ctx, http.MethodPut, "/draft_orders/"+url.PathEscape(draftID)+"/complete.json", nil, &env)
	if err == nil {
		if env.DraftOrder == nil || env.DraftOrder.OrderID == "" {
			return "", fmt.Errorf("commerce: complete draft %s: response missing order id", draftID)
		}
		return env.DraftOrder.OrderID, nil
	}

	var apiErr *apiError
	if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.detail), "already") {
		return "", settlement.ErrDraftAlreadyCompleted
	}
	return "", err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*order.CommerceOrder, error) {
	var env orderEnvelope
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+".json", nil, &env); err != nil {
		return nil, err
	}
	if env.Order == nil {
		return nil, order.ErrNotFound
	}
	return env.Order.toDomain(), nil
}

// FindOrderByReference looks up an order by the payment-artifact reference
// recorded at creation. order.ErrNotFound means no order exists yet for the
// artifact.
func (c *Client) FindOrderByReference(ctx context.Context, ref string) (*order.CommerceOrder, error) {
	var env ordersEnvelope
	path := "/orders.json?status=any&reference=" + url.QueryEscape(ref)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	if len(env.Orders) == 0 {
		return nil, order.ErrNotFound
	}
	return env.Orders[0].toDomain(), nil
}

func (c *Client) ListTransactions(ctx context.Context, orderID string) ([]order.Transaction, error) {
	var env transactionsEnvelope
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/transactions.json", nil, &env); err != nil {
		return nil, err
	}
	out := make([]order.Transaction, 0, len(env.Transactions))
	for _, tx := range env.Transactions {
		out = append(out, tx.toDomain())
	}
	return out, nil
}

func (c *Client) CreateTransaction(ctx context.Context, orderID string, tx order.Transaction) (order.Transaction, error) {
	body := transactionEnvelope{Transaction: &wireTransaction{
		Kind:         string(tx.Kind),
		Status:       string(tx.Status),
		Amount:       tx.Amount,
		Currency:     tx.Currency,
		Gateway:      tx.Gateway,
		ProcessorRef: tx.ProcessorRef,
		ParentID:     tx.ParentID,
	}}
	var env transactionEnvelope
	if err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/transactions.json", body, &env); err != nil {
		return order.Transaction{}, err
	}
	if env.Transaction == nil {
		return order.Transaction{}, fmt.Errorf("commerce: create transaction on order %s: empty response", orderID)
	}
	return env.Transaction.toDomain(), nil
}

// MarkOrderPaid drives the platform's own financial state transition. Status
// fields are never overwritten directly.
func (c *Client) MarkOrderPaid(ctx context.Context, orderID string) error {
	var env orderEnvelope
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/mark_paid.json", nil, &env)
}

// CreatePaidOrder creates an order pre-marked paid with explicit per-line
// tax, so the commerce ledger matches what the processor actually charged.
func (c *Client) CreatePaidOrder(ctx context.Context, spec settlement.PaidOrderSpec) (*order.CommerceOrder, error) {
	w := &wireOrder{
		FinancialStatus: string(order.StatusPaid),
		Currency:        spec.Currency,
		TotalTax:        spec.TotalTax,
		Reference:       spec.Reference,
		SourceName:      spec.SourceName,
	}
	for _, l := range spec.Lines {
		w.LineItems = append(w.LineItems, wireLineItem{
			ItemID:   l.ItemID,
			Title:    l.Title,
			Quantity: l.Quantity,
			Price:    l.UnitPriceExTax,
			TaxLines: []wireTaxLine{{Title: "VAT", Rate: spec.TaxRate, Price: l.TaxAmount}},
		})
	}

	var env orderEnvelope
	if err := c.do(ctx, http.MethodPost, "/orders.json", orderEnvelope{Order: w}, &env); err != nil {
		return nil, err
	}
	if env.Order == nil {
		return nil, fmt.Errorf("commerce: create order: empty response")
	}
	return env.Order.toDomain(), nil
}

// CalculateRefund delegates the refund math to the platform. The client
// converts representation only; discount and tax logic stay upstream.
func (c *Client) CalculateRefund(ctx context.Context, req refund.Request) (*refund.Calculation, error) {
	w := &wireRefund{Note: req.Reason}
	for _, l := range req.Lines {
		w.RefundLineItems = append(w.RefundLineItems, wireRefundLineItem{
			LineItemID: l.LineItemID,
			Quantity:   l.Quantity,
		})
	}
	var env refundEnvelope
	path := "/orders/" + url.PathEscape(req.OrderID) + "/refunds/calculate.json"
	if err := c.do(ctx, http.MethodPost, path, refundEnvelope{Refund: w}, &env); err != nil {
		return nil, err
	}
	if env.Refund == nil {
		return nil, fmt.Errorf("commerce: calculate refund for order %s: empty response", req.OrderID)
	}
	return env.Refund.toCalculation(), nil
}

// CreateRefund records the refund on the commerce order, with a refund
// transaction for exactly the calculated amount referencing the original
// sale transaction.
func (c *Client) CreateRefund(ctx context.Context, orderID string, calc *refund.Calculation, parentTransactionID, reason string) (string, error) {
	w := &wireRefund{
		Currency: calc.Currency,
		Note:     reason,
		Transactions: []wireTransaction{{
			Kind:     string(order.TransactionRefund),
			Amount:   calc.Amount,
			Currency: calc.Currency,
			ParentID: parentTransactionID,
		}},
	}
	for _, l := range calc.PerLine {
		w.RefundLineItems = append(w.RefundLineItems, wireRefundLineItem{
			LineItemID: l.LineItemID,
			Quantity:   l.Quantity,
			Subtotal:   l.Subtotal,
			TotalTax:   l.Tax,
		})
	}

	var env refundEnvelope
	if err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/refunds.json", refundEnvelope{Refund: w}, &env); err != nil {
		return "", err
	}
	if env.Refund == nil || env.Refund.ID == "" {
		return "", fmt.Errorf("commerce: create refund on order %s: empty response", orderID)
	}
	return env.Refund.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (err error) {
	endpoint := method + " " + routeOf(path)
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.extCounter.Add(1,
			observability.L("peer", peerCommerce),
			observability.L("endpoint", endpoint),
			observability.L("outcome", outcome),
		)
		c.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peerCommerce),
			observability.L("endpoint", endpoint),
		)
	}()

	var reader io.Reader
	if body != nil {
		buf, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("commerce: encode request: %w", merr)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("commerce: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerAccessToken, c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransient, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", ErrTransient, endpoint, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("commerce: decode %s: %w", endpoint, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return order.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrAuth
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s: status %d", ErrTransient, endpoint, resp.StatusCode)
	default:
		var errs errorsEnvelope
		_ = json.Unmarshal(raw, &errs)
		c.log.Warn("commerce_api_rejection",
			observability.F("endpoint", endpoint),
			observability.F("status", resp.StatusCode),
			observability.F("detail", errs.text()),
		)
		return &apiError{status: resp.StatusCode, detail: errs.text()}
	}
}

// routeOf strips ids and query strings for low-cardinality metric labels.
func routeOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "orders", "draft_orders", "variants":
			if strings.HasSuffix(parts[i], ".json") {
				parts[i] = "{id}.json"
			} else {
				parts[i] = "{id}"
			}
		}
	}
	return strings.Join(parts, "/")
}
