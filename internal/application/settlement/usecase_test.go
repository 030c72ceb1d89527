package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solentline/paybridge/internal/domain/checkout"
	"github.com/solentline/paybridge/internal/domain/journal"
	"github.com/solentline/paybridge/internal/domain/order"
	domoutbox "github.com/solentline/paybridge/internal/domain/outbox"
	"github.com/solentline/paybridge/internal/observability"
)

type fakeVerifier struct {
	evt *ProcessorEvent
	err error
}

func (f *fakeVerifier) VerifyEvent([]byte, string) (*ProcessorEvent, error) {
	return f.evt, f.err
}

type fakeArtifacts struct {
	artifact    *checkout.PaymentArtifact
	disabled    bool
	disableErr  error
	disableCall int
}

func (f *fakeArtifacts) GetArtifact(_ context.Context, id string, _ checkout.ArtifactKind) (*checkout.PaymentArtifact, error) {
	if f.artifact == nil || f.artifact.ID != id {
		return nil, checkout.ErrNotFound
	}
	clone := *f.artifact
	return &clone, nil
}

func (f *fakeArtifacts) DisableIfActive(context.Context, *checkout.PaymentArtifact) (bool, error) {
	f.disableCall++
	if f.disableErr != nil {
		return false, f.disableErr
	}
	if f.disabled {
		return false, nil
	}
	f.disabled = true
	f.artifact.Status = checkout.StatusDisabled
	return true, nil
}

type fakeCommerce struct {
	mu sync.Mutex

	drafts map[string]*order.DraftOrderRef
	orders map[string]*order.CommerceOrder
	txs    map[string][]order.Transaction

	completeConflict bool
	listErrOnce      error
	completeCalls    int
	createCalls      int
	markPaidCalls    int
	nextOrderID      int
}

func newFakeCommerce() *fakeCommerce {
	return &fakeCommerce{
		drafts: map[string]*order.DraftOrderRef{},
		orders: map[string]*order.CommerceOrder{},
		txs:    map[string][]order.Transaction{},
	}
}

func (f *fakeCommerce) GetDraft(_ context.Context, draftID string) (*order.DraftOrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[draftID]
	if !ok {
		return nil, order.ErrNotFound
	}
	clone := *d
	return &clone, nil
}

func (f *fakeCommerce) CompleteDraft(_ context.Context, draftID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	d, ok := f.drafts[draftID]
	if !ok {
		return "", order.ErrNotFound
	}
	if f.completeConflict {
		// Simulates a concurrent delivery winning the race.
		if d.OrderID == "" {
			d.OrderID = f.newOrderIDLocked(draftID)
		}
		return "", ErrDraftAlreadyCompleted
	}
	if d.OrderID != "" {
		return "", ErrDraftAlreadyCompleted
	}
	d.OrderID = f.newOrderIDLocked(draftID)
	return d.OrderID, nil
}

func (f *fakeCommerce) newOrderIDLocked(reference string) string {
	f.nextOrderID++
	id := fmt.Sprintf("ord_%d", f.nextOrderID)
	f.orders[id] = &order.CommerceOrder{
		ID:              id,
		FinancialStatus: order.StatusPending,
		Currency:        "GBP",
		Reference:       reference,
	}
	return id
}

func (f *fakeCommerce) GetOrder(_ context.Context, orderID string) (*order.CommerceOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	clone := *o
	return &clone, nil
}

func (f *fakeCommerce) FindOrderByReference(_ context.Context, reference string) (*order.CommerceOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.Reference == reference {
			clone := *o
			return &clone, nil
		}
	}
	return nil, order.ErrNotFound
}

func (f *fakeCommerce) ListTransactions(_ context.Context, orderID string) ([]order.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErrOnce; err != nil {
		f.listErrOnce = nil
		return nil, err
	}
	return append([]order.Transaction(nil), f.txs[orderID]...), nil
}

func (f *fakeCommerce) CreateTransaction(_ context.Context, orderID string, tx order.Transaction) (order.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx.ID = fmt.Sprintf("tx_%d", len(f.txs[orderID])+1)
	f.txs[orderID] = append(f.txs[orderID], tx)
	return tx, nil
}

func (f *fakeCommerce) MarkOrderPaid(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markPaidCalls++
	o, ok := f.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	return o.SetFinancialStatus(order.StatusPaid)
}

func (f *fakeCommerce) CreatePaidOrder(_ context.Context, spec PaidOrderSpec) (*order.CommerceOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	id := f.newOrderIDLocked(spec.Reference)
	o := f.orders[id]
	o.FinancialStatus = order.StatusPaid
	o.TotalTax = spec.TotalTax
	clone := *o
	return &clone, nil
}

type fakeCatalog struct {
	items map[string]checkout.CatalogItem
}

func (f *fakeCatalog) ResolveItems(_ context.Context, ids []string) (map[string]checkout.CatalogItem, error) {
	out := map[string]checkout.CatalogItem{}
	for _, id := range ids {
		item, ok := f.items[id]
		if !ok {
			return nil, checkout.ErrPriceLookup
		}
		out[id] = item
	}
	return out, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) Record(_ context.Context, e journal.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (f *fakePublisher) Publish(_ context.Context, e domoutbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func newTestUseCase(
	verifier EventVerifier,
	artifacts ArtifactGateway,
	commerce CommerceGateway,
	catalog CatalogResolver,
	rec journal.Recorder,
	publisher domoutbox.Publisher,
) *SettleUseCase {
	return NewSettleUseCase(
		verifier, artifacts, commerce, catalog, rec, publisher,
		decimal.NewFromFloat(0.20), observability.Nop(),
	)
}

func sessionEvent(artifactID string) *ProcessorEvent {
	return &ProcessorEvent{
		ID:         "evt_" + artifactID,
		ArtifactID: artifactID,
		Kind:       checkout.KindSession,
		Actionable: true,
	}
}

func TestSettleDraftPath(t *testing.T) {
	commerce := newFakeCommerce()
	commerce.drafts["draft_1"] = &order.DraftOrderRef{DraftID: "draft_1"}

	artifacts := &fakeArtifacts{artifact: &checkout.PaymentArtifact{
		ID:               "cs_1",
		Kind:             checkout.KindSession,
		Status:           checkout.StatusCompleted,
		AmountTotal:      2400,
		Currency:         "GBP",
		BackReference:    "draft_1",
		Metadata:         map[string]string{checkout.MetaCustomerRef: "crm_7"},
		PaymentIntentRef: "pi_1",
	}}
	journalRec := &fakeJournal{}
	publisher := &fakePublisher{}

	uc := newTestUseCase(&fakeVerifier{evt: sessionEvent("cs_1")}, artifacts, commerce, &fakeCatalog{}, journalRec, publisher)

	result, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "ord_1", result.OrderID)
	assert.True(t, result.Disabled)

	o, err := commerce.GetOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.FinancialStatus)

	txs, _ := commerce.ListTransactions(context.Background(), result.OrderID)
	require.Len(t, txs, 1)
	assert.Equal(t, order.TransactionSale, txs[0].Kind)
	assert.Equal(t, "pi_1", txs[0].ProcessorRef)
	assert.Equal(t, "24", txs[0].Amount.String())

	require.Len(t, publisher.events, 1)
	settled, ok := publisher.events[0].(order.OrderSettledEvent)
	require.True(t, ok)
	assert.Equal(t, "ord_1", settled.OrderID)
	assert.Equal(t, "crm_7", settled.CustomerRef)

	require.Len(t, journalRec.entries, 1)
	assert.Equal(t, journal.OutcomeOK, journalRec.entries[0].Outcome)
}

func TestSettleDraftAlreadyCompletedRecovers(t *testing.T) {
	commerce := newFakeCommerce()
	commerce.drafts["draft_1"] = &order.DraftOrderRef{DraftID: "draft_1"}
	commerce.completeConflict = true

	artifacts := &fakeArtifacts{artifact: &checkout.PaymentArtifact{
		ID:            "cs_1",
		Kind:          checkout.KindSession,
		Status:        checkout.StatusCompleted,
		AmountTotal:   1200,
		Currency:      "GBP",
		BackReference: "draft_1",
		Metadata:      map[string]string{},
	}}

	uc := newTestUseCase(&fakeVerifier{evt: sessionEvent("cs_1")}, artifacts, commerce, &fakeCatalog{}, &fakeJournal{}, nil)

	result, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	require.NoError(t, err)
	assert.Equal(t, "ord_1", result.OrderID)
	assert.Equal(t, 1, commerce.completeCalls)
	assert.Equal(t, 1, commerce.markPaidCalls)
}

func TestSettleDraftRetryAfterPartialFailure(t *testing.T) {
	commerce := newFakeCommerce()
	commerce.drafts["draft_1"] = &order.DraftOrderRef{DraftID: "draft_1"}
	commerce.listErrOnce = errors.New("commerce: gateway timeout")

	artifacts := &fakeArtifacts{artifact: &checkout.PaymentArtifact{
		ID:               "cs_1",
		Kind:             checkout.KindSession,
		Status:           checkout.StatusCompleted,
		AmountTotal:      2400,
		Currency:         "GBP",
		BackReference:    "draft_1",
		Metadata:         map[string]string{},
		PaymentIntentRef: "pi_1",
	}}
	journalRec := &fakeJournal{}

	uc := newTestUseCase(&fakeVerifier{evt: sessionEvent("cs_1")}, artifacts, commerce, &fakeCatalog{}, journalRec, nil)

	// First delivery completes the draft, then dies before the payment is
	// recorded. Nothing may look settled at this point.
	_, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	require.Error(t, err)
	assert.Equal(t, 0, artifacts.disableCall)
	o, err := commerce.GetOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.FinancialStatus)

	// The retried delivery recovers the existing order and must finish the
	// payment record it finds missing, not skip past it.
	result, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	require.NoError(t, err)
	assert.Equal(t, "ord_1", result.OrderID)
	assert.True(t, result.Disabled)
	assert.Equal(t, 1, commerce.completeCalls)

	o, err = commerce.GetOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.FinancialStatus)
	txs, _ := commerce.ListTransactions(context.Background(), "ord_1")
	require.Len(t, txs, 1)
	assert.Equal(t, "pi_1", txs[0].ProcessorRef)

	require.Len(t, journalRec.entries, 2)
	assert.Equal(t, journal.OutcomeFailed, journalRec.entries[0].Outcome)
	assert.Equal(t, journal.OutcomeOK, journalRec.entries[1].Outcome)
}

func TestSettleDraftPathReplayConverges(t *testing.T) {
	commerce := newFakeCommerce()
	commerce.drafts["draft_1"] = &order.DraftOrderRef{DraftID: "draft_1"}

	artifacts := &fakeArtifacts{artifact: &checkout.PaymentArtifact{
		ID:            "cs_1",
		Kind:          checkout.KindSession,
		Status:        checkout.StatusCompleted,
		AmountTotal:   2400,
		Currency:      "GBP",
		BackReference: "draft_1",
		Metadata:      map[string]string{},
	}}

	uc := newTestUseCase(&fakeVerifier{evt: sessionEvent("cs_1")}, artifacts, commerce, &fakeCatalog{}, &fakeJournal{}, nil)

	first, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	require.NoError(t, err)
	second, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, commerce.completeCalls)
	assert.Equal(t, 1, commerce.markPaidCalls)
	assert.True(t, first.Disabled)
	assert.False(t, second.Disabled)

	txs, _ := commerce.ListTransactions(context.Background(), first.OrderID)
	require.Len(t, txs, 1)
}

func TestSettleDirectPathReplayConverges(t *testing.T) {
	commerce := newFakeCommerce()
	artifacts := &fakeArtifacts{artifact: &checkout.PaymentArtifact{
		ID:          "cs_9",
		Kind:        checkout.KindSession,
		Status:      checkout.StatusCompleted,
		AmountTotal: 2400,
		Currency:    "GBP",
		Metadata:    map[string]string{checkout.MetaCustomerRef: "crm_1"},
		Lines:       []checkout.ArtifactLine{{ItemRef: "item_1", Quantity: 2}},
	}}
	catalog := &fakeCatalog{items: map[string]checkout.CatalogItem{
		"item_1": {ItemID: "item_1", Title: "Widget", UnitPriceExTax: decimal.RequireFromString("10.00")},
	}}
	journalRec := &fakeJournal{}

	uc := newTestUseCase(&fakeVerifier{evt: sessionEvent("cs_9")}, artifacts, commerce, catalog, journalRec, &fakePublisher{})

	first, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	require.NoError(t, err)
	second, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, commerce.createCalls)
	assert.True(t, first.Disabled)
	assert.False(t, second.Disabled)

	o, err := commerce.GetOrder(context.Background(), first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "4", o.TotalTax.String())
}

func TestSettleUnresolvableReferenceJournaled(t *testing.T) {
	artifacts := &fakeArtifacts{artifact: &checkout.PaymentArtifact{
		ID:          "cs_2",
		Kind:        checkout.KindSession,
		Status:      checkout.StatusCompleted,
		AmountTotal: 500,
		Currency:    "GBP",
	}}
	journalRec := &fakeJournal{}

	uc := newTestUseCase(&fakeVerifier{evt: sessionEvent("cs_2")}, artifacts, newFakeCommerce(), &fakeCatalog{}, journalRec, nil)

	_, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	assert.ErrorIs(t, err, ErrUnresolvableReference)
	require.Len(t, journalRec.entries, 1)
	assert.Equal(t, journal.OutcomeUnresolvedReference, journalRec.entries[0].Outcome)
}

func TestSettleSignatureInvalid(t *testing.T) {
	uc := newTestUseCase(
		&fakeVerifier{err: ErrSignatureInvalid},
		&fakeArtifacts{}, newFakeCommerce(), &fakeCatalog{}, &fakeJournal{}, nil,
	)
	_, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "bad"})
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestSettleIgnoresUnrelatedEvents(t *testing.T) {
	uc := newTestUseCase(
		&fakeVerifier{evt: &ProcessorEvent{ID: "evt_x"}},
		&fakeArtifacts{}, newFakeCommerce(), &fakeCatalog{}, &fakeJournal{}, nil,
	)
	result, err := uc.Execute(context.Background(), SettleInput{Payload: []byte("{}"), SignatureHeader: "sig"})
	require.NoError(t, err)
	assert.True(t, result.Ignored)
}
