package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solentline/paybridge/internal/domain/checkout"
	"github.com/solentline/paybridge/internal/domain/money"
	"github.com/solentline/paybridge/internal/domain/order"
	"github.com/solentline/paybridge/internal/observability"
)

type state string

const (
	stateReceived        state = "received"
	stateDraftCompleting state = "draft_completing"
	stateDirectCreating  state = "direct_creating"
	statePaid            state = "paid"
	stateDisabling       state = "disabling"
	stateDone            state = "done"
)

// run is one settlement of one artifact. It advances through the states
// above; every step is safe to repeat, so a replayed event converges on the
// same order instead of producing a second one.
type run struct {
	m *machine

	artifact *checkout.PaymentArtifact
	ref      Reference

	state           state
	orderID         string
	disabledNow     bool
	disableDeferred error
}

type machine struct {
	commerce  CommerceGateway
	artifacts ArtifactGateway
	catalog   CatalogResolver
	taxRate   decimal.Decimal
	log       observability.Logger
}

func (m *machine) settle(ctx context.Context, artifact *checkout.PaymentArtifact, ref Reference) (*run, error) {
	r := &run{m: m, artifact: artifact, ref: ref, state: stateReceived}
	for r.state != stateDone {
		if err := ctx.Err(); err != nil && r.state != stateDisabling {
			return r, err
		}
		if err := r.step(ctx); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (r *run) step(ctx context.Context) error {
	switch r.state {
	case stateReceived:
		return r.receive(ctx)
	case stateDraftCompleting:
		return r.completeDraft(ctx)
	case stateDirectCreating:
		return r.createDirect(ctx)
	case statePaid:
		r.state = stateDisabling
		return nil
	case stateDisabling:
		return r.disable(ctx)
	default:
		return fmt.Errorf("settlement: unknown state %q", r.state)
	}
}

// receive checks for an earlier settlement of the same artifact before any
// write. A disabled artifact whose order exists is a finished replay.
func (r *run) receive(ctx context.Context) error {
	if existing, err := r.recoverExisting(ctx); err != nil {
		return err
	} else if existing != "" {
		r.orderID = existing
		// A recovered draft order may predate the payment record when the
		// earlier delivery failed between completing the draft and posting
		// the sale. recordPayment is idempotent, so repeating it here closes
		// that gap. Direct orders are created already paid.
		if r.ref.Kind == RefDraft {
			if err := r.recordPayment(ctx); err != nil {
				return err
			}
		}
		if r.artifact.Status == checkout.StatusDisabled {
			r.state = stateDone
		} else {
			r.state = statePaid
		}
		return nil
	}

	switch r.ref.Kind {
	case RefDraft:
		r.state = stateDraftCompleting
	case RefDirect:
		r.state = stateDirectCreating
	default:
		return fmt.Errorf("settlement: unknown reference kind %q", r.ref.Kind)
	}
	return nil
}

// recoverExisting looks for the order a previous delivery already produced.
func (r *run) recoverExisting(ctx context.Context) (string, error) {
	switch r.ref.Kind {
	case RefDraft:
		draft, err := r.m.commerce.GetDraft(ctx, r.ref.DraftID)
		if err != nil {
			return "", fmt.Errorf("settlement: load draft %s: %w", r.ref.DraftID, err)
		}
		return draft.OrderID, nil
	case RefDirect:
		o, err := r.m.commerce.FindOrderByReference(ctx, r.artifact.ID)
		if errors.Is(err, order.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("settlement: duplicate lookup for %s: %w", r.artifact.ID, err)
		}
		return o.ID, nil
	}
	return "", nil
}

func (r *run) completeDraft(ctx context.Context) error {
	orderID, err := r.m.commerce.CompleteDraft(ctx, r.ref.DraftID)
	if errors.Is(err, ErrDraftAlreadyCompleted) {
		draft, derr := r.m.commerce.GetDraft(ctx, r.ref.DraftID)
		if derr != nil {
			return fmt.Errorf("settlement: recover completed draft %s: %w", r.ref.DraftID, derr)
		}
		if draft.OrderID == "" {
			return fmt.Errorf("settlement: draft %s reported completed but has no order", r.ref.DraftID)
		}
		orderID = draft.OrderID
	} else if err != nil {
		return fmt.Errorf("settlement: complete draft %s: %w", r.ref.DraftID, err)
	}

	r.orderID = orderID
	if err := r.recordPayment(ctx); err != nil {
		return err
	}
	r.state = statePaid
	return nil
}

// recordPayment posts the sale transaction, unless one already exists, and
// moves the order to paid. Every step checks current state first, so it can
// be repeated on a retried delivery without double-posting or regressing an
// order that has since moved past paid.
func (r *run) recordPayment(ctx context.Context) error {
	txs, err := r.m.commerce.ListTransactions(ctx, r.orderID)
	if err != nil {
		return fmt.Errorf("settlement: list transactions for %s: %w", r.orderID, err)
	}
	if order.FindSuccessfulSale(txs) == nil {
		ref := r.artifact.PaymentIntentRef
		if ref == "" {
			ref = r.artifact.ID
		}
		_, err := r.m.commerce.CreateTransaction(ctx, r.orderID, order.Transaction{
			Kind:         order.TransactionSale,
			Status:       order.TransactionSuccess,
			Amount:       money.FromMinorUnits(r.artifact.AmountTotal),
			Currency:     r.artifact.Currency,
			ProcessorRef: ref,
		})
		if err != nil {
			return fmt.Errorf("settlement: post sale transaction for %s: %w", r.orderID, err)
		}
	}
	o, err := r.m.commerce.GetOrder(ctx, r.orderID)
	if err != nil {
		return fmt.Errorf("settlement: load order %s: %w", r.orderID, err)
	}
	if o.IsPaid() {
		return nil
	}
	if err := r.m.commerce.MarkOrderPaid(ctx, r.orderID); err != nil {
		return fmt.Errorf("settlement: mark %s paid: %w", r.orderID, err)
	}
	return nil
}

func (r *run) createDirect(ctx context.Context) error {
	ids := make([]string, 0, len(r.ref.Lines))
	for _, l := range r.ref.Lines {
		ids = append(ids, l.ItemRef)
	}
	items, err := r.m.catalog.ResolveItems(ctx, ids)
	if err != nil {
		return fmt.Errorf("settlement: resolve items: %w", err)
	}

	spec := PaidOrderSpec{
		Reference:   r.artifact.ID,
		CustomerRef: r.artifact.Metadata[checkout.MetaCustomerRef],
		Currency:    r.artifact.Currency,
		SourceName:  r.artifact.Metadata[checkout.MetaSource],
		TaxRate:     r.m.taxRate,
	}
	if spec.SourceName == "" {
		spec.SourceName = "paybridge"
	}
	for _, l := range r.ref.Lines {
		item, ok := items[l.ItemRef]
		if !ok {
			return fmt.Errorf("settlement: item %s: %w", l.ItemRef, checkout.ErrPriceLookup)
		}
		lineTax := item.UnitPriceExTax.
			Mul(decimal.NewFromInt(int64(l.Quantity))).
			Mul(spec.TaxRate).
			Round(2)
		spec.Lines = append(spec.Lines, PaidOrderLine{
			ItemID:         item.ItemID,
			Title:          item.Title,
			Quantity:       l.Quantity,
			UnitPriceExTax: item.UnitPriceExTax,
			TaxAmount:      lineTax,
		})
		spec.TotalTax = spec.TotalTax.Add(lineTax)
	}

	created, err := r.m.commerce.CreatePaidOrder(ctx, spec)
	if err != nil {
		return fmt.Errorf("settlement: create paid order for %s: %w", r.artifact.ID, err)
	}
	r.orderID = created.ID
	r.state = statePaid
	return nil
}

// disable retires the artifact. Money has already moved, so a failure here is
// reported but never unwinds the settlement.
func (r *run) disable(ctx context.Context) error {
	disabled, err := r.m.artifacts.DisableIfActive(context.WithoutCancel(ctx), r.artifact)
	if err != nil {
		r.disableDeferred = err
		r.m.log.Warn("artifact_disable_failed",
			observability.F("artifact_id", r.artifact.ID),
			observability.F("order_id", r.orderID),
			observability.F("error", err.Error()),
		)
	}
	r.disabledNow = disabled
	r.state = stateDone
	return nil
}
