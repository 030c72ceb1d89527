package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solentline/paybridge/internal/domain/journal"
	"github.com/solentline/paybridge/internal/domain/money"
	"github.com/solentline/paybridge/internal/domain/order"
	domain "github.com/solentline/paybridge/internal/domain/refund"
	"github.com/solentline/paybridge/internal/observability"
	"github.com/solentline/paybridge/internal/observability/logctx"
)

const (
	refundService  = "refund-service"
	useCaseExecute = "refund.execute"
	spanPrefix     = "UC."
)

var (
	ErrZeroAmount              = domain.ErrZeroAmount
	ErrOriginalPaymentNotFound = domain.ErrOriginalPaymentNotFound
	ErrReconciliationRequired  = domain.ErrReconciliationRequired
	ErrInvalidInput            = errors.New("refund: invalid input")
)

// ExecuteRefundUseCase runs the two-leg refund: commerce calculates, the
// processor moves the money, commerce records the movement. Order matters;
// the processor leg goes first because a failure there leaves both systems
// untouched, while a failure after it is a reconciliation case.
type ExecuteRefundUseCase struct {
	commerce  CommerceGateway
	processor ProcessorGateway
	journal   journal.Recorder
	tel       observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

// NewExecuteRefundUseCase wires the dependencies required to execute the use case.
func NewExecuteRefundUseCase(
	commerce CommerceGateway,
	processor ProcessorGateway,
	rec journal.Recorder,
	tel observability.Observability,
) *ExecuteRefundUseCase {
	baseLog := observability.NopLogger()
	if tel != nil {
		baseLog = tel.Logger()
	}
	baseLog = baseLog.With(
		observability.F("service", refundService),
	)

	metricsProvider := observability.NopMetrics()
	if tel != nil {
		metricsProvider = tel.Metrics()
	}

	return &ExecuteRefundUseCase{
		commerce:     commerce,
		processor:    processor,
		journal:      rec,
		tel:          tel,
		log:          baseLog,
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
	}
}

// Execute validates, calculates and runs both legs of the refund.
func (uc *ExecuteRefundUseCase) Execute(ctx context.Context, cmd domain.Request) (_ *domain.Execution, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseExecute),
		observability.F("order_id", cmd.OrderID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"ExecuteRefund",
		attribute.String("use_case", useCaseExecute),
		attribute.String("refund.order_id", cmd.OrderID),
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
				observability.L("use_case", useCaseExecute),
				observability.L("outcome", outcome),
			)
		}
		if uc.durHistogram != nil {
			uc.durHistogram.Observe(lat,
				observability.L("use_case", useCaseExecute),
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

	o, err := uc.commerce.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			outcome, statusText = "error", "ORDER_NOT_FOUND"
			return nil, err
		}
		outcome, statusText = "error", "ORDER_FETCH_FAILED"
		return nil, fmt.Errorf("refund: load order %s: %w", cmd.OrderID, err)
	}
	if err := cmd.Validate(o); err != nil {
		outcome, statusText = "error", "REQUEST_INVALID"
		return nil, newValidation(err.Error())
	}

	calc, err := uc.commerce.CalculateRefund(ctx, cmd)
	if err != nil {
		outcome, statusText = "error", "CALCULATION_FAILED"
		return nil, fmt.Errorf("refund: calculate for %s: %w", cmd.OrderID, err)
	}
	if !calc.Amount.IsPositive() {
		outcome, statusText = "error", "AMOUNT_ZERO"
		return nil, ErrZeroAmount
	}
	span.SetAttributes(attribute.String("refund.amount", calc.Amount.StringFixed(2)))

	txs, err := uc.commerce.ListTransactions(ctx, cmd.OrderID)
	if err != nil {
		outcome, statusText = "error", "TRANSACTION_LOOKUP_FAILED"
		return nil, fmt.Errorf("refund: list transactions for %s: %w", cmd.OrderID, err)
	}
	sale := order.FindSuccessfulSale(txs)
	if sale == nil || sale.ProcessorRef == "" {
		outcome, statusText = "error", "ORIGINAL_PAYMENT_NOT_FOUND"
		return nil, ErrOriginalPaymentNotFound
	}

	processorRefundID, err := uc.processor.RefundPayment(ctx, sale.ProcessorRef, money.ToMinorUnits(calc.Amount))
	if err != nil {
		// First leg failed: nothing moved anywhere, safe to surface and retry.
		outcome, statusText = "error", "PROCESSOR_LEG_FAILED"
		return nil, fmt.Errorf("refund: processor leg for %s: %w", cmd.OrderID, err)
	}

	commerceRefundID, err := uc.commerce.CreateRefund(ctx, cmd.OrderID, calc, sale.ID, cmd.Reason)
	if err != nil {
		outcome, statusText = "error", "RECONCILIATION_REQUIRED"
		recErr := fmt.Errorf("%w: processor refund %s executed for order %s but commerce record failed: %w",
			ErrReconciliationRequired, processorRefundID, cmd.OrderID, err)
		uc.record(ctx, journal.OutcomeReconciliationError, cmd.OrderID, processorRefundID, recErr)
		return nil, recErr
	}

	uc.record(ctx, journal.OutcomeOK, cmd.OrderID, processorRefundID, nil)
	span.AddEvent("refund.executed",
		trace.WithAttributes(
			attribute.String("refund.processor_id", processorRefundID),
			attribute.String("refund.commerce_id", commerceRefundID),
		),
	)

	return &domain.Execution{
		CommerceRefundID:  commerceRefundID,
		ProcessorRefundID: processorRefundID,
		Amount:            calc.Amount,
		Currency:          calc.Currency,
	}, nil
}

func (uc *ExecuteRefundUseCase) record(ctx context.Context, out journal.Outcome, orderID, processorRefundID string, cause error) {
	if uc.journal == nil {
		return
	}
	entry := journal.Entry{
		Scope:      journal.ScopeRefund,
		Outcome:    out,
		Reference:  processorRefundID,
		OrderID:    orderID,
		RecordedAt: time.Now().UTC(),
	}
	if cause != nil {
		entry.Detail = cause.Error()
	}
	uc.journal.Record(ctx, entry)
}

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
