package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appcheckout "github.com/solentline/paybridge/internal/application/checkout"
	appcrm "github.com/solentline/paybridge/internal/application/crm"
	apprefund "github.com/solentline/paybridge/internal/application/refund"
	"github.com/solentline/paybridge/internal/application/settlement"
	"github.com/solentline/paybridge/internal/config"
	"github.com/solentline/paybridge/internal/infrastructure/commerce"
	crmmirror "github.com/solentline/paybridge/internal/infrastructure/crm"
	httptransport "github.com/solentline/paybridge/internal/infrastructure/http"
	"github.com/solentline/paybridge/internal/infrastructure/memory"
	"github.com/solentline/paybridge/internal/infrastructure/observability/oteltrace"
	"github.com/solentline/paybridge/internal/infrastructure/observability/prometrics"
	"github.com/solentline/paybridge/internal/infrastructure/observability/telemetry"
	"github.com/solentline/paybridge/internal/infrastructure/observability/zaplogger"
	"github.com/solentline/paybridge/internal/infrastructure/outbox"
	"github.com/solentline/paybridge/internal/infrastructure/stripeclient"
	"github.com/solentline/paybridge/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	baseLogger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)

	registry := prometrics.New("paybridge", "")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: registry.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: registry.Counter(
			string(observability.MHTTPRequests),
			"Total number of handled HTTP requests.",
			"method", "route", "status",
		),
		observability.MExternalRequests: registry.Counter(
			string(observability.MExternalRequests),
			"Total number of calls to external systems.",
			"peer", "endpoint", "outcome",
		),
		observability.MWebhookEvents: registry.Counter(
			string(observability.MWebhookEvents),
			"Total number of processed webhook events.",
			"event", "outcome",
		),
		observability.MCRMMirrorFailures: registry.Counter(
			string(observability.MCRMMirrorFailures),
			"Count of failed CRM mirror attempts.",
			"event",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: registry.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: registry.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route",
		),
		observability.MExternalRequestDuration: registry.Histogram(
			string(observability.MExternalRequestDuration),
			"Duration of external calls in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint",
		),
	}

	tel := telemetry.New(oteltrace.New(cfg.ServiceName), baseLogger, counters, histograms)

	bus := outbox.NewBus(baseLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	reconciliationJournal := memory.NewJournal()

	commerceClient := commerce.NewClient(cfg, tel)
	processor := stripeclient.New(cfg.ProcessorSecretKey, cfg.WebhookSigningSecret, tel)

	checkoutUC := appcheckout.NewCreateCheckoutUseCase(
		commerceClient, commerceClient, processor,
		cfg.VATRate, cfg.Currency, cfg.AppBaseURL, tel,
	)
	settleUC := settlement.NewSettleUseCase(
		processor, processor, commerceClient, commerceClient,
		reconciliationJournal, bus, cfg.VATRate, tel,
	)
	refundUC := apprefund.NewExecuteRefundUseCase(
		commerceClient, processor, reconciliationJournal, tel,
	)

	mirrorWorker := appcrm.New(bus, crmmirror.New(cfg.CRMMirrorURL, tel), tel)
	mirrorWorker.Start()

	handler := httptransport.NewHandler(
		checkoutUC, settleUC, refundUC,
		commerceClient, reconciliationJournal,
		cfg.AdminOrderURL, baseLogger, tel,
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("http_server_error",
				observability.F("error", err.Error()),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("http_server_shutdown_error",
			observability.F("error", err.Error()),
		)
	} else {
		baseLogger.Info("http_server_stopped")
	}
}
