package oteltrace

import (
	"context"

	"github.com/solentline/paybridge/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct{ t trace.Tracer }

// New returns a Tracer backed by the globally registered OpenTelemetry
// provider. Initializing an sdktrace.TracerProvider with an exporter and
// calling otel.SetTracerProvider is the deployment's responsibility; without
// it, spans are no-ops.
func New(name string) observability.Tracer {
	if name == "" {
		name = "paybridge"
	}
	return &tracer{t: otel.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}
