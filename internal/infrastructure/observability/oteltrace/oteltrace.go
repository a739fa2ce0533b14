package oteltrace

import (
	"context"

	"github.com/Simply-Furaha/App/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "memberpay"

type tracer struct{ t trace.Tracer }

// New returns a tracer backed by the global OpenTelemetry provider. Without an
// SDK provider installed via otel.SetTracerProvider the spans are no-ops.
func New(name string) observability.Tracer {
	if name == "" {
		name = defaultTracerName
	}
	return &tracer{t: otel.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}
