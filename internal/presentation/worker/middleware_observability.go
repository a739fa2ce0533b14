package workerpresentation

import (
	"context"

	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// WithEventContext injects a request-scoped logger for background executions
// such as poll loops and event handlers.
// Dynamic fields only: trace_id/span_id (if valid), event_id (generated if empty),
// plus caller-provided attributes (e.g. "use_case", "event", "correlation_id").
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	tel observability.Observability,
	traceID trace.TraceID,
	spanID trace.SpanID,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = observability.Or(tel).Logger()
	}

	if attrs == nil {
		attrs = make(map[string]string)
	}

	fields := make([]observability.Field, 0, len(attrs)+3)

	// Prefer a stable, human-pivotable ID for the event
	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))

	if traceID.IsValid() {
		fields = append(fields, observability.F("trace_id", traceID.String()))
	}
	if spanID.IsValid() {
		fields = append(fields, observability.F("span_id", spanID.String()))
	}

	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}

// EventContext returns a decorator that applies WithEventContext using the
// span context already carried by ctx.
func EventContext(base observability.Logger, tel observability.Observability) func(context.Context, map[string]string) context.Context {
	return func(ctx context.Context, attrs map[string]string) context.Context {
		sc := trace.SpanContextFromContext(ctx)
		return WithEventContext(ctx, base, tel, sc.TraceID(), sc.SpanID(), attrs)
	}
}
