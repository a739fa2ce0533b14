package workerpresentation

import (
	"context"
	"testing"

	"github.com/Simply-Furaha/App/internal/infrastructure/observability/zaplogger"
	"github.com/Simply-Furaha/App/internal/observability/logctx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithEventContextBindsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zaplogger.New(zap.New(core))

	traceID := trace.TraceID{1, 2, 3}
	spanID := trace.SpanID{4, 5, 6}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	ctx = EventContext(base, nil)(ctx, map[string]string{
		"use_case":       "payment.poll",
		"correlation_id": "ws_CO_1",
		"event_id":       "evt-1",
	})
	logger := logctx.From(ctx)
	require.NotNil(t, logger)
	logger.Info("probe")

	entries := logs.FilterMessage("probe").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "evt-1", fields["event_id"])
	assert.Equal(t, "ws_CO_1", fields["correlation_id"])
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
}

func TestWithEventContextGeneratesEventID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := WithEventContext(context.Background(), zaplogger.New(zap.New(core)), nil, trace.TraceID{}, trace.SpanID{}, nil)
	logctx.From(ctx).Info("probe")

	fields := logs.All()[0].ContextMap()
	assert.NotEmpty(t, fields["event_id"])
	assert.NotContains(t, fields, "trace_id")
}
