package zaplogger

import (
	"errors"
	"testing"

	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerCarriesFixedAndScopedFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := New(zap.New(core), observability.F("service", "payments"))

	log.With(observability.F("correlation_id", "C1")).Info("payment_pending",
		observability.F("attempts", 2),
		observability.F("error", errors.New("boom")),
	)

	entries := logs.FilterMessage("payment_pending").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, "payments", ctx["service"])
	require.Equal(t, "C1", ctx["correlation_id"])
	require.EqualValues(t, 2, ctx["attempts"])
	require.Equal(t, "boom", ctx["error"])
}
