package payment

import (
	"context"
	"time"

	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	useCasePoll   = "payment.poll"
	queryEndpoint = "query_status"
)

// startLoop attaches a poll loop to a pending request unless one is running.
// The loop outlives ctx but keeps its trace so queries link to the submit.
func (o *Orchestrator) startLoop(ctx context.Context, r *dompay.Request) bool {
	base := o.baseCtx
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		base = trace.ContextWithSpanContext(base, sc)
	}
	base = o.loopContext(base, map[string]string{
		"use_case":       useCasePoll,
		"correlation_id": r.CorrelationID,
		"request_id":     r.ID,
		"payment_kind":   string(r.Target.Kind),
	})
	requestID, deadline := r.ID, r.DeadlineAt
	return o.loops.start(base, r.CorrelationID, func(loopCtx context.Context) {
		o.poll(loopCtx, requestID, r.CorrelationID, deadline)
	})
}

// poll queries the gateway at a fixed cadence until a terminal outcome, the
// deadline or cancellation. Queries are strictly sequential.
func (o *Orchestrator) poll(ctx context.Context, requestID, correlationID string, deadline time.Time) {
	logger := logctx.FromOr(ctx, o.log)
	logger.Debug("poll_loop_started", observability.F("deadline_at", deadline))

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("poll_loop_cancelled")
			return
		case <-timer.C:
			o.expire(ctx, requestID)
			return
		case <-ticker.C:
			if !time.Now().Before(deadline) {
				o.expire(ctx, requestID)
				return
			}
			if done := o.queryOnce(ctx, requestID, correlationID, deadline); done {
				return
			}
		}
	}
}

// queryOnce issues one status query and applies its result. It reports
// whether the loop should stop.
func (o *Orchestrator) queryOnce(ctx context.Context, requestID, correlationID string, deadline time.Time) bool {
	logger := logctx.FromOr(ctx, o.log)
	ctx, span := o.tel.Tracer().Start(ctx, spanPrefix+"QueryPaymentStatus",
		attribute.String("use_case", useCasePoll),
		attribute.String("payment.correlation_id", correlationID),
	)
	defer span.End()

	qctx, cancel := context.WithDeadline(ctx, deadline)
	qctx, cancelTimeout := context.WithTimeout(qctx, o.cfg.QueryTimeout)
	start := time.Now()
	res, qerr := o.gateway.QueryStatus(qctx, correlationID)
	cancelTimeout()
	cancel()

	extOutcome := "success"
	if qerr != nil {
		extOutcome = "error"
	}
	o.extCounter.Add(1,
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", queryEndpoint),
		observability.L("outcome", extOutcome),
	)
	o.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", queryEndpoint),
	)

	// cancelled while the query was in flight: drop the result
	if ctx.Err() != nil {
		return true
	}

	unlock := o.locks.Lock(requestID)
	defer unlock()
	if ctx.Err() != nil {
		return true
	}

	req, err := o.repo.Get(ctx, requestID)
	if err != nil {
		logger.Error("poll_load_failed", observability.F("error", err.Error()))
		span.SetStatus(codes.Error, "REPO_GET_FAILED")
		return false
	}
	if req.State != dompay.StatePending {
		// resolved elsewhere, e.g. by ReportOutcome
		return true
	}
	if err := req.RecordQuery(o.now()); err != nil {
		return true
	}

	if qerr != nil {
		o.queryCounter.Add(1, observability.L("outcome", "error"))
		logger.Warn("status_query_failed",
			observability.F("attempt", req.Attempts),
			observability.F("error", qerr.Error()),
		)
		span.RecordError(qerr)
		span.SetStatus(codes.Error, "QUERY_FAILED")
		o.saveAttempt(ctx, req)
		return false
	}

	o.queryCounter.Add(1, observability.L("outcome", string(res.Status)))
	span.SetAttributes(attribute.String("payment.gateway_status", string(res.Status)))

	switch res.Status {
	case dompay.GatewaySuccess:
		if err := o.completeSuccess(ctx, req, res.ReceiptNumber); err != nil {
			logger.Warn("reconcile_deferred",
				observability.F("attempt", req.Attempts),
				observability.F("error", err.Error()),
			)
			span.SetStatus(codes.Error, "RECONCILE_FAILED")
			o.saveAttempt(ctx, req)
			return false
		}
		span.SetStatus(codes.Ok, "SUCCEEDED")
		return true
	case dompay.GatewayFailed:
		if err := o.completeFailure(ctx, req, res.FailureReason); err != nil {
			logger.Error("payment_fail_persist_failed", observability.F("error", err.Error()))
			return false
		}
		span.SetStatus(codes.Ok, "DECLINED")
		return true
	default:
		o.saveAttempt(ctx, req)
		return false
	}
}

func (o *Orchestrator) saveAttempt(ctx context.Context, req *dompay.Request) {
	if err := o.repo.Update(ctx, req); err != nil {
		logctx.FromOr(ctx, o.log).Warn("poll_attempt_persist_failed", observability.F("error", err.Error()))
	}
}

// completeSuccess reconciles the ledger before Succeeded is stored. If the
// reconciler fails the request stays Pending. Caller holds the request lock.
func (o *Orchestrator) completeSuccess(ctx context.Context, req *dompay.Request, receipt string) error {
	next := req.Clone()
	if err := next.Succeed(receipt, o.now()); err != nil {
		return err
	}
	if err := o.reconciler.Apply(ctx, next); err != nil {
		return err
	}
	if err := o.repo.Update(ctx, next); err != nil {
		return err
	}
	*req = *next
	logctx.FromOr(ctx, o.log).Info("payment_succeeded",
		observability.F("correlation_id", req.CorrelationID),
		observability.F("receipt_number", req.ReceiptNumber),
		observability.F("attempts", req.Attempts),
	)
	o.recordTerminal(ctx, req)
	return nil
}

// completeFailure stores a gateway decline with its reason verbatim.
func (o *Orchestrator) completeFailure(ctx context.Context, req *dompay.Request, reason string) error {
	if err := req.Decline(reason, o.now()); err != nil {
		return err
	}
	if err := o.repo.Update(ctx, req); err != nil {
		return err
	}
	logctx.FromOr(ctx, o.log).Info("payment_declined",
		observability.F("correlation_id", req.CorrelationID),
		observability.F("failure_reason", req.FailureReason),
	)
	o.recordTerminal(ctx, req)
	return nil
}

// expire moves a still-pending request to TimedOut once its deadline passed.
func (o *Orchestrator) expire(ctx context.Context, requestID string) {
	unlock := o.locks.Lock(requestID)
	defer unlock()
	if ctx.Err() != nil {
		return
	}
	logger := logctx.FromOr(ctx, o.log)

	req, err := o.repo.Get(ctx, requestID)
	if err != nil {
		logger.Error("poll_load_failed", observability.F("error", err.Error()))
		return
	}
	if req.State != dompay.StatePending {
		return
	}
	at := o.now()
	if at.Before(req.DeadlineAt) {
		at = req.DeadlineAt
	}
	if err := req.TimeOut(at); err != nil {
		return
	}
	if err := o.repo.Update(ctx, req); err != nil {
		logger.Error("payment_timeout_persist_failed", observability.F("error", err.Error()))
		return
	}
	logger.Info("payment_timed_out",
		observability.F("correlation_id", req.CorrelationID),
		observability.F("attempts", req.Attempts),
	)
	o.recordTerminal(ctx, req)
}
