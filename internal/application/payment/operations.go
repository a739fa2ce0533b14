package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseGetState      = "payment.get_state"
	useCaseCancel        = "payment.cancel"
	useCaseResume        = "payment.resume"
	useCaseResumePending = "payment.resume_pending"
	useCaseReportOutcome = "payment.report_outcome"
	useCaseHistory       = "payment.history"
	useCasePrune         = "payment.prune"

	interruptedReason = "initiation interrupted before gateway acceptance"
	defaultHistory    = 50
)

// GetState returns a snapshot of the request with the given correlation id.
// Requests rejected before a correlation id was assigned are found by their
// request id.
func (o *Orchestrator) GetState(ctx context.Context, correlationID string) (_ *dompay.Request, err error) {
	ctx, rn := o.begin(ctx, useCaseGetState, "GetPaymentState",
		attribute.String("payment.correlation_id", correlationID))
	defer func() { rn.end(ctx, err) }()

	req, err := o.lookup(ctx, correlationID)
	if err != nil {
		rn.fail("LOOKUP_FAILED")
		return nil, err
	}
	rn.statusText = strings.ToUpper(string(req.State))
	return req, nil
}

func (o *Orchestrator) lookup(ctx context.Context, ref string) (*dompay.Request, error) {
	if ref == "" {
		return nil, dompay.ErrNotFound
	}
	req, err := o.repo.FindByCorrelationID(ctx, ref)
	if errors.Is(err, dompay.ErrNotFound) {
		req, err = o.repo.Get(ctx, ref)
	}
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return req, nil
}

// Cancel stops the poll loop of a request and waits for it to exit. The
// record stays as it is, normally Pending, and the ledger is untouched.
func (o *Orchestrator) Cancel(ctx context.Context, correlationID string) (_ *dompay.Request, err error) {
	ctx, rn := o.begin(ctx, useCaseCancel, "CancelPayment",
		attribute.String("payment.correlation_id", correlationID))
	defer func() { rn.end(ctx, err) }()

	req, err := o.repo.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		rn.fail("LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}
	if !o.loops.stop(correlationID) {
		rn.statusText = "NOT_POLLING"
	}
	// re-read: the loop may have finished the request before it stopped
	if latest, gerr := o.repo.Get(ctx, req.ID); gerr == nil {
		req = latest
	}
	return req, nil
}

// Resume re-attaches a poll loop to a Pending request using its stored
// deadline. A request whose deadline already passed is timed out at once.
// Terminal requests are returned unchanged.
func (o *Orchestrator) Resume(ctx context.Context, correlationID string) (_ *dompay.Request, err error) {
	ctx, rn := o.begin(ctx, useCaseResume, "ResumePayment",
		attribute.String("payment.correlation_id", correlationID))
	defer func() { rn.end(ctx, err) }()

	req, err := o.repo.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		rn.fail("LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}
	switch {
	case req.State.IsTerminal():
		rn.statusText = "ALREADY_TERMINAL"
		return req, nil
	case req.State != dompay.StatePending:
		rn.fail("NOT_PENDING")
		return nil, fmt.Errorf("%w: cannot resume %s request", dompay.ErrInvalidStateTransition, req.State)
	}

	if !o.now().Before(req.DeadlineAt) {
		o.expire(ctx, req.ID)
		rn.statusText = "EXPIRED"
	} else if !o.startLoop(ctx, req) {
		rn.statusText = "ALREADY_POLLING"
	}
	return o.repo.Get(ctx, req.ID)
}

// ResumeSummary counts what ResumePending did.
type ResumeSummary struct {
	Resumed int
	Expired int
	Failed  int
}

// ResumePending is run once at startup. It re-attaches loops to every Pending
// request and fails requests stuck in Initiating, which have no correlation
// id to poll.
func (o *Orchestrator) ResumePending(ctx context.Context) (_ ResumeSummary, err error) {
	ctx, rn := o.begin(ctx, useCaseResumePending, "ResumePendingPayments")
	var sum ResumeSummary
	defer func() {
		rn.with(
			observability.F("resumed", sum.Resumed),
			observability.F("expired", sum.Expired),
			observability.F("failed", sum.Failed),
		)
		rn.end(ctx, err)
	}()

	active, err := o.repo.ListByState(ctx, dompay.StateInitiating, dompay.StatePending)
	if err != nil {
		rn.fail("REPO_LIST_FAILED")
		return sum, wrapRepositoryError(err)
	}

	for _, req := range active {
		switch req.State {
		case dompay.StateInitiating:
			if o.failInterrupted(ctx, req.ID) {
				sum.Failed++
			}
		case dompay.StatePending:
			if !o.now().Before(req.DeadlineAt) {
				o.expire(ctx, req.ID)
				sum.Expired++
				continue
			}
			if o.startLoop(ctx, req) {
				sum.Resumed++
			}
		}
	}
	return sum, nil
}

func (o *Orchestrator) failInterrupted(ctx context.Context, requestID string) bool {
	unlock := o.locks.Lock(requestID)
	defer unlock()

	req, err := o.repo.Get(ctx, requestID)
	if err != nil || req.State != dompay.StateInitiating {
		return false
	}
	if err := req.Reject(dompay.FailureInitiationInterrupted, interruptedReason, o.now()); err != nil {
		return false
	}
	if err := o.repo.Update(ctx, req); err != nil {
		logctx.FromOr(ctx, o.log).Error("payment_fail_persist_failed",
			observability.F("request_id", requestID),
			observability.F("error", err.Error()),
		)
		return false
	}
	o.recordTerminal(ctx, req)
	return true
}

// ReportOutcome applies an out-of-band gateway outcome through the same path
// as the poll loop. Outcomes for terminal requests are ignored, except that a
// success for a TimedOut request is credited to the ledger while the request
// keeps its state.
func (o *Orchestrator) ReportOutcome(ctx context.Context, correlationID string, outcome dompay.Outcome) (_ *dompay.Request, err error) {
	ctx, rn := o.begin(ctx, useCaseReportOutcome, "ReportPaymentOutcome",
		attribute.String("payment.correlation_id", correlationID),
		attribute.String("payment.gateway_status", string(outcome.Status)),
	)
	defer func() { rn.end(ctx, err) }()

	found, err := o.repo.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		rn.fail("LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}

	req, err := o.applyOutcome(ctx, found.ID, outcome, rn)
	if err != nil {
		return nil, err
	}
	if req.State.IsTerminal() {
		o.loops.cancel(correlationID)
	}
	return req, nil
}

func (o *Orchestrator) applyOutcome(ctx context.Context, requestID string, outcome dompay.Outcome, rn *run) (*dompay.Request, error) {
	unlock := o.locks.Lock(requestID)
	defer unlock()

	req, err := o.repo.Get(ctx, requestID)
	if err != nil {
		rn.fail("REPO_GET_FAILED")
		return nil, wrapRepositoryError(err)
	}

	switch {
	case req.State == dompay.StatePending:
		switch outcome.Status {
		case dompay.GatewaySuccess:
			if err := o.completeSuccess(ctx, req, outcome.ReceiptNumber); err != nil {
				rn.fail("RECONCILE_FAILED")
				return nil, err
			}
			rn.statusText = "SUCCEEDED"
		case dompay.GatewayFailed:
			if err := o.completeFailure(ctx, req, outcome.FailureReason); err != nil {
				rn.fail("REPO_UPDATE_FAILED")
				return nil, wrapRepositoryError(err)
			}
			rn.statusText = "DECLINED"
		default:
			rn.statusText = "STILL_PENDING"
		}
		return req, nil

	case req.State == dompay.StateTimedOut && outcome.Status == dompay.GatewaySuccess:
		credited := req.Clone()
		credited.ReceiptNumber = outcome.ReceiptNumber
		if err := o.reconciler.Apply(ctx, credited); err != nil {
			rn.fail("RECONCILE_FAILED")
			return nil, err
		}
		logctx.FromOr(ctx, o.log).Warn("payment_late_confirmation",
			observability.F("correlation_id", req.CorrelationID),
			observability.F("receipt_number", outcome.ReceiptNumber),
		)
		o.publish(ctx, dompay.NewLateConfirmedEvent(req, outcome.ReceiptNumber))
		rn.statusText = "LATE_CONFIRMED"
		return req, nil

	default:
		rn.statusText = "IGNORED"
		return req, nil
	}
}

// History lists a member's requests, newest first.
func (o *Orchestrator) History(ctx context.Context, memberID string, limit int) (_ []*dompay.Request, err error) {
	ctx, rn := o.begin(ctx, useCaseHistory, "PaymentHistory")
	defer func() { rn.end(ctx, err) }()

	if memberID == "" {
		rn.fail("MEMBER_ID_REQUIRED")
		return nil, fmt.Errorf("%w: member id is required", dompay.ErrInvalidTarget)
	}
	if limit <= 0 {
		limit = defaultHistory
	}
	items, err := o.repo.ListByMember(ctx, memberID, limit)
	if err != nil {
		rn.fail("REPO_LIST_FAILED")
		return nil, wrapRepositoryError(err)
	}
	rn.with(observability.F("count", len(items)))
	return items, nil
}

// PruneCompleted deletes terminal requests completed more than olderThan
// ago. A non-positive olderThan disables pruning.
func (o *Orchestrator) PruneCompleted(ctx context.Context, olderThan time.Duration) (_ int, err error) {
	ctx, rn := o.begin(ctx, useCasePrune, "PruneCompletedPayments")
	defer func() { rn.end(ctx, err) }()

	if olderThan <= 0 {
		rn.statusText = "DISABLED"
		return 0, nil
	}
	n, err := o.repo.DeleteCompletedBefore(ctx, o.now().Add(-olderThan))
	if err != nil {
		rn.fail("REPO_DELETE_FAILED")
		return 0, wrapRepositoryError(err)
	}
	rn.with(observability.F("deleted", n))
	return n, nil
}
