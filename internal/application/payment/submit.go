package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/domain/phone"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	useCaseSubmit    = "payment.submit"
	initiateEndpoint = "initiate"
)

// SubmitInput starts a payment. PhoneNumber overrides DefaultPhone, which is
// the member's phone from the identity context.
type SubmitInput struct {
	Target       dompay.Target
	Amount       decimal.Decimal
	PhoneNumber  string
	DefaultPhone string
}

type SubmitResult struct {
	RequestID     string
	CorrelationID string
	State         dompay.State
	DeadlineAt    time.Time
	FailureReason string
	Instructions  []string
}

// Execute validates the input, claims the target, asks the gateway to prompt
// the payer and starts the poll loop. A gateway rejection returns the Failed
// result together with an error wrapping dompay.ErrGatewayRejected.
func (o *Orchestrator) Execute(ctx context.Context, cmd SubmitInput) (_ *SubmitResult, err error) {
	logger := logctx.FromOr(ctx, o.log).With(
		observability.F("use_case", useCaseSubmit),
		observability.F("target", cmd.Target.Key()),
		observability.F("amount", cmd.Amount.String()),
	)

	ctx, span := o.tel.Tracer().Start(ctx, spanPrefix+"SubmitPayment",
		attribute.String("use_case", useCaseSubmit),
		attribute.String("payment.kind", string(cmd.Target.Kind)),
		attribute.String("payment.target", cmd.Target.Key()),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var requestID, correlationID string
	var maskedPhone string

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

		o.reqCounter.Add(1,
			observability.L("use_case", useCaseSubmit),
			observability.L("outcome", outcome),
		)
		o.durHistogram.Observe(lat,
			observability.L("use_case", useCaseSubmit),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if requestID != "" {
			fields = append(fields, observability.F("request_id", requestID))
		}
		if correlationID != "" {
			fields = append(fields, observability.F("correlation_id", correlationID))
		}
		if maskedPhone != "" {
			fields = append(fields, observability.F("phone", maskedPhone))
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

	if o.loops.isClosed() {
		outcome, statusText = "error", "SHUT_DOWN"
		return nil, ErrShutdown
	}
	if err := cmd.Target.Validate(); err != nil {
		outcome, statusText = "error", "TARGET_INVALID"
		return nil, err
	}
	if err := dompay.ValidateAmount(cmd.Amount); err != nil {
		outcome, statusText = "error", "AMOUNT_INVALID"
		return nil, err
	}
	rawPhone := cmd.PhoneNumber
	if rawPhone == "" {
		rawPhone = cmd.DefaultPhone
	}
	msisdn, err := phone.Normalize(rawPhone)
	if err != nil {
		outcome, statusText = "error", "PHONE_INVALID"
		return nil, err
	}
	maskedPhone = phone.Mask(msisdn)

	if o.eligibility != nil {
		if err := o.eligibility.CheckTarget(ctx, cmd.Target); err != nil {
			outcome, statusText = "error", "TARGET_NOT_PAYABLE"
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	req, derr := dompay.NewRequest(o.ids.NewID(), cmd.Target, cmd.Amount, msisdn, o.now())
	if derr != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, fmt.Errorf("payment: construct: %w", derr)
	}
	requestID = req.ID
	if err := req.BeginInitiating(o.now()); err != nil {
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return nil, err
	}

	unlock := o.locks.Lock(req.ID)
	defer unlock()

	if err := o.repo.Claim(ctx, req); err != nil {
		var dup *dompay.DuplicateRequestError
		if errors.As(err, &dup) {
			outcome, statusText = "error", "DUPLICATE_IN_PROGRESS"
			if dup.Existing != nil {
				correlationID = dup.Existing.Reference()
			}
			span.AddEvent("payment.duplicate_suppressed",
				trace.WithAttributes(attribute.String("payment.correlation_id", correlationID)),
			)
			return nil, err
		}
		outcome, statusText = "error", "REPO_CLAIM_FAILED"
		return nil, wrapRepositoryError(err)
	}

	// the payer may be prompted as soon as the push is sent, so neither the
	// call nor its persistence follows the caller's cancellation
	persistCtx := logctx.Detach(ctx)
	resp, initErr := o.initiate(persistCtx, req)
	if initErr != nil {
		if rerr := req.Reject(dompay.FailureGatewayRejected, initErr.Error(), o.now()); rerr != nil {
			outcome, statusText = "error", "STATE_TRANSITION_FAILED"
			return nil, rerr
		}
		if uerr := o.repo.Update(persistCtx, req); uerr != nil {
			outcome, statusText = "error", "REPO_UPDATE_FAILED"
			return nil, wrapRepositoryError(uerr)
		}
		o.recordTerminal(persistCtx, req)
		outcome, statusText = "error", "GATEWAY_REJECTED"
		return &SubmitResult{
			RequestID:     req.ID,
			State:         req.State,
			FailureReason: req.FailureReason,
		}, fmt.Errorf("%w: %v", dompay.ErrGatewayRejected, initErr)
	}

	at := o.now()
	if err := req.MarkPending(resp.CorrelationID, resp.MerchantRequestID, at.Add(o.cfg.Deadline), at); err != nil {
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return nil, err
	}
	correlationID = req.CorrelationID
	if err := o.repo.Update(persistCtx, req); err != nil {
		// left in Initiating; ResumePending fails it on the next start
		outcome, statusText = "error", "REPO_UPDATE_FAILED"
		return nil, wrapRepositoryError(err)
	}

	o.startLoop(ctx, req)
	o.publish(persistCtx, dompay.NewPendingEvent(req))

	span.SetAttributes(
		attribute.String("payment.correlation_id", req.CorrelationID),
		attribute.String("payment.state", string(req.State)),
	)
	statusText = "PENDING"
	return &SubmitResult{
		RequestID:     req.ID,
		CorrelationID: req.CorrelationID,
		State:         req.State,
		DeadlineAt:    req.DeadlineAt,
		Instructions:  resp.Instructions,
	}, nil
}

// Submit is a convenience wrapper over Execute.
func (o *Orchestrator) Submit(ctx context.Context, target dompay.Target, amount decimal.Decimal, phoneNumber string) (*SubmitResult, error) {
	return o.Execute(ctx, SubmitInput{Target: target, Amount: amount, PhoneNumber: phoneNumber})
}

func (o *Orchestrator) initiate(ctx context.Context, req *dompay.Request) (*InitiateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.InitiateTimeout)
	defer cancel()

	start := time.Now()
	extOutcome := "success"
	defer func() {
		o.extCounter.Add(1,
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", initiateEndpoint),
			observability.L("outcome", extOutcome),
		)
		o.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", initiateEndpoint),
		)
	}()

	resp, err := o.gateway.Initiate(ctx, InitiateRequest{
		Target:      req.Target,
		Amount:      req.Amount,
		PhoneNumber: req.PhoneNumber,
		Reference:   req.Target.Reference(),
		Description: describe(req.Target),
	})
	if err == nil && (resp == nil || resp.CorrelationID == "") {
		err = errors.New("gateway returned no correlation id")
	}
	if err != nil {
		extOutcome = "error"
		return nil, err
	}
	return resp, nil
}

func describe(t dompay.Target) string {
	if t.Kind == dompay.KindLoanRepayment {
		return "Loan repayment"
	}
	return "Monthly contribution"
}
