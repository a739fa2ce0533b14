package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a payment request.
type State string

const (
	StateIdle       State = "idle"
	StateInitiating State = "initiating"
	StatePending    State = "pending"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// IsActive reports whether the request occupies its target.
func (s State) IsActive() bool {
	return s == StateInitiating || s == StatePending
}

// FailureCode classifies why a request ended in StateFailed.
type FailureCode string

const (
	FailureGatewayRejected       FailureCode = "gateway_rejected"
	FailureDeclined              FailureCode = "declined"
	FailureInitiationInterrupted FailureCode = "initiation_interrupted"
)

// Amount bounds in whole currency units, inclusive.
const (
	MinAmountUnits = 1
	MaxAmountUnits = 70000
)

var (
	MinAmount = decimal.NewFromInt(MinAmountUnits)
	MaxAmount = decimal.NewFromInt(MaxAmountUnits)
)

// ValidateAmount accepts whole currency units within the bounds. The gateway
// only moves whole units.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThan(MinAmount) || amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount.String())
	}
	if !amount.Equal(amount.Truncate(0)) {
		return fmt.Errorf("%w: %s is not a whole amount", ErrInvalidAmount, amount.String())
	}
	return nil
}

// Request is one attempt to collect a payment for a Target.
type Request struct {
	ID                string
	CorrelationID     string
	MerchantRequestID string
	Target            Target
	Amount            decimal.Decimal
	PhoneNumber       string
	State             State
	FailureCode       FailureCode
	FailureReason     string
	ReceiptNumber     string
	Attempts          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastPolledAt      time.Time
	DeadlineAt        time.Time
	CompletedAt       time.Time
}

// NewRequest builds an Idle request. phoneNumber must already be normalized.
func NewRequest(id string, target Target, amount decimal.Decimal, phoneNumber string, at time.Time) (*Request, error) {
	if id == "" {
		return nil, fmt.Errorf("payment: request id is required")
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	return &Request{
		ID:          id,
		Target:      target,
		Amount:      amount,
		PhoneNumber: phoneNumber,
		State:       StateIdle,
		CreatedAt:   at,
		UpdatedAt:   at,
	}, nil
}

// Clone returns a copy safe to hand across goroutines.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Reference returns the correlation id once known, else the request id.
func (r *Request) Reference() string {
	if r.CorrelationID != "" {
		return r.CorrelationID
	}
	return r.ID
}

func (r *Request) BeginInitiating(at time.Time) error {
	return r.apply(at, func(s RequestState) (RequestState, error) { return s.OnInitiate(r) })
}

// MarkPending records gateway acceptance and opens the confirmation window.
func (r *Request) MarkPending(correlationID, merchantRequestID string, deadline, at time.Time) error {
	if err := r.apply(at, func(s RequestState) (RequestState, error) {
		return s.OnAccepted(r, correlationID, merchantRequestID)
	}); err != nil {
		return err
	}
	r.DeadlineAt = deadline
	return nil
}

// Reject fails a request that never reached the payer.
func (r *Request) Reject(code FailureCode, reason string, at time.Time) error {
	return r.apply(at, func(s RequestState) (RequestState, error) { return s.OnRejected(r, code, reason) })
}

func (r *Request) Succeed(receipt string, at time.Time) error {
	return r.apply(at, func(s RequestState) (RequestState, error) { return s.OnSucceeded(r, receipt) })
}

// Decline fails a pending request on a gateway-reported failure.
func (r *Request) Decline(reason string, at time.Time) error {
	return r.apply(at, func(s RequestState) (RequestState, error) { return s.OnDeclined(r, reason) })
}

func (r *Request) TimeOut(at time.Time) error {
	return r.apply(at, func(s RequestState) (RequestState, error) { return s.OnExpired(r) })
}

// RecordQuery counts one status query against a pending request.
func (r *Request) RecordQuery(at time.Time) error {
	if r.State != StatePending {
		return ErrInvalidStateTransition
	}
	r.Attempts++
	r.LastPolledAt = at
	r.UpdatedAt = at
	return nil
}

func (r *Request) apply(at time.Time, transition func(RequestState) (RequestState, error)) error {
	next, err := transition(stateFor(r.State))
	if err != nil {
		return fmt.Errorf("%w: from %s", err, r.State)
	}
	r.State = next.Status()
	r.UpdatedAt = at
	if r.State.IsTerminal() {
		r.CompletedAt = at
	}
	return nil
}
