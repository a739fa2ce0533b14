package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// SucceededEvent is emitted once a request reaches StateSucceeded.
type SucceededEvent struct {
	RequestID     string
	CorrelationID string
	Target        Target
	Amount        decimal.Decimal
	PhoneNumber   string
	ReceiptNumber string
	OccurredAt    time.Time
}

func (SucceededEvent) EventName() string { return "payment.succeeded" }

func NewSucceededEvent(r *Request) SucceededEvent {
	return SucceededEvent{
		RequestID:     r.ID,
		CorrelationID: r.CorrelationID,
		Target:        r.Target,
		Amount:        r.Amount,
		PhoneNumber:   r.PhoneNumber,
		ReceiptNumber: r.ReceiptNumber,
		OccurredAt:    time.Now().UTC(),
	}
}

// FailedEvent is emitted when a request ends in StateFailed.
type FailedEvent struct {
	RequestID     string
	CorrelationID string
	Target        Target
	PhoneNumber   string
	Code          FailureCode
	Reason        string
	OccurredAt    time.Time
}

func (FailedEvent) EventName() string { return "payment.failed" }

func NewFailedEvent(r *Request) FailedEvent {
	return FailedEvent{
		RequestID:     r.ID,
		CorrelationID: r.CorrelationID,
		Target:        r.Target,
		PhoneNumber:   r.PhoneNumber,
		Code:          r.FailureCode,
		Reason:        r.FailureReason,
		OccurredAt:    time.Now().UTC(),
	}
}

// TimedOutEvent is emitted when the confirmation window closes without an outcome.
type TimedOutEvent struct {
	RequestID     string
	CorrelationID string
	Target        Target
	PhoneNumber   string
	Attempts      int
	OccurredAt    time.Time
}

func (TimedOutEvent) EventName() string { return "payment.timed_out" }

func NewTimedOutEvent(r *Request) TimedOutEvent {
	return TimedOutEvent{
		RequestID:     r.ID,
		CorrelationID: r.CorrelationID,
		Target:        r.Target,
		PhoneNumber:   r.PhoneNumber,
		Attempts:      r.Attempts,
		OccurredAt:    time.Now().UTC(),
	}
}

// LateConfirmedEvent is emitted when a success arrives for a request that
// already timed out. The request keeps its state; the ledger is credited.
type LateConfirmedEvent struct {
	RequestID     string
	CorrelationID string
	Target        Target
	Amount        decimal.Decimal
	ReceiptNumber string
	OccurredAt    time.Time
}

func (LateConfirmedEvent) EventName() string { return "payment.late_confirmed" }

func NewLateConfirmedEvent(r *Request, receipt string) LateConfirmedEvent {
	return LateConfirmedEvent{
		RequestID:     r.ID,
		CorrelationID: r.CorrelationID,
		Target:        r.Target,
		Amount:        r.Amount,
		ReceiptNumber: receipt,
		OccurredAt:    time.Now().UTC(),
	}
}

// NewTerminalEvent returns the event matching r's terminal state, or nil.
func NewTerminalEvent(r *Request) interface{ EventName() string } {
	switch r.State {
	case StateSucceeded:
		return NewSucceededEvent(r)
	case StateFailed:
		return NewFailedEvent(r)
	case StateTimedOut:
		return NewTimedOutEvent(r)
	default:
		return nil
	}
}

// PendingEvent is emitted when the gateway accepts a request and the payer
// has been prompted.
type PendingEvent struct {
	RequestID     string
	CorrelationID string
	Target        Target
	Amount        decimal.Decimal
	PhoneNumber   string
	DeadlineAt    time.Time
	OccurredAt    time.Time
}

func (PendingEvent) EventName() string { return "payment.pending" }

func NewPendingEvent(r *Request) PendingEvent {
	return PendingEvent{
		RequestID:     r.ID,
		CorrelationID: r.CorrelationID,
		Target:        r.Target,
		Amount:        r.Amount,
		PhoneNumber:   r.PhoneNumber,
		DeadlineAt:    r.DeadlineAt,
		OccurredAt:    time.Now().UTC(),
	}
}
