package payment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                   = errors.New("payment: request not found")
	ErrConflict                   = errors.New("payment: conflicting request")
	ErrInvalidAmount              = errors.New("payment: amount must be between 1 and 70000")
	ErrInvalidTarget              = errors.New("payment: invalid target")
	ErrInvalidStateTransition     = errors.New("payment: invalid state transition")
	ErrDuplicateRequestInProgress = errors.New("payment: a request for this target is already in progress")
	ErrGatewayRejected            = errors.New("payment: gateway rejected the request")
)

// DuplicateRequestError is returned when a target already has an active
// request. Existing is a snapshot of that request.
type DuplicateRequestError struct {
	Existing *Request
}

func (e *DuplicateRequestError) Error() string {
	if e.Existing == nil {
		return ErrDuplicateRequestInProgress.Error()
	}
	ref := e.Existing.CorrelationID
	if ref == "" {
		ref = e.Existing.ID
	}
	return fmt.Sprintf("%s (existing %s, state %s)", ErrDuplicateRequestInProgress, ref, e.Existing.State)
}

func (e *DuplicateRequestError) Unwrap() error { return ErrDuplicateRequestInProgress }
