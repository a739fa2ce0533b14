package payment

// RequestState implements the state pattern for payment request transitions.
// Unlisted transitions are rejected with ErrInvalidStateTransition.
type RequestState interface {
	Status() State
	OnInitiate(r *Request) (RequestState, error)
	OnAccepted(r *Request, correlationID, merchantRequestID string) (RequestState, error)
	OnRejected(r *Request, code FailureCode, reason string) (RequestState, error)
	OnSucceeded(r *Request, receipt string) (RequestState, error)
	OnDeclined(r *Request, reason string) (RequestState, error)
	OnExpired(r *Request) (RequestState, error)
}

type rejectAll struct{}

func (rejectAll) OnInitiate(*Request) (RequestState, error) {
	return nil, ErrInvalidStateTransition
}

func (rejectAll) OnAccepted(*Request, string, string) (RequestState, error) {
	return nil, ErrInvalidStateTransition
}

func (rejectAll) OnRejected(*Request, FailureCode, string) (RequestState, error) {
	return nil, ErrInvalidStateTransition
}

func (rejectAll) OnSucceeded(*Request, string) (RequestState, error) {
	return nil, ErrInvalidStateTransition
}

func (rejectAll) OnDeclined(*Request, string) (RequestState, error) {
	return nil, ErrInvalidStateTransition
}

func (rejectAll) OnExpired(*Request) (RequestState, error) {
	return nil, ErrInvalidStateTransition
}

type idleState struct{ rejectAll }

func (idleState) Status() State { return StateIdle }

func (idleState) OnInitiate(r *Request) (RequestState, error) {
	r.FailureCode = ""
	r.FailureReason = ""
	return initiatingState{}, nil
}

type initiatingState struct{ rejectAll }

func (initiatingState) Status() State { return StateInitiating }

func (initiatingState) OnAccepted(r *Request, correlationID, merchantRequestID string) (RequestState, error) {
	if correlationID == "" {
		return nil, ErrInvalidStateTransition
	}
	r.CorrelationID = correlationID
	r.MerchantRequestID = merchantRequestID
	return pendingState{}, nil
}

func (initiatingState) OnRejected(r *Request, code FailureCode, reason string) (RequestState, error) {
	r.FailureCode = code
	r.FailureReason = reason
	return failedState{}, nil
}

type pendingState struct{ rejectAll }

func (pendingState) Status() State { return StatePending }

func (pendingState) OnSucceeded(r *Request, receipt string) (RequestState, error) {
	r.FailureCode = ""
	r.FailureReason = ""
	r.ReceiptNumber = receipt
	return succeededState{}, nil
}

func (pendingState) OnDeclined(r *Request, reason string) (RequestState, error) {
	r.FailureCode = FailureDeclined
	r.FailureReason = reason
	return failedState{}, nil
}

func (pendingState) OnExpired(*Request) (RequestState, error) {
	return timedOutState{}, nil
}

type succeededState struct{ rejectAll }

func (succeededState) Status() State { return StateSucceeded }

type failedState struct{ rejectAll }

func (failedState) Status() State { return StateFailed }

type timedOutState struct{ rejectAll }

func (timedOutState) Status() State { return StateTimedOut }

func stateFor(s State) RequestState {
	switch s {
	case StateInitiating:
		return initiatingState{}
	case StatePending:
		return pendingState{}
	case StateSucceeded:
		return succeededState{}
	case StateFailed:
		return failedState{}
	case StateTimedOut:
		return timedOutState{}
	default:
		return idleState{}
	}
}
