package notification

import (
	"context"
	"fmt"

	domoutbox "github.com/Simply-Furaha/App/internal/domain/outbox"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"
)

const notificationWorker = "notification_worker"

type Kind string

const (
	KindWaiting       Kind = "waiting"
	KindSucceeded     Kind = "succeeded"
	KindFailed        Kind = "failed"
	KindTimedOut      Kind = "timed_out"
	KindLateConfirmed Kind = "late_confirmed"
)

// Notice is a user-facing message about one payment.
type Notice struct {
	Kind          Kind
	MemberID      string
	PhoneNumber   string
	CorrelationID string
	Message       string
}

// Notifier is an outbound port delivering notices to members.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Worker turns payment events into member notices.
type Worker struct {
	subscriber domoutbox.Subscriber
	notifier   Notifier

	log        observability.Logger
	reqCounter observability.Counter // usecase_requests_total{use_case,outcome}
}

func New(subscriber domoutbox.Subscriber, notifier Notifier, tel observability.Observability) *Worker {
	tel = observability.Or(tel)
	return &Worker{
		subscriber: subscriber,
		notifier:   notifier,
		log:        tel.Logger().With(observability.F("component", notificationWorker)),
		reqCounter: tel.Metrics().Counter(observability.MUsecaseRequests),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	w.subscriber.Subscribe(dompay.PendingEvent{}.EventName(), w.handle)
	w.subscriber.Subscribe(dompay.SucceededEvent{}.EventName(), w.handle)
	w.subscriber.Subscribe(dompay.FailedEvent{}.EventName(), w.handle)
	w.subscriber.Subscribe(dompay.TimedOutEvent{}.EventName(), w.handle)
	w.subscriber.Subscribe(dompay.LateConfirmedEvent{}.EventName(), w.handle)
}

func (w *Worker) handle(ctx context.Context, e domoutbox.Event) error {
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", e.EventName()),
	)

	n, ok := NoticeFor(e)
	if !ok {
		return nil
	}

	outcome := "success"
	err := w.notifier.Notify(ctx, n)
	if err != nil {
		outcome = "error"
		logger.Warn("notification_failed",
			observability.F("correlation_id", n.CorrelationID),
			observability.F("error", err.Error()),
		)
	}
	w.reqCounter.Add(1,
		observability.L("use_case", "notification.send"),
		observability.L("outcome", outcome),
	)
	return err
}

// NoticeFor renders the notice for a payment event.
func NoticeFor(e domoutbox.Event) (Notice, bool) {
	switch evt := e.(type) {
	case dompay.PendingEvent:
		return Notice{
			Kind:          KindWaiting,
			MemberID:      evt.Target.MemberID,
			PhoneNumber:   evt.PhoneNumber,
			CorrelationID: evt.CorrelationID,
			Message:       fmt.Sprintf("Payment request of KES %s sent to your phone. Please enter your M-PESA PIN.", evt.Amount.StringFixed(2)),
		}, true
	case dompay.SucceededEvent:
		return Notice{
			Kind:          KindSucceeded,
			MemberID:      evt.Target.MemberID,
			PhoneNumber:   evt.PhoneNumber,
			CorrelationID: evt.CorrelationID,
			Message:       fmt.Sprintf("Payment of KES %s completed successfully. Receipt %s.", evt.Amount.StringFixed(2), evt.ReceiptNumber),
		}, true
	case dompay.FailedEvent:
		return Notice{
			Kind:          KindFailed,
			MemberID:      evt.Target.MemberID,
			PhoneNumber:   evt.PhoneNumber,
			CorrelationID: evt.CorrelationID,
			Message:       "Payment failed: " + evt.Reason,
		}, true
	case dompay.TimedOutEvent:
		return Notice{
			Kind:          KindTimedOut,
			MemberID:      evt.Target.MemberID,
			PhoneNumber:   evt.PhoneNumber,
			CorrelationID: evt.CorrelationID,
			Message:       "Payment is taking longer than expected. Please check your payment history.",
		}, true
	case dompay.LateConfirmedEvent:
		return Notice{
			Kind:          KindLateConfirmed,
			MemberID:      evt.Target.MemberID,
			CorrelationID: evt.CorrelationID,
			Message:       fmt.Sprintf("A late confirmation of KES %s was received and credited. Receipt %s.", evt.Amount.StringFixed(2), evt.ReceiptNumber),
		}, true
	default:
		return Notice{}, false
	}
}
