package notification

import (
	"context"
	"errors"
	"testing"

	domoutbox "github.com/Simply-Furaha/App/internal/domain/outbox"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	handlers map[string]domoutbox.Handler
}

func (s *fakeSubscriber) Subscribe(name string, h domoutbox.Handler) {
	if s.handlers == nil {
		s.handlers = make(map[string]domoutbox.Handler)
	}
	s.handlers[name] = h
}

type fakeNotifier struct {
	sent []Notice
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, notice Notice) error {
	n.sent = append(n.sent, notice)
	return n.err
}

func TestWorkerSubscribesToPaymentEvents(t *testing.T) {
	sub := &fakeSubscriber{}
	New(sub, &fakeNotifier{}, nil).Start()

	for _, name := range []string{"payment.pending", "payment.succeeded", "payment.failed", "payment.timed_out", "payment.late_confirmed"} {
		assert.Contains(t, sub.handlers, name)
	}
}

func TestWorkerSendsNotice(t *testing.T) {
	sub := &fakeSubscriber{}
	notifier := &fakeNotifier{}
	New(sub, notifier, nil).Start()

	err := sub.handlers["payment.failed"](context.Background(), dompay.FailedEvent{
		CorrelationID: "ws_CO_1",
		Target:        dompay.ContributionTarget("m1", "2024-05"),
		PhoneNumber:   "254712345678",
		Code:          dompay.FailureDeclined,
		Reason:        "Request cancelled by user",
	})
	require.NoError(t, err)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, KindFailed, notifier.sent[0].Kind)
	assert.Equal(t, "m1", notifier.sent[0].MemberID)
	assert.Equal(t, "Payment failed: Request cancelled by user", notifier.sent[0].Message)
}

func TestWorkerReturnsNotifierError(t *testing.T) {
	sub := &fakeSubscriber{}
	boom := errors.New("sms gateway down")
	New(sub, &fakeNotifier{err: boom}, nil).Start()

	err := sub.handlers["payment.timed_out"](context.Background(), dompay.TimedOutEvent{CorrelationID: "ws_CO_1"})
	assert.ErrorIs(t, err, boom)
}

func TestNoticeFor(t *testing.T) {
	n, ok := NoticeFor(dompay.PendingEvent{CorrelationID: "ws_CO_1", Amount: decimal.NewFromInt(2000)})
	require.True(t, ok)
	assert.Equal(t, KindWaiting, n.Kind)
	assert.Contains(t, n.Message, "KES 2000.00")
	assert.Contains(t, n.Message, "M-PESA PIN")

	n, ok = NoticeFor(dompay.SucceededEvent{Amount: decimal.NewFromInt(150), ReceiptNumber: "QGH7X1"})
	require.True(t, ok)
	assert.Equal(t, "Payment of KES 150.00 completed successfully. Receipt QGH7X1.", n.Message)

	_, ok = NoticeFor(unknownEvent{})
	assert.False(t, ok)
}

type unknownEvent struct{}

func (unknownEvent) EventName() string { return "other" }
