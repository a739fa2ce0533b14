package notification

import (
	"context"

	appnotify "github.com/Simply-Furaha/App/internal/application/notification"
	"github.com/Simply-Furaha/App/internal/domain/phone"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"
)

// LogNotifier delivers notices to the structured log. It stands in for an
// SMS or push channel.
type LogNotifier struct {
	log observability.Logger
}

var _ appnotify.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{log: logger.With(observability.F("component", "log_notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, notice appnotify.Notice) error {
	fields := []observability.Field{
		observability.F("kind", string(notice.Kind)),
		observability.F("member_id", notice.MemberID),
		observability.F("correlation_id", notice.CorrelationID),
		observability.F("message", notice.Message),
	}
	if notice.PhoneNumber != "" {
		fields = append(fields, observability.F("phone", phone.Mask(notice.PhoneNumber)))
	}
	logctx.FromOr(ctx, n.log).Info("member_notified", fields...)
	return nil
}
