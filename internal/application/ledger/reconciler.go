package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	domledger "github.com/Simply-Furaha/App/internal/domain/ledger"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	ledgerService    = "ledger-service"
	useCaseReconcile = "ledger.reconcile"
	spanPrefix       = "UC."
)

var ErrMissingCorrelation = errors.New("ledger: correlation id is required")

type IDGenerator interface {
	NewID() string
}

// Reconciler applies confirmed payments to the member ledger exactly once per
// correlation id.
type Reconciler struct {
	store domledger.Store
	ids   IDGenerator
	now   func() time.Time
	tel   observability.Observability

	log        observability.Logger
	appCounter observability.Counter // ledger_applications_total{kind,outcome}
}

func NewReconciler(store domledger.Store, ids IDGenerator, tel observability.Observability) *Reconciler {
	tel = observability.Or(tel)
	return &Reconciler{
		store:      store,
		ids:        ids,
		now:        func() time.Time { return time.Now().UTC() },
		tel:        tel,
		log:        tel.Logger().With(observability.F("service", ledgerService)),
		appCounter: tel.Metrics().Counter(observability.MLedgerApplications),
	}
}

// Apply credits r to its target. A correlation id that is already recorded
// counts as applied, whether found up front or rejected by the store.
func (rc *Reconciler) Apply(ctx context.Context, r *dompay.Request) (err error) {
	logger := logctx.FromOr(ctx, rc.log).With(
		observability.F("use_case", useCaseReconcile),
		observability.F("correlation_id", r.CorrelationID),
		observability.F("target", r.Target.Key()),
	)
	ctx, span := rc.tel.Tracer().Start(ctx, spanPrefix+"ReconcileLedger",
		attribute.String("use_case", useCaseReconcile),
		attribute.String("payment.correlation_id", r.CorrelationID),
		attribute.String("payment.kind", string(r.Target.Kind)),
	)
	outcome := "applied"
	defer func() {
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "RECONCILE_FAILED")
		} else {
			span.SetStatus(codes.Ok, outcome)
		}
		span.End()
		rc.appCounter.Add(1,
			observability.L("kind", string(r.Target.Kind)),
			observability.L("outcome", outcome),
		)
	}()

	if r.CorrelationID == "" {
		return ErrMissingCorrelation
	}

	seen, err := rc.store.HasEntry(ctx, r.CorrelationID)
	if err != nil {
		return fmt.Errorf("ledger: lookup entry: %w", err)
	}
	if seen {
		outcome = "duplicate"
		logger.Info("ledger_entry_exists")
		return nil
	}

	at := rc.now()
	switch r.Target.Kind {
	case dompay.KindContribution:
		summary, aerr := rc.store.AppendContribution(ctx, domledger.Contribution{
			ID:            rc.ids.NewID(),
			MemberID:      r.Target.MemberID,
			Period:        r.Target.Period,
			Amount:        r.Amount,
			CorrelationID: r.CorrelationID,
			ReceiptNumber: r.ReceiptNumber,
			CreatedAt:     at,
		})
		if aerr != nil {
			return rc.storeError(logger, aerr, &outcome)
		}
		logger.Info("contribution_recorded",
			observability.F("period", r.Target.Period),
			observability.F("amount", r.Amount.String()),
			observability.F("period_total", summary.Total.String()),
		)

	case dompay.KindLoanRepayment:
		res, aerr := rc.store.ApplyLoanPayment(ctx, domledger.LoanPayment{
			ID:            rc.ids.NewID(),
			LoanID:        r.Target.LoanID,
			MemberID:      r.Target.MemberID,
			Amount:        r.Amount,
			CorrelationID: r.CorrelationID,
			ReceiptNumber: r.ReceiptNumber,
			CreatedAt:     at,
		}, rc.ids.NewID())
		if aerr != nil {
			return rc.storeError(logger, aerr, &outcome)
		}
		fields := []observability.Field{
			observability.F("loan_id", r.Target.LoanID),
			observability.F("applied", res.Payment.Amount.String()),
			observability.F("balance", res.Loan.Balance().String()),
			observability.F("loan_status", string(res.Loan.Status)),
		}
		if res.Overpayment != nil {
			outcome = "overpaid"
			fields = append(fields, observability.F("excess", res.Overpayment.Excess.String()))
		}
		logger.Info("loan_payment_recorded", fields...)

	default:
		return fmt.Errorf("%w: unknown kind %q", dompay.ErrInvalidTarget, r.Target.Kind)
	}
	return nil
}

func (rc *Reconciler) storeError(logger observability.Logger, err error, outcome *string) error {
	if errors.Is(err, domledger.ErrDuplicateEntry) {
		*outcome = "duplicate"
		logger.Info("ledger_entry_exists")
		return nil
	}
	return fmt.Errorf("ledger: apply: %w", err)
}
