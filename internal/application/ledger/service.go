package ledger

import (
	"context"
	"fmt"
	"time"

	domledger "github.com/Simply-Furaha/App/internal/domain/ledger"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/observability"
	"github.com/Simply-Furaha/App/internal/observability/logctx"

	"github.com/shopspring/decimal"
)

// Service answers ledger reads and decides whether a target may be paid.
type Service struct {
	store domledger.Store
	now   func() time.Time
	log   observability.Logger
}

func NewService(store domledger.Store, tel observability.Observability) *Service {
	tel = observability.Or(tel)
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		log:   tel.Logger().With(observability.F("service", ledgerService)),
	}
}

// CheckTarget rejects repayments on unknown, foreign or settled loans.
func (s *Service) CheckTarget(ctx context.Context, target dompay.Target) error {
	if target.Kind != dompay.KindLoanRepayment {
		return nil
	}
	loan, err := s.store.GetLoan(ctx, target.LoanID)
	if err != nil {
		return err
	}
	return loan.Payable(target.MemberID)
}

func (s *Service) ContributionSummary(ctx context.Context, memberID, period string) (domledger.ContributionSummary, error) {
	if err := dompay.ContributionTarget(memberID, period).Validate(); err != nil {
		return domledger.ContributionSummary{}, err
	}
	return s.store.ContributionSummary(ctx, memberID, period)
}

// Loan returns the loan when it belongs to memberID.
func (s *Service) Loan(ctx context.Context, memberID string, loanID int64) (*domledger.Loan, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.MemberID != memberID {
		return nil, domledger.ErrLoanNotFound
	}
	return loan, nil
}

func (s *Service) Overpayments(ctx context.Context, memberID string) ([]domledger.Overpayment, error) {
	return s.store.Overpayments(ctx, memberID)
}

// RegisterLoan records a disbursed loan so that it can receive repayments.
// A loan is registered once; repeating the call returns ErrLoanExists.
func (s *Service) RegisterLoan(ctx context.Context, loanID int64, memberID string, amountDue decimal.Decimal) (*domledger.Loan, error) {
	loan, err := domledger.NewLoan(loanID, memberID, amountDue, s.now())
	if err != nil {
		return nil, fmt.Errorf("ledger: register loan: %w", err)
	}
	if err := s.store.CreateLoan(ctx, loan); err != nil {
		return nil, err
	}
	logctx.FromOr(ctx, s.log).Info("loan_registered",
		observability.F("loan_id", loanID),
		observability.F("member_id", memberID),
		observability.F("amount_due", amountDue.String()),
	)
	return loan, nil
}
