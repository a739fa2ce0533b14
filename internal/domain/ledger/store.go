package ledger

import (
	"context"
)

// Store persists member ledgers. Every write is keyed by correlation id and
// must reject a second write for the same id with ErrDuplicateEntry.
type Store interface {
	AppendContribution(ctx context.Context, c Contribution) (ContributionSummary, error)
	ApplyLoanPayment(ctx context.Context, p LoanPayment, overpaymentID string) (*LoanPaymentResult, error)
	HasEntry(ctx context.Context, correlationID string) (bool, error)
	GetLoan(ctx context.Context, id int64) (*Loan, error)
	// CreateLoan inserts a new loan. An existing id returns ErrLoanExists and
	// leaves the stored loan untouched.
	CreateLoan(ctx context.Context, loan *Loan) error
	ContributionSummary(ctx context.Context, memberID, period string) (ContributionSummary, error)
	Overpayments(ctx context.Context, memberID string) ([]Overpayment, error)
}
