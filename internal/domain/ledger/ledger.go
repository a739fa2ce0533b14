package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateEntry = errors.New("ledger: entry already recorded for correlation id")
	ErrLoanNotFound   = errors.New("ledger: loan not found")
	ErrLoanExists     = errors.New("ledger: loan already registered")
	ErrLoanSettled    = errors.New("ledger: loan is already paid")
	ErrLoanOwnership  = errors.New("ledger: loan belongs to another member")
	ErrInvalidAmount  = errors.New("ledger: amount must be greater than zero")
)

type LoanStatus string

const (
	LoanActive LoanStatus = "active"
	LoanPaid   LoanStatus = "paid"
)

// Loan is the repayable balance of one member loan.
type Loan struct {
	ID         int64
	MemberID   string
	AmountDue  decimal.Decimal
	PaidAmount decimal.Decimal
	Status     LoanStatus
	PaidAt     time.Time
	UpdatedAt  time.Time
}

func NewLoan(id int64, memberID string, amountDue decimal.Decimal, at time.Time) (*Loan, error) {
	if id <= 0 || memberID == "" {
		return nil, ErrLoanNotFound
	}
	if !amountDue.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return &Loan{
		ID:         id,
		MemberID:   memberID,
		AmountDue:  amountDue,
		PaidAmount: decimal.Zero,
		Status:     LoanActive,
		UpdatedAt:  at,
	}, nil
}

// Balance is what remains to be repaid, never negative.
func (l *Loan) Balance() decimal.Decimal {
	b := l.AmountDue.Sub(l.PaidAmount)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// Payable reports whether memberID may start a repayment on this loan.
func (l *Loan) Payable(memberID string) error {
	if l.MemberID != memberID {
		return ErrLoanOwnership
	}
	if l.Status == LoanPaid {
		return ErrLoanSettled
	}
	return nil
}

// ApplyPayment reduces the balance by at most amount. Whatever the balance
// cannot absorb is returned as excess; money already collected is never refused.
func (l *Loan) ApplyPayment(amount decimal.Decimal, at time.Time) (applied, excess decimal.Decimal, err error) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}
	applied = decimal.Min(amount, l.Balance())
	excess = amount.Sub(applied)
	l.PaidAmount = l.PaidAmount.Add(applied)
	l.UpdatedAt = at
	if l.Status != LoanPaid && l.Balance().IsZero() {
		l.Status = LoanPaid
		l.PaidAt = at
	}
	return applied, excess, nil
}

func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// Contribution is one confirmed payment toward a member's period.
type Contribution struct {
	ID            string
	MemberID      string
	Period        string
	Amount        decimal.Decimal
	CorrelationID string
	ReceiptNumber string
	CreatedAt     time.Time
}

// LoanPayment is the portion of a confirmed payment applied to a loan.
type LoanPayment struct {
	ID            string
	LoanID        int64
	MemberID      string
	Amount        decimal.Decimal
	CorrelationID string
	ReceiptNumber string
	CreatedAt     time.Time
}

// Overpayment records money collected beyond a loan's remaining balance.
type Overpayment struct {
	ID            string
	MemberID      string
	CorrelationID string
	LoanID        int64
	Expected      decimal.Decimal
	Actual        decimal.Decimal
	Excess        decimal.Decimal
	CreatedAt     time.Time
}

type ContributionSummary struct {
	MemberID string
	Period   string
	Total    decimal.Decimal
	Entries  []Contribution
}

// LoanPaymentResult is the outcome of applying one confirmed repayment.
type LoanPaymentResult struct {
	Loan        *Loan
	Payment     LoanPayment
	Overpayment *Overpayment
}

// SplitRepayment applies p to loan and builds the matching records. The
// overpayment, if any, takes overpaymentID.
func SplitRepayment(loan *Loan, p LoanPayment, overpaymentID string) (*LoanPaymentResult, error) {
	expected := loan.Balance()
	applied, excess, err := loan.ApplyPayment(p.Amount, p.CreatedAt)
	if err != nil {
		return nil, err
	}
	res := &LoanPaymentResult{Loan: loan}
	actual := p.Amount
	p.Amount = applied
	res.Payment = p
	if excess.IsPositive() {
		res.Overpayment = &Overpayment{
			ID:            overpaymentID,
			MemberID:      p.MemberID,
			CorrelationID: p.CorrelationID,
			LoanID:        p.LoanID,
			Expected:      expected,
			Actual:        actual,
			Excess:        excess,
			CreatedAt:     p.CreatedAt,
		}
	}
	return res, nil
}
