package payment

import (
	"fmt"
	"strconv"
	"time"
)

// Kind names the ledger aggregate a payment settles.
type Kind string

const (
	KindContribution  Kind = "contribution"
	KindLoanRepayment Kind = "loan_repayment"
)

const periodLayout = "2006-01"

// Target identifies the ledger destination of a payment: one member's
// contribution for a period, or one loan.
type Target struct {
	MemberID string
	Kind     Kind
	Period   string // contribution only, YYYY-MM
	LoanID   int64  // loan_repayment only
}

func ContributionTarget(memberID, period string) Target {
	return Target{MemberID: memberID, Kind: KindContribution, Period: period}
}

func LoanRepaymentTarget(memberID string, loanID int64) Target {
	return Target{MemberID: memberID, Kind: KindLoanRepayment, LoanID: loanID}
}

// Key is the identity used for the single-active-request rule. A loan is
// keyed by its id alone so that no two requests can settle it concurrently.
func (t Target) Key() string {
	switch t.Kind {
	case KindContribution:
		return "contribution/" + t.MemberID + "/" + t.Period
	case KindLoanRepayment:
		return "loan/" + strconv.FormatInt(t.LoanID, 10)
	default:
		return "unknown/" + t.MemberID
	}
}

// Reference is the short account reference shown on the payer's handset.
func (t Target) Reference() string {
	if t.Kind == KindLoanRepayment {
		return "LOAN" + strconv.FormatInt(t.LoanID, 10)
	}
	return "CONTRIB" + t.Period
}

func (t Target) Validate() error {
	if t.MemberID == "" {
		return fmt.Errorf("%w: member id is required", ErrInvalidTarget)
	}
	switch t.Kind {
	case KindContribution:
		if _, err := time.Parse(periodLayout, t.Period); err != nil {
			return fmt.Errorf("%w: period must be YYYY-MM", ErrInvalidTarget)
		}
	case KindLoanRepayment:
		if t.LoanID <= 0 {
			return fmt.Errorf("%w: loan id must be positive", ErrInvalidTarget)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTarget, t.Kind)
	}
	return nil
}

func (t Target) String() string { return t.Key() }
