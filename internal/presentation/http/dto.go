package httppresentation

import (
	"time"

	appPayment "github.com/Simply-Furaha/App/internal/application/payment"
	domledger "github.com/Simply-Furaha/App/internal/domain/ledger"
	dompay "github.com/Simply-Furaha/App/internal/domain/payment"
	"github.com/Simply-Furaha/App/internal/domain/phone"

	"github.com/shopspring/decimal"
)

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
	State         string `json:"state,omitempty"`
}

type submitContributionRequest struct {
	Period      string          `json:"period" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phone_number,omitempty" validate:"omitempty,max=20"`
}

type submitLoanRepaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phone_number,omitempty" validate:"omitempty,max=20"`
}

type submitResponse struct {
	RequestID     string     `json:"request_id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	State         string     `json:"state"`
	DeadlineAt    *time.Time `json:"deadline_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Instructions  []string   `json:"instructions,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func newSubmitResponse(res *appPayment.SubmitResult) submitResponse {
	return submitResponse{
		RequestID:     res.RequestID,
		CorrelationID: res.CorrelationID,
		State:         string(res.State),
		DeadlineAt:    timePtr(res.DeadlineAt),
		FailureReason: res.FailureReason,
		Instructions:  res.Instructions,
	}
}

type reportOutcomeRequest struct {
	Status        string `json:"status" validate:"required,oneof=pending success failed"`
	ReceiptNumber string `json:"receipt_number,omitempty" validate:"required_if=Status success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (r reportOutcomeRequest) outcome() dompay.Outcome {
	return dompay.Outcome{
		Status:        dompay.GatewayStatus(r.Status),
		ReceiptNumber: r.ReceiptNumber,
		FailureReason: r.FailureReason,
	}
}

type registerLoanRequest struct {
	MemberID  string          `json:"member_id" validate:"required,max=64"`
	AmountDue decimal.Decimal `json:"amount_due"`
}

type paymentResponse struct {
	RequestID     string     `json:"request_id"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Kind          string     `json:"kind"`
	MemberID      string     `json:"member_id"`
	Period        string     `json:"period,omitempty"`
	LoanID        int64      `json:"loan_id,omitempty"`
	Amount        string     `json:"amount"`
	PhoneNumber   string     `json:"phone_number"`
	State         string     `json:"state"`
	FailureCode   string     `json:"failure_code,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ReceiptNumber string     `json:"receipt_number,omitempty"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	DeadlineAt    *time.Time `json:"deadline_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func newPaymentResponse(r *dompay.Request) paymentResponse {
	return paymentResponse{
		RequestID:     r.ID,
		CorrelationID: r.CorrelationID,
		Kind:          string(r.Target.Kind),
		MemberID:      r.Target.MemberID,
		Period:        r.Target.Period,
		LoanID:        r.Target.LoanID,
		Amount:        r.Amount.StringFixed(2),
		PhoneNumber:   phone.Mask(r.PhoneNumber),
		State:         string(r.State),
		FailureCode:   string(r.FailureCode),
		FailureReason: r.FailureReason,
		ReceiptNumber: r.ReceiptNumber,
		Attempts:      r.Attempts,
		CreatedAt:     r.CreatedAt,
		DeadlineAt:    timePtr(r.DeadlineAt),
		CompletedAt:   timePtr(r.CompletedAt),
	}
}

type historyResponse struct {
	Items []paymentResponse `json:"items"`
}

type contributionEntry struct {
	CorrelationID string    `json:"correlation_id"`
	ReceiptNumber string    `json:"receipt_number"`
	Amount        string    `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

type contributionSummaryResponse struct {
	MemberID string              `json:"member_id"`
	Period   string              `json:"period"`
	Total    string              `json:"total"`
	Entries  []contributionEntry `json:"entries"`
}

func newContributionSummaryResponse(s domledger.ContributionSummary) contributionSummaryResponse {
	out := contributionSummaryResponse{
		MemberID: s.MemberID,
		Period:   s.Period,
		Total:    s.Total.StringFixed(2),
		Entries:  make([]contributionEntry, 0, len(s.Entries)),
	}
	for _, c := range s.Entries {
		out.Entries = append(out.Entries, contributionEntry{
			CorrelationID: c.CorrelationID,
			ReceiptNumber: c.ReceiptNumber,
			Amount:        c.Amount.StringFixed(2),
			CreatedAt:     c.CreatedAt,
		})
	}
	return out
}

type loanResponse struct {
	LoanID     int64      `json:"loan_id"`
	MemberID   string     `json:"member_id"`
	AmountDue  string     `json:"amount_due"`
	PaidAmount string     `json:"paid_amount"`
	Balance    string     `json:"balance"`
	Status     string     `json:"status"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
}

func newLoanResponse(l *domledger.Loan) loanResponse {
	return loanResponse{
		LoanID:     l.ID,
		MemberID:   l.MemberID,
		AmountDue:  l.AmountDue.StringFixed(2),
		PaidAmount: l.PaidAmount.StringFixed(2),
		Balance:    l.Balance().StringFixed(2),
		Status:     string(l.Status),
		PaidAt:     timePtr(l.PaidAt),
	}
}

type overpaymentResponse struct {
	CorrelationID string    `json:"correlation_id"`
	LoanID        int64     `json:"loan_id"`
	Expected      string    `json:"expected"`
	Actual        string    `json:"actual"`
	Excess        string    `json:"excess"`
	CreatedAt     time.Time `json:"created_at"`
}

type overpaymentsResponse struct {
	Items []overpaymentResponse `json:"items"`
}

func newOverpaymentsResponse(items []domledger.Overpayment) overpaymentsResponse {
	out := overpaymentsResponse{Items: make([]overpaymentResponse, 0, len(items))}
	for _, o := range items {
		out.Items = append(out.Items, overpaymentResponse{
			CorrelationID: o.CorrelationID,
			LoanID:        o.LoanID,
			Expected:      o.Expected.StringFixed(2),
			Actual:        o.Actual.StringFixed(2),
			Excess:        o.Excess.StringFixed(2),
			CreatedAt:     o.CreatedAt,
		})
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
