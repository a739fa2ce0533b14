package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/Simply-Furaha/App/internal/domain/ledger"

	"github.com/shopspring/decimal"
)

// LedgerStore keeps member ledgers in process memory.
type LedgerStore struct {
	mu            sync.RWMutex
	contributions []domain.Contribution
	loans         map[int64]*domain.Loan
	loanPayments  []domain.LoanPayment
	overpayments  []domain.Overpayment
	entries       map[string]struct{}
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		loans:   make(map[int64]*domain.Loan),
		entries: make(map[string]struct{}),
	}
}

func (s *LedgerStore) AppendContribution(ctx context.Context, c domain.Contribution) (domain.ContributionSummary, error) {
	_ = ctx
	if !c.Amount.IsPositive() {
		return domain.ContributionSummary{}, domain.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.entries[c.CorrelationID]; seen {
		return domain.ContributionSummary{}, domain.ErrDuplicateEntry
	}
	s.entries[c.CorrelationID] = struct{}{}
	s.contributions = append(s.contributions, c)
	return s.summaryLocked(c.MemberID, c.Period), nil
}

func (s *LedgerStore) ApplyLoanPayment(ctx context.Context, p domain.LoanPayment, overpaymentID string) (*domain.LoanPaymentResult, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.entries[p.CorrelationID]; seen {
		return nil, domain.ErrDuplicateEntry
	}
	stored, ok := s.loans[p.LoanID]
	if !ok {
		return nil, domain.ErrLoanNotFound
	}
	loan := stored.Clone()
	res, err := domain.SplitRepayment(loan, p, overpaymentID)
	if err != nil {
		return nil, err
	}

	s.entries[p.CorrelationID] = struct{}{}
	s.loans[p.LoanID] = loan
	s.loanPayments = append(s.loanPayments, res.Payment)
	if res.Overpayment != nil {
		s.overpayments = append(s.overpayments, *res.Overpayment)
	}
	res.Loan = loan.Clone()
	return res, nil
}

func (s *LedgerStore) HasEntry(ctx context.Context, correlationID string) (bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[correlationID]
	return ok, nil
}

func (s *LedgerStore) GetLoan(ctx context.Context, id int64) (*domain.Loan, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	loan, ok := s.loans[id]
	if !ok {
		return nil, domain.ErrLoanNotFound
	}
	return loan.Clone(), nil
}

func (s *LedgerStore) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	_ = ctx
	if loan == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loans[loan.ID]; ok {
		return domain.ErrLoanExists
	}
	s.loans[loan.ID] = loan.Clone()
	return nil
}

func (s *LedgerStore) ContributionSummary(ctx context.Context, memberID, period string) (domain.ContributionSummary, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.summaryLocked(memberID, period), nil
}

func (s *LedgerStore) Overpayments(ctx context.Context, memberID string) ([]domain.Overpayment, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Overpayment, 0)
	for _, op := range s.overpayments {
		if op.MemberID == memberID {
			out = append(out, op)
		}
	}
	return out, nil
}

// LoanPayments returns the payments recorded against a loan, oldest first.
func (s *LedgerStore) LoanPayments(loanID int64) []domain.LoanPayment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LoanPayment, 0)
	for _, p := range s.loanPayments {
		if p.LoanID == loanID {
			out = append(out, p)
		}
	}
	return out
}

func (s *LedgerStore) summaryLocked(memberID, period string) domain.ContributionSummary {
	sum := domain.ContributionSummary{MemberID: memberID, Period: period, Total: decimal.Zero}
	for _, c := range s.contributions {
		if c.MemberID == memberID && c.Period == period {
			sum.Entries = append(sum.Entries, c)
			sum.Total = sum.Total.Add(c.Amount)
		}
	}
	sort.SliceStable(sum.Entries, func(i, j int) bool {
		return sum.Entries[i].CreatedAt.Before(sum.Entries[j].CreatedAt)
	})
	return sum
}
