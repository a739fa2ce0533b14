package sqlite

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/Simply-Furaha/App/internal/domain/ledger"

	"github.com/shopspring/decimal"
)

// LedgerStore keeps member ledgers in SQLite. Unique correlation_id columns
// make every write idempotent per confirmed payment.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) AppendContribution(ctx context.Context, c domain.Contribution) (domain.ContributionSummary, error) {
	if !c.Amount.IsPositive() {
		return domain.ContributionSummary{}, domain.ErrInvalidAmount
	}

	var sum domain.ContributionSummary
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		seen, err := hasEntry(ctx, tx, c.CorrelationID)
		if err != nil {
			return err
		}
		if seen {
			return domain.ErrDuplicateEntry
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contributions (id, member_id, period, amount, correlation_id, receipt_number, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.MemberID, c.Period, c.Amount, c.CorrelationID, c.ReceiptNumber, nanos(c.CreatedAt),
		)
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEntry
		}
		if err != nil {
			return err
		}
		sum, err = contributionSummary(ctx, tx, c.MemberID, c.Period)
		return err
	})
	return sum, err
}

func (s *LedgerStore) ApplyLoanPayment(ctx context.Context, p domain.LoanPayment, overpaymentID string) (*domain.LoanPaymentResult, error) {
	var res *domain.LoanPaymentResult
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		seen, err := hasEntry(ctx, tx, p.CorrelationID)
		if err != nil {
			return err
		}
		if seen {
			return domain.ErrDuplicateEntry
		}
		loan, err := scanLoan(tx.QueryRowContext(ctx, loanQuery, p.LoanID))
		if err != nil {
			return err
		}

		res, err = domain.SplitRepayment(loan, p, overpaymentID)
		if err != nil {
			return err
		}
		if err := saveLoan(ctx, tx, res.Loan); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO loan_payments (id, loan_id, member_id, amount, correlation_id, receipt_number, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.Payment.ID, res.Payment.LoanID, res.Payment.MemberID, res.Payment.Amount,
			res.Payment.CorrelationID, res.Payment.ReceiptNumber, nanos(res.Payment.CreatedAt),
		)
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEntry
		}
		if err != nil {
			return err
		}
		if op := res.Overpayment; op != nil {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO overpayments (id, member_id, correlation_id, loan_id, expected, actual, excess, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				op.ID, op.MemberID, op.CorrelationID, op.LoanID, op.Expected, op.Actual, op.Excess, nanos(op.CreatedAt),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *LedgerStore) HasEntry(ctx context.Context, correlationID string) (bool, error) {
	return hasEntry(ctx, s.db, correlationID)
}

func (s *LedgerStore) GetLoan(ctx context.Context, id int64) (*domain.Loan, error) {
	return scanLoan(s.db.QueryRowContext(ctx, loanQuery, id))
}

func (s *LedgerStore) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	if loan == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (id, member_id, amount_due, paid_amount, status, paid_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.MemberID, loan.AmountDue, loan.PaidAmount, string(loan.Status),
		nanos(loan.PaidAt), nanos(loan.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return domain.ErrLoanExists
	}
	return err
}

func (s *LedgerStore) ContributionSummary(ctx context.Context, memberID, period string) (domain.ContributionSummary, error) {
	return contributionSummary(ctx, s.db, memberID, period)
}

func (s *LedgerStore) Overpayments(ctx context.Context, memberID string) ([]domain.Overpayment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, member_id, correlation_id, loan_id, expected, actual, excess, created_at
		 FROM overpayments WHERE member_id = ? ORDER BY created_at, id`,
		memberID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Overpayment, 0)
	for rows.Next() {
		var op domain.Overpayment
		var created sql.NullInt64
		if err := rows.Scan(&op.ID, &op.MemberID, &op.CorrelationID, &op.LoanID,
			&op.Expected, &op.Actual, &op.Excess, &created); err != nil {
			return nil, err
		}
		op.CreatedAt = fromNanos(created)
		out = append(out, op)
	}
	return out, rows.Err()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const loanQuery = `SELECT id, member_id, amount_due, paid_amount, status, paid_at, updated_at
	FROM loans WHERE id = ?`

func hasEntry(ctx context.Context, q querier, correlationID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM contributions WHERE correlation_id = ?)
		      + (SELECT COUNT(*) FROM loan_payments WHERE correlation_id = ?)`,
		correlationID, correlationID,
	).Scan(&n)
	return n > 0, err
}

func saveLoan(ctx context.Context, q querier, loan *domain.Loan) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO loans (id, member_id, amount_due, paid_amount, status, paid_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			member_id = excluded.member_id,
			amount_due = excluded.amount_due,
			paid_amount = excluded.paid_amount,
			status = excluded.status,
			paid_at = excluded.paid_at,
			updated_at = excluded.updated_at`,
		loan.ID, loan.MemberID, loan.AmountDue, loan.PaidAmount, string(loan.Status),
		nanos(loan.PaidAt), nanos(loan.UpdatedAt),
	)
	return err
}

func scanLoan(row scanner) (*domain.Loan, error) {
	var loan domain.Loan
	var status string
	var paidAt, updatedAt sql.NullInt64
	err := row.Scan(&loan.ID, &loan.MemberID, &loan.AmountDue, &loan.PaidAmount, &status, &paidAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	loan.Status = domain.LoanStatus(status)
	loan.PaidAt = fromNanos(paidAt)
	loan.UpdatedAt = fromNanos(updatedAt)
	return &loan, nil
}

func contributionSummary(ctx context.Context, q querier, memberID, period string) (domain.ContributionSummary, error) {
	sum := domain.ContributionSummary{MemberID: memberID, Period: period, Total: decimal.Zero}
	rows, err := q.QueryContext(ctx,
		`SELECT id, member_id, period, amount, correlation_id, receipt_number, created_at
		 FROM contributions WHERE member_id = ? AND period = ? ORDER BY created_at, id`,
		memberID, period,
	)
	if err != nil {
		return sum, err
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Contribution
		var created sql.NullInt64
		if err := rows.Scan(&c.ID, &c.MemberID, &c.Period, &c.Amount, &c.CorrelationID, &c.ReceiptNumber, &created); err != nil {
			return sum, err
		}
		c.CreatedAt = fromNanos(created)
		sum.Entries = append(sum.Entries, c)
		sum.Total = sum.Total.Add(c.Amount)
	}
	return sum, rows.Err()
}
