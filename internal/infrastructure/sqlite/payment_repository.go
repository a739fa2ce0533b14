package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/Simply-Furaha/App/internal/domain/payment"
)

const requestColumns = `id, correlation_id, merchant_request_id, member_id, kind, period, loan_id,
	amount, phone_number, state, failure_code, failure_reason, receipt_number, attempts,
	created_at, updated_at, last_polled_at, deadline_at, completed_at`

// PaymentRepository stores payment requests in SQLite. A partial unique
// index on target_key enforces one in-flight request per target.
type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Claim(ctx context.Context, req *domain.Request) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO payment_requests (`+requestColumns+`, target_key)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append(requestArgs(req), req.Target.Key())...,
		)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}

		existing, ferr := scanRequest(tx.QueryRowContext(ctx,
			`SELECT `+requestColumns+` FROM payment_requests
			 WHERE target_key = ? AND state IN ('initiating', 'pending')`,
			req.Target.Key(),
		))
		switch {
		case errors.Is(ferr, domain.ErrNotFound):
			return domain.ErrConflict
		case ferr != nil:
			return ferr
		case existing.ID == req.ID:
			return domain.ErrConflict
		}
		return &domain.DuplicateRequestError{Existing: existing}
	})
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Request, error) {
	return scanRequest(r.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM payment_requests WHERE id = ?`, id))
}

func (r *PaymentRepository) FindByCorrelationID(ctx context.Context, correlationID string) (*domain.Request, error) {
	if correlationID == "" {
		return nil, domain.ErrNotFound
	}
	return scanRequest(r.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM payment_requests WHERE correlation_id = ?`, correlationID))
}

func (r *PaymentRepository) FindActive(ctx context.Context, target domain.Target) (*domain.Request, error) {
	return scanRequest(r.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM payment_requests
		 WHERE target_key = ? AND state IN ('initiating', 'pending')`,
		target.Key(),
	))
}

func (r *PaymentRepository) Update(ctx context.Context, req *domain.Request) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var state string
		var cid sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT state, correlation_id FROM payment_requests WHERE id = ?`, req.ID,
		).Scan(&state, &cid)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		current := domain.State(state)
		if current.IsTerminal() && req.State != current {
			return fmt.Errorf("%w: %s request cannot become %s", domain.ErrConflict, current, req.State)
		}
		if cid.Valid && cid.String != req.CorrelationID {
			return fmt.Errorf("%w: correlation id is immutable", domain.ErrConflict)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE payment_requests SET
				correlation_id = ?, merchant_request_id = ?, state = ?, failure_code = ?,
				failure_reason = ?, receipt_number = ?, attempts = ?, updated_at = ?,
				last_polled_at = ?, deadline_at = ?, completed_at = ?
			 WHERE id = ?`,
			nullable(req.CorrelationID), req.MerchantRequestID, string(req.State), string(req.FailureCode),
			req.FailureReason, req.ReceiptNumber, req.Attempts, nanos(req.UpdatedAt),
			nanos(req.LastPolledAt), nanos(req.DeadlineAt), nanos(req.CompletedAt),
			req.ID,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: correlation id already assigned", domain.ErrConflict)
		}
		return err
	})
}

func (r *PaymentRepository) ListByMember(ctx context.Context, memberID string, limit int) ([]*domain.Request, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.list(ctx,
		`SELECT `+requestColumns+` FROM payment_requests
		 WHERE member_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		memberID, limit,
	)
}

func (r *PaymentRepository) ListByState(ctx context.Context, states ...domain.State) ([]*domain.Request, error) {
	if len(states) == 0 {
		return []*domain.Request{}, nil
	}
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = string(s)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	return r.list(ctx,
		`SELECT `+requestColumns+` FROM payment_requests
		 WHERE state IN (`+placeholders+`) ORDER BY created_at DESC, id DESC`,
		args...,
	)
}

func (r *PaymentRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM payment_requests
		 WHERE state IN ('succeeded', 'failed', 'timed_out')
		   AND completed_at IS NOT NULL AND completed_at < ?`,
		cutoff.UTC().UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PaymentRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Request, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func requestArgs(req *domain.Request) []any {
	return []any{
		req.ID,
		nullable(req.CorrelationID),
		req.MerchantRequestID,
		req.Target.MemberID,
		string(req.Target.Kind),
		req.Target.Period,
		req.Target.LoanID,
		req.Amount,
		req.PhoneNumber,
		string(req.State),
		string(req.FailureCode),
		req.FailureReason,
		req.ReceiptNumber,
		req.Attempts,
		nanos(req.CreatedAt),
		nanos(req.UpdatedAt),
		nanos(req.LastPolledAt),
		nanos(req.DeadlineAt),
		nanos(req.CompletedAt),
	}
}

func scanRequest(row scanner) (*domain.Request, error) {
	var req domain.Request
	var cid sql.NullString
	var kind, state, failureCode string
	var created, updated, polled, deadline, done sql.NullInt64
	err := row.Scan(
		&req.ID, &cid, &req.MerchantRequestID, &req.Target.MemberID, &kind, &req.Target.Period, &req.Target.LoanID,
		&req.Amount, &req.PhoneNumber, &state, &failureCode, &req.FailureReason, &req.ReceiptNumber, &req.Attempts,
		&created, &updated, &polled, &deadline, &done,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	req.CorrelationID = cid.String
	req.Target.Kind = domain.Kind(kind)
	req.State = domain.State(state)
	req.FailureCode = domain.FailureCode(failureCode)
	req.CreatedAt = fromNanos(created)
	req.UpdatedAt = fromNanos(updated)
	req.LastPolledAt = fromNanos(polled)
	req.DeadlineAt = fromNanos(deadline)
	req.CompletedAt = fromNanos(done)
	return &req, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
