package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS payment_requests (
		id TEXT PRIMARY KEY,
		correlation_id TEXT UNIQUE,
		merchant_request_id TEXT NOT NULL DEFAULT '',
		member_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		period TEXT NOT NULL DEFAULT '',
		loan_id INTEGER NOT NULL DEFAULT 0,
		target_key TEXT NOT NULL,
		amount TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		state TEXT NOT NULL,
		failure_code TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		receipt_number TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_polled_at INTEGER,
		deadline_at INTEGER,
		completed_at INTEGER
	);`,

	// at most one in-flight request per target
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_requests_active_target
		ON payment_requests (target_key)
		WHERE state IN ('initiating', 'pending');`,

	`CREATE INDEX IF NOT EXISTS ix_payment_requests_member
		ON payment_requests (member_id, created_at);`,

	`CREATE INDEX IF NOT EXISTS ix_payment_requests_state
		ON payment_requests (state);`,

	`CREATE TABLE IF NOT EXISTS contributions (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		period TEXT NOT NULL,
		amount TEXT NOT NULL,
		correlation_id TEXT NOT NULL UNIQUE,
		receipt_number TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);`,

	`CREATE INDEX IF NOT EXISTS ix_contributions_member_period
		ON contributions (member_id, period);`,

	`CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY,
		member_id TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_at INTEGER,
		updated_at INTEGER
	);`,

	`CREATE TABLE IF NOT EXISTS loan_payments (
		id TEXT PRIMARY KEY,
		loan_id INTEGER NOT NULL REFERENCES loans (id),
		member_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		correlation_id TEXT NOT NULL UNIQUE,
		receipt_number TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS overpayments (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		correlation_id TEXT NOT NULL UNIQUE,
		loan_id INTEGER NOT NULL,
		expected TEXT NOT NULL,
		actual TEXT NOT NULL,
		excess TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
}

// RunMigrations creates the schema. It is safe to run on every start.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migration %d: %w", i, err)
		}
	}
	return nil
}
