// Package migrations applies the gateway's schema to a fresh Postgres
// database. Statements are idempotent (CREATE TABLE IF NOT EXISTS) so Apply
// is safe to run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS pools (
		pool_id                TEXT PRIMARY KEY,
		owner_address          TEXT NOT NULL UNIQUE,
		public_key             TEXT NOT NULL,
		encrypted_secret       TEXT NOT NULL,
		status                 TEXT NOT NULL,
		created_at             TIMESTAMPTZ NOT NULL,
		funded_at              TIMESTAMPTZ,
		total_payments         BIGINT NOT NULL DEFAULT 0,
		total_fees_recovered   BIGINT NOT NULL DEFAULT 0,
		recovery_pool_address  TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS recovery_pools (
		address             TEXT PRIMARY KEY,
		encrypted_secret    TEXT NOT NULL,
		owner_address       TEXT NOT NULL,
		min_required_native BIGINT NOT NULL,
		total_recycled      BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS session_keys (
		session_id       TEXT PRIMARY KEY,
		public_key       TEXT NOT NULL,
		encrypted_secret TEXT NOT NULL,
		granted_at       TIMESTAMPTZ NOT NULL,
		expires_at       TIMESTAMPTZ NOT NULL,
		max_per_tx       BIGINT NOT NULL,
		daily_limit      BIGINT NOT NULL,
		spent_today      BIGINT NOT NULL DEFAULT 0,
		last_reset_date  TEXT NOT NULL,
		status           TEXT NOT NULL,
		pool_address     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_sessions (
		session_id TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		handle     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		method     TEXT NOT NULL,
		tx_count   INT NOT NULL,
		status     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS issued_burners (
		public_key_hex TEXT PRIMARY KEY,
		issued_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payment_sessions (
		session_id       TEXT PRIMARY KEY,
		owner            TEXT NOT NULL,
		pool_address     TEXT NOT NULL,
		recipient        TEXT NOT NULL,
		amount           BIGINT NOT NULL,
		method           TEXT NOT NULL,
		status           TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		completed_at     TIMESTAMPTZ,
		native_funded    BIGINT NOT NULL DEFAULT 0,
		native_recovered BIGINT NOT NULL DEFAULT 0,
		tx_funding_token TEXT,
		tx_payment       TEXT,
		tx_hop           TEXT,
		tx_recovery      TEXT,
		burner_pubkey    TEXT,
		burner_secret    TEXT,
		error_code       TEXT
	)`,
}

// Apply executes every migration statement in order against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrations: statement %d: %w", i, err)
		}
	}
	return nil
}
