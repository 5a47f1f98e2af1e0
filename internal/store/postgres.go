// Package store implements the Postgres-backed persistence layer shared by
// KeyVault, BudgetLedger, AuditLog, and BurnerFactory (SPEC_FULL.md §E),
// grounded on the teacher corpus's raw-SQL + lib/pq store pattern.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/aegix-network/gateway/internal/auditlog"
	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/internal/keyvault"
)

// Postgres implements keyvault.Store, auditlog.Store, and
// burnerfactory.Store against a single *sql.DB, following the one-store-
// per-service-with-shared-db-handle shape used throughout the teacher's
// packages/com.r3e.services.* tree.
type Postgres struct {
	db *sql.DB
}

// Open connects to databaseURL and configures the pool per spec.md §6
// config knobs (DB_MAX_CONNECTIONS, DB_IDLE_TIMEOUT).
func Open(databaseURL string, maxConns int, idleTimeout time.Duration) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "open database", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxIdleTime(idleTimeout)
	if err := db.Ping(); err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "ping database", err)
	}
	return &Postgres{db: db}, nil
}

// DB exposes the underlying handle for migrations and health checks.
func (p *Postgres) DB() *sql.DB { return p.db }

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// --- keyvault.Store -------------------------------------------------------

func (p *Postgres) GetPoolByOwner(ctx context.Context, owner string) (*keyvault.Pool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT pool_id, owner_address, public_key, encrypted_secret, status,
		       created_at, funded_at, total_payments, total_fees_recovered, recovery_pool_address
		FROM pools WHERE owner_address = $1
	`, owner)
	return scanPool(row)
}

func (p *Postgres) GetPool(ctx context.Context, poolID string) (*keyvault.Pool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT pool_id, owner_address, public_key, encrypted_secret, status,
		       created_at, funded_at, total_payments, total_fees_recovered, recovery_pool_address
		FROM pools WHERE pool_id = $1
	`, poolID)
	return scanPool(row)
}

func scanPool(row *sql.Row) (*keyvault.Pool, error) {
	var p keyvault.Pool
	var fundedAt sql.NullTime
	var recoveryAddr sql.NullString
	err := row.Scan(&p.PoolID, &p.OwnerAddress, &p.PublicKey, &p.EncryptedSecret, &p.Status,
		&p.CreatedAt, &fundedAt, &p.TotalPayments, &p.TotalFeesRecovered, &recoveryAddr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "scan pool", err)
	}
	if fundedAt.Valid {
		p.FundedAt = &fundedAt.Time
	}
	p.RecoveryPoolAddress = recoveryAddr.String
	return &p, nil
}

func (p *Postgres) PutPool(ctx context.Context, pool *keyvault.Pool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO pools (pool_id, owner_address, public_key, encrypted_secret, status,
		                    created_at, funded_at, total_payments, total_fees_recovered, recovery_pool_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pool_id) DO UPDATE SET
			status = EXCLUDED.status,
			funded_at = EXCLUDED.funded_at,
			total_payments = EXCLUDED.total_payments,
			total_fees_recovered = EXCLUDED.total_fees_recovered,
			recovery_pool_address = EXCLUDED.recovery_pool_address
	`, pool.PoolID, pool.OwnerAddress, pool.PublicKey, pool.EncryptedSecret, pool.Status,
		pool.CreatedAt, pool.FundedAt, pool.TotalPayments, pool.TotalFeesRecovered, pool.RecoveryPoolAddress)
	if err != nil {
		return gwerr.Wrap(gwerr.Unknown, "upsert pool", err)
	}
	return nil
}

func (p *Postgres) ListLockedPools(ctx context.Context) ([]*keyvault.Pool, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT pool_id, owner_address, public_key, encrypted_secret, status,
		       created_at, funded_at, total_payments, total_fees_recovered, recovery_pool_address
		FROM pools
	`)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "list pools", err)
	}
	defer rows.Close()

	var out []*keyvault.Pool
	for rows.Next() {
		var pl keyvault.Pool
		var fundedAt sql.NullTime
		var recoveryAddr sql.NullString
		if err := rows.Scan(&pl.PoolID, &pl.OwnerAddress, &pl.PublicKey, &pl.EncryptedSecret, &pl.Status,
			&pl.CreatedAt, &fundedAt, &pl.TotalPayments, &pl.TotalFeesRecovered, &recoveryAddr); err != nil {
			return nil, gwerr.Wrap(gwerr.Unknown, "scan pool row", err)
		}
		if fundedAt.Valid {
			pl.FundedAt = &fundedAt.Time
		}
		pl.RecoveryPoolAddress = recoveryAddr.String
		out = append(out, &pl)
	}
	return out, rows.Err()
}

func (p *Postgres) GetRecoveryPool(ctx context.Context, owner string) (*keyvault.RecoveryPool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT address, encrypted_secret, owner_address, min_required_native, total_recycled
		FROM recovery_pools WHERE owner_address = $1
	`, owner)
	var rp keyvault.RecoveryPool
	err := row.Scan(&rp.Address, &rp.EncryptedSecret, &rp.OwnerAddress, &rp.MinRequiredNative, &rp.TotalRecycled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "scan recovery pool", err)
	}
	return &rp, nil
}

func (p *Postgres) PutRecoveryPool(ctx context.Context, rp *keyvault.RecoveryPool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO recovery_pools (address, encrypted_secret, owner_address, min_required_native, total_recycled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET total_recycled = EXCLUDED.total_recycled
	`, rp.Address, rp.EncryptedSecret, rp.OwnerAddress, rp.MinRequiredNative, rp.TotalRecycled)
	if err != nil {
		return gwerr.Wrap(gwerr.Unknown, "upsert recovery pool", err)
	}
	return nil
}

func (p *Postgres) GetSessionKey(ctx context.Context, id string) (*keyvault.SessionKey, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT session_id, public_key, encrypted_secret, granted_at, expires_at,
		       max_per_tx, daily_limit, spent_today, last_reset_date, status, pool_address
		FROM session_keys WHERE session_id = $1
	`, id)
	var sk keyvault.SessionKey
	err := row.Scan(&sk.SessionID, &sk.PublicKey, &sk.EncryptedSecret, &sk.GrantedAt, &sk.ExpiresAt,
		&sk.MaxPerTx, &sk.DailyLimit, &sk.SpentToday, &sk.LastResetDate, &sk.Status, &sk.PoolAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "scan session key", err)
	}
	return &sk, nil
}

func (p *Postgres) PutSessionKey(ctx context.Context, sk *keyvault.SessionKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO session_keys (session_id, public_key, encrypted_secret, granted_at, expires_at,
		                           max_per_tx, daily_limit, spent_today, last_reset_date, status, pool_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			spent_today = EXCLUDED.spent_today,
			last_reset_date = EXCLUDED.last_reset_date,
			status = EXCLUDED.status
	`, sk.SessionID, sk.PublicKey, sk.EncryptedSecret, sk.GrantedAt, sk.ExpiresAt,
		sk.MaxPerTx, sk.DailyLimit, sk.SpentToday, sk.LastResetDate, sk.Status, sk.PoolAddress)
	if err != nil {
		return gwerr.Wrap(gwerr.Unknown, "upsert session key", err)
	}
	return nil
}

// --- auditlog.Store --------------------------------------------------------

func (p *Postgres) Append(ctx context.Context, s auditlog.Summary) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_sessions (session_id, owner, handle, created_at, method, tx_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.SessionID, s.Owner, s.Handle, s.CreatedAt, s.Method, s.TxCount, s.Status)
	if err != nil {
		return gwerr.Wrap(gwerr.Unknown, "insert audit session", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, owner string) ([]auditlog.Summary, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT session_id, owner, handle, created_at, method, tx_count, status
		FROM audit_sessions WHERE owner = $1 ORDER BY created_at
	`, owner)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "list audit sessions", err)
	}
	defer rows.Close()

	var out []auditlog.Summary
	for rows.Next() {
		var s auditlog.Summary
		if err := rows.Scan(&s.SessionID, &s.Owner, &s.Handle, &s.CreatedAt, &s.Method, &s.TxCount, &s.Status); err != nil {
			return nil, gwerr.Wrap(gwerr.Unknown, "scan audit session", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, sessionID string) (*auditlog.Summary, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT session_id, owner, handle, created_at, method, tx_count, status
		FROM audit_sessions WHERE session_id = $1
	`, sessionID)
	var s auditlog.Summary
	err := row.Scan(&s.SessionID, &s.Owner, &s.Handle, &s.CreatedAt, &s.Method, &s.TxCount, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "scan audit session", err)
	}
	return &s, nil
}

// --- burnerfactory.Store ----------------------------------------------------

// MarkIssued records a burner public key as issued, refusing on conflict.
func (p *Postgres) MarkIssued(ctx context.Context, pubkeyHex string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO issued_burners (public_key_hex, issued_at) VALUES ($1, $2)
	`, pubkeyHex, time.Now())
	if err != nil {
		return gwerr.Wrap(gwerr.InvalidArgument, "burner key already issued", err)
	}
	return nil
}
