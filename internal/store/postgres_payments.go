package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/internal/paymentengine"
)

// PaymentStore implements paymentengine.Store against the payment_sessions
// table. It is a distinct type from Postgres (rather than another method set
// on it) because paymentengine.Store's Get collides in name, with a
// different signature, with auditlog.Store's Get on the same handle.
type PaymentStore struct {
	db *sql.DB
}

// NewPaymentStore wraps an already-open Postgres handle for paymentengine use.
func NewPaymentStore(p *Postgres) *PaymentStore {
	return &PaymentStore{db: p.DB()}
}

func (s *PaymentStore) Get(ctx context.Context, sessionID string) (*paymentengine.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, owner, pool_address, recipient, amount, method, status,
		       created_at, completed_at, native_funded, native_recovered,
		       tx_funding_token, tx_payment, tx_hop, tx_recovery, burner_pubkey, burner_secret, error_code
		FROM payment_sessions WHERE session_id = $1
	`, sessionID)
	return scanPaymentSession(row)
}

func (s *PaymentStore) Put(ctx context.Context, sess *paymentengine.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_sessions (session_id, owner, pool_address, recipient, amount, method, status,
		                               created_at, completed_at, native_funded, native_recovered,
		                               tx_funding_token, tx_payment, tx_hop, tx_recovery, burner_pubkey, burner_secret, error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (session_id) DO UPDATE SET
			status           = EXCLUDED.status,
			completed_at     = EXCLUDED.completed_at,
			native_funded    = EXCLUDED.native_funded,
			native_recovered = EXCLUDED.native_recovered,
			tx_funding_token = EXCLUDED.tx_funding_token,
			tx_payment       = EXCLUDED.tx_payment,
			tx_hop           = EXCLUDED.tx_hop,
			tx_recovery      = EXCLUDED.tx_recovery,
			burner_secret    = EXCLUDED.burner_secret,
			error_code       = EXCLUDED.error_code
	`, sess.SessionID, sess.OwnerAddress, sess.PoolAddress, sess.RecipientAddress, sess.Amount, string(sess.Method), string(sess.Status),
		sess.CreatedAt, sess.CompletedAt, sess.NativeFunded, sess.NativeRecovered,
		sess.TxFundingToken, sess.TxPayment, sess.TxHop, sess.TxRecovery, sess.BurnerPubkey, sess.BurnerSecret, sess.ErrorCode)
	if err != nil {
		return gwerr.Wrap(gwerr.Unknown, "upsert payment session", err)
	}
	return nil
}

func (s *PaymentStore) ListByStatus(ctx context.Context, status paymentengine.Status) ([]*paymentengine.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, owner, pool_address, recipient, amount, method, status,
		       created_at, completed_at, native_funded, native_recovered,
		       tx_funding_token, tx_payment, tx_hop, tx_recovery, burner_pubkey, burner_secret, error_code
		FROM payment_sessions WHERE status = $1 ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "list payment sessions by status", err)
	}
	defer rows.Close()

	var out []*paymentengine.Session
	for rows.Next() {
		sess, err := scanPaymentSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPaymentSession(row *sql.Row) (*paymentengine.Session, error) {
	sess, err := scanPaymentSessionRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

func scanPaymentSessionRows(row scannable) (*paymentengine.Session, error) {
	var sess paymentengine.Session
	var completedAt sql.NullTime
	var method, status string
	var txFund, txPayment, txHop, txRecovery, burnerPubkey, errorCode sql.NullString
	var burnerSecret []byte
	err := row.Scan(&sess.SessionID, &sess.OwnerAddress, &sess.PoolAddress, &sess.RecipientAddress, &sess.Amount,
		&method, &status, &sess.CreatedAt, &completedAt, &sess.NativeFunded, &sess.NativeRecovered,
		&txFund, &txPayment, &txHop, &txRecovery, &burnerPubkey, &burnerSecret, &errorCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, gwerr.Wrap(gwerr.Unknown, "scan payment session", err)
	}
	sess.Method = paymentengine.Method(method)
	sess.Status = paymentengine.Status(status)
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	sess.TxFundingToken = txFund.String
	sess.TxPayment = txPayment.String
	sess.TxHop = txHop.String
	sess.TxRecovery = txRecovery.String
	sess.BurnerPubkey = burnerPubkey.String
	sess.BurnerSecret = burnerSecret
	sess.ErrorCode = errorCode.String
	return &sess, nil
}
