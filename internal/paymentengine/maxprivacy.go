package paymentengine

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/aegix-network/gateway/internal/budgetledger"
	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/internal/keyvault"
	"github.com/aegix-network/gateway/internal/metrics"
)

// ExecuteMaximumPrivacy drives the Maximum-Privacy Two-Step Burner state
// machine (spec.md §4.6.3). If indexer catch-up exceeds the poll deadline,
// the session is returned in WaitingIndex status together with an
// IndexerSlow error whose "recovery" detail is a RecoveryDescriptor;
// ResumeMaximumPrivacy later completes it.
func (e *Engine) ExecuteMaximumPrivacy(ctx context.Context, pool *keyvault.Pool, sessionID, recipient string, amount int64) (*Session, error) {
	if amount <= 0 || amount > budgetledger.MaxAmount {
		return nil, gwerr.New(gwerr.InvalidArgument, "amount out of range")
	}
	if err := checkPoolUsable(pool); err != nil {
		return nil, err
	}

	health, err := e.chain.HealthCheck(ctx)
	if err != nil || !health.Healthy {
		return nil, gwerr.New(gwerr.LightUnavailable, "ledger rpc unhealthy")
	}

	mu := e.mutexForPool(pool.PoolID)
	if !tryLockPool(mu, poolLockTimeout) {
		return nil, gwerr.New(gwerr.Busy, "pool is busy with another payment")
	}
	defer mu.Unlock()

	if _, err := e.ledger.ValidateAndReserve(ctx, sessionID, amount); err != nil {
		metrics.BudgetReservations.WithLabelValues("denied").Inc()
		return nil, err
	}
	metrics.BudgetReservations.WithLabelValues("reserved").Inc()
	release := func() { _ = e.ledger.Release(ctx, sessionID, amount) }

	recoveryPool, err := e.vault.GetRecoveryPool(ctx, pool.OwnerAddress)
	if err != nil {
		release()
		return nil, err
	}
	if recoveryPool == nil {
		release()
		return nil, gwerr.New(gwerr.InvalidArgument, "recovery pool not provisioned; call recovery.create_and_fund first")
	}

	poolPub, err := decodePubkey(pool.PublicKey)
	if err != nil {
		release()
		return nil, gwerr.Wrap(gwerr.Unknown, "decode pool pubkey", err)
	}

	compressedBal, err := e.chain.GetCompressedBalance(ctx, pool.PublicKey, e.cfg.Token)
	if err != nil {
		release()
		return nil, gwerr.Wrap(gwerr.Unknown, "get compressed balance", err)
	}
	recoveryNativeBal, err := e.chain.GetBalance(ctx, recoveryPool.Address)
	if err != nil {
		release()
		return nil, gwerr.Wrap(gwerr.Unknown, "get recovery pool native balance", err)
	}

	var shortfalls []Shortfall
	if compressedBal < amount {
		shortfalls = append(shortfalls, Shortfall{Dimension: "pool_compressed", Have: compressedBal, Required: amount, Shortfall: amount - compressedBal})
	}
	if recoveryNativeBal < e.cfg.MinRecoveryNative {
		shortfalls = append(shortfalls, Shortfall{Dimension: "recovery_native", Have: recoveryNativeBal, Required: e.cfg.MinRecoveryNative, Shortfall: e.cfg.MinRecoveryNative - recoveryNativeBal})
	}
	if recoveryPool.MinRequiredNative > 0 && recoveryNativeBal < recoveryPool.MinRequiredNative {
		shortfalls = append(shortfalls, Shortfall{Dimension: "recovery_min_required", Have: recoveryNativeBal, Required: recoveryPool.MinRequiredNative, Shortfall: recoveryPool.MinRequiredNative - recoveryNativeBal})
	}
	if len(shortfalls) > 0 {
		release()
		return nil, gwerr.New(gwerr.InsufficientFunds, "maximum-privacy balance check failed").WithDetails(map[string]any{"shortfalls": shortfalls})
	}

	session := &Session{
		SessionID:        uuid.NewString(),
		OwnerAddress:     pool.OwnerAddress,
		PoolAddress:      pool.PublicKey,
		RecipientAddress: recipient,
		Amount:           amount,
		Method:           MaximumPrivacy,
		Status:           InProgress,
		CreatedAt:        time.Now(),
	}

	// M0_Init
	burner, err := e.burners.NewBurner(ctx, poolPub)
	if err != nil {
		release()
		return nil, err
	}
	session.BurnerPubkey = hex.EncodeToString(burner.PublicKey)
	session.BurnerSecret = append([]byte(nil), burner.Secret...)

	// M1_CompressedHop
	err = e.vault.WithPoolSecret(pool.PoolID, func(secret []byte) error {
		result, err := e.chain.BuildCompressedTransfer(ctx, ed25519.PrivateKey(secret), hex.EncodeToString(burner.PublicKey), amount, e.cfg.Token)
		if err != nil {
			return err
		}
		sig, err := e.chain.SubmitAndConfirm(ctx, result.Tx)
		if err != nil {
			return err
		}
		session.TxHop = sig
		return nil
	})
	if err != nil {
		release()
		session.Status = Failed
		session.ErrorCode = string(gwerr.CodeOf(err))
		e.flushAudit(ctx, session)
		return session, err
	}

	// M2_WaitIndex
	indexed := e.pollCompressedBalance(ctx, hex.EncodeToString(burner.PublicKey), amount)
	if !indexed {
		session.Status = WaitingIndex
		metrics.PaymentSessions.WithLabelValues(string(MaximumPrivacy), string(WaitingIndex)).Inc()
		e.flushAudit(ctx, session)
		return session, gwerr.New(gwerr.IndexerSlow, "indexer did not catch up within deadline").WithDetails(map[string]any{
			"recovery": RecoveryDescriptor{SessionID: session.SessionID, Burner: session.BurnerPubkey, CompressedHop: session.TxHop, Amount: amount},
		})
	}

	if err := e.finishMaximumPrivacy(ctx, session, &burnerView{Secret: burner.Secret}, recoveryPool, recipient, amount); err != nil {
		release()
		return session, err
	}
	return session, nil
}

// pollCompressedBalance implements M2_WaitIndex's bounded poll (spec.md
// §4.6.3: "10 attempts at 2s each").
func (e *Engine) pollCompressedBalance(ctx context.Context, burnerAddr string, amount int64) bool {
	start := time.Now()
	defer func() { metrics.IndexerPollDuration.Observe(time.Since(start).Seconds()) }()
	attempts := e.cfg.IndexerPollAttempts
	if attempts <= 0 {
		attempts = 10
	}
	interval := e.cfg.IndexerPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for i := 0; i < attempts; i++ {
		bal, err := e.chain.GetCompressedBalance(ctx, burnerAddr, e.cfg.Token)
		if err == nil && bal >= amount {
			return true
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(interval):
			}
		}
	}
	return false
}

// ResumeMaximumPrivacy retries M3_DecompressAndDeliver for a session paused
// in WaitingIndex (spec.md §8 scenario E4 "internal retry"). The same entry
// point serves both CleanupScheduler's automatic sweep and an explicit
// client-triggered retry, per SPEC_FULL.md's resolution of the indexer-slow
// retry open question.
func (e *Engine) ResumeMaximumPrivacy(ctx context.Context, sessionID string) (*Session, error) {
	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup paused session", err)
	}
	if session == nil {
		return nil, gwerr.New(gwerr.InvalidArgument, "session not found")
	}
	if session.Status != WaitingIndex {
		return session, nil
	}

	indexed := e.pollCompressedBalance(ctx, session.BurnerPubkey, session.Amount)
	if !indexed {
		return session, gwerr.New(gwerr.IndexerSlow, "indexer still not caught up")
	}

	recoveryPool, err := e.vault.GetRecoveryPool(ctx, session.OwnerAddress)
	if err != nil || recoveryPool == nil {
		return nil, gwerr.New(gwerr.Unknown, "recovery pool unavailable during resume")
	}

	burnerSecret := session.BurnerSecret
	if len(burnerSecret) != ed25519.PrivateKeySize {
		return nil, gwerr.New(gwerr.Unknown, "burner secret unavailable; session cannot be resumed")
	}
	burner := &burnerView{Secret: ed25519.PrivateKey(burnerSecret)}

	if err := e.finishMaximumPrivacy(ctx, session, burner, recoveryPool, session.RecipientAddress, session.Amount); err != nil {
		return session, err
	}
	return session, nil
}

// burnerView is the minimal shape finishMaximumPrivacy needs, satisfied by
// both a freshly issued burnerfactory.Burner and a resumed session's
// retained secret.
type burnerView struct {
	Secret ed25519.PrivateKey
}

func (e *Engine) finishMaximumPrivacy(ctx context.Context, session *Session, burner *burnerView, recoveryPool *keyvault.RecoveryPool, recipient string, amount int64) error {
	err := e.vault.WithRecoveryPoolSecret(recoveryPool.Address, func(feePayerSecret []byte) error {
		tx, err := e.chain.BuildDecompressAndTransfer(ctx, burner.Secret, ed25519.PrivateKey(feePayerSecret), recipient, amount, e.cfg.Token)
		if err != nil {
			return err
		}
		session.TxPayment, err = e.chain.SubmitAndConfirm(ctx, tx)
		return err
	})
	if err != nil {
		session.Status = Failed
		session.ErrorCode = string(gwerr.CodeOf(err))
		metrics.PaymentSessions.WithLabelValues(string(MaximumPrivacy), string(Failed)).Inc()
		e.flushAudit(ctx, session)
		return err
	}

	now := time.Now()
	session.Status = Completed
	session.CompletedAt = &now
	session.BurnerSecret = nil // M4_CloseBurner: discard; the flush below clears the stored copy.
	metrics.PaymentSessions.WithLabelValues(string(MaximumPrivacy), string(Completed)).Inc()
	e.flushAudit(ctx, session)
	return nil
}

