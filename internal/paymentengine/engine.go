package paymentengine

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegix-network/gateway/internal/auditlog"
	"github.com/aegix-network/gateway/internal/budgetledger"
	"github.com/aegix-network/gateway/internal/burnerfactory"
	"github.com/aegix-network/gateway/internal/chainadapter"
	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/internal/keyvault"
	"github.com/aegix-network/gateway/internal/metrics"
	"github.com/aegix-network/gateway/pkg/logger"
)

// Config carries the engine's tunables, sourced from internal/config
// (spec.md §4.6.4, §6).
type Config struct {
	MinStandardNative   int64 // 0.008 native units, in smallest unit
	MinRecoveryNative   int64 // 0.001 native units, in smallest unit
	MinRecoveryDeposit  int64 // 0.005 native units RecoveryPool must hold before M0_Init, in smallest unit
	IndexerPollAttempts int   // 10 per spec.md §4.6.3 M2_WaitIndex
	IndexerPollInterval time.Duration // 2s per spec.md
	Token               string
}

// Engine implements PaymentEngine.
type Engine struct {
	vault   *keyvault.Vault
	ledger  *budgetledger.Ledger
	chain   chainadapter.Adapter
	burners *burnerfactory.Factory
	audit   *auditlog.Log
	store   Store
	cfg     Config
	log     *logger.Logger

	poolMutexMu sync.Mutex
	poolMutex   map[string]*sync.Mutex
}

// New constructs an Engine.
func New(vault *keyvault.Vault, ledger *budgetledger.Ledger, chain chainadapter.Adapter, burners *burnerfactory.Factory, audit *auditlog.Log, store Store, cfg Config, log *logger.Logger) *Engine {
	return &Engine{
		vault:     vault,
		ledger:    ledger,
		chain:     chain,
		burners:   burners,
		audit:     audit,
		store:     store,
		cfg:       cfg,
		log:       log,
		poolMutex: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) mutexForPool(poolID string) *sync.Mutex {
	e.poolMutexMu.Lock()
	defer e.poolMutexMu.Unlock()
	m, ok := e.poolMutex[poolID]
	if !ok {
		m = &sync.Mutex{}
		e.poolMutex[poolID] = m
	}
	return m
}

// tryLockPool attempts the per-pool mutex without blocking indefinitely; a
// waiter that cannot acquire it within timeout returns Busy untouched
// (spec.md §4.6.5, §5 "a waiter whose acquisition times out returns Busy").
func tryLockPool(mu *sync.Mutex, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

const poolLockTimeout = 3 * time.Second

// GetCostEstimate answers the public get_cost_estimate surface (spec.md §4.6).
func (e *Engine) GetCostEstimate(method Method) CostEstimate {
	if method == Standard {
		return CostEstimate{PerTxNative: e.cfg.MinStandardNative, MultiplierVsStandard: 1.0}
	}
	// Maximum-Privacy touches three transactions (hop, decompress, occasional
	// retry) against Standard's effectively-one; modeled as a flat 3x.
	return CostEstimate{PerTxNative: e.cfg.MinRecoveryNative, MultiplierVsStandard: 3.0}
}

func checkPoolUsable(pool *keyvault.Pool) error {
	if pool.Status == keyvault.PoolLocked {
		return gwerr.New(gwerr.NeedsReauth, "pool is locked")
	}
	if pool.Status != keyvault.PoolActive && pool.Status != keyvault.PoolFunded {
		return gwerr.Newf(gwerr.PermissionDenied, "pool not usable from status %s", pool.Status)
	}
	return nil
}

// ExecuteStandard drives the Standard Burner state machine (spec.md §4.6.2).
func (e *Engine) ExecuteStandard(ctx context.Context, pool *keyvault.Pool, sessionID, recipient string, amount int64) (*Session, error) {
	if amount <= 0 || amount > budgetledger.MaxAmount {
		return nil, gwerr.New(gwerr.InvalidArgument, "amount out of range")
	}
	if err := checkPoolUsable(pool); err != nil {
		return nil, err
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

	poolPub, err := decodePubkey(pool.PublicKey)
	if err != nil {
		release()
		return nil, gwerr.Wrap(gwerr.Unknown, "decode pool pubkey", err)
	}

	poolTokenBal, err := e.chain.GetTokenBalance(ctx, pool.PublicKey, e.cfg.Token)
	if err != nil {
		release()
		return nil, gwerr.Wrap(gwerr.Unknown, "get pool token balance", err)
	}
	poolNativeBal, err := e.chain.GetBalance(ctx, pool.PublicKey)
	if err != nil {
		release()
		return nil, gwerr.Wrap(gwerr.Unknown, "get pool native balance", err)
	}
	var shortfalls []Shortfall
	if poolTokenBal < amount {
		shortfalls = append(shortfalls, Shortfall{Dimension: "pool_token", Have: poolTokenBal, Required: amount, Shortfall: amount - poolTokenBal})
	}
	if poolNativeBal < e.cfg.MinStandardNative {
		shortfalls = append(shortfalls, Shortfall{Dimension: "pool_native", Have: poolNativeBal, Required: e.cfg.MinStandardNative, Shortfall: e.cfg.MinStandardNative - poolNativeBal})
	}
	if len(shortfalls) > 0 {
		release()
		return nil, gwerr.New(gwerr.InsufficientFunds, "standard payment balance check failed").WithDetails(map[string]any{"shortfalls": shortfalls})
	}

	session := &Session{
		SessionID:        uuid.NewString(),
		OwnerAddress:     pool.OwnerAddress,
		PoolAddress:      pool.PublicKey,
		RecipientAddress: recipient,
		Amount:           amount,
		Method:           Standard,
		Status:           InProgress,
		CreatedAt:        time.Now(),
	}

	burner, err := e.burners.NewBurner(ctx, poolPub)
	if err != nil {
		release()
		return nil, err
	}
	session.BurnerPubkey = hex.EncodeToString(burner.PublicKey)
	session.BurnerSecret = append([]byte(nil), burner.Secret...)

	// S1_FundBurner
	err = e.vault.WithPoolSecret(pool.PoolID, func(secret []byte) error {
		tx, err := e.chain.BuildFundBurner(ctx, ed25519.PrivateKey(secret), burner.PublicKey, e.cfg.MinStandardNative, amount, e.cfg.Token)
		if err != nil {
			return err
		}
		sig, err := e.chain.SubmitAndConfirm(ctx, tx)
		if err != nil {
			return err
		}
		session.TxFundingToken = sig
		session.NativeFunded = e.cfg.MinStandardNative
		return nil
	})
	if err != nil {
		release()
		session.Status = Failed
		session.ErrorCode = string(gwerr.CodeOf(err))
		metrics.PaymentSessions.WithLabelValues(string(Standard), string(Failed)).Inc()
		e.flushAudit(ctx, session)
		return session, err
	}

	// S2_BurnerPays
	tx, err := e.chain.BuildStandardPayment(ctx, burner.Secret, recipient, amount, burner.Secret)
	if err == nil {
		session.TxPayment, err = e.chain.SubmitAndConfirm(ctx, tx)
	}
	if err != nil {
		// Recovery: send amount back to pool, close burner account there.
		if backTx, backErr := e.chain.BuildStandardPayment(ctx, burner.Secret, pool.PublicKey, amount, burner.Secret); backErr == nil {
			_, _ = e.chain.SubmitAndConfirm(ctx, backTx)
		}
		closeTx, closeErr := e.chain.BuildCloseBurnerAccount(ctx, burner.Secret, pool.PublicKey, e.cfg.Token)
		if closeErr == nil {
			session.TxRecovery, _ = e.chain.SubmitAndConfirm(ctx, closeTx)
		}
		session.Status = Failed
		session.ErrorCode = string(gwerr.CodeOf(err))
		metrics.PaymentSessions.WithLabelValues(string(Standard), string(Failed)).Inc()
		e.flushAudit(ctx, session)
		return session, err
	}

	// S3_CloseBurner
	closeTx, err := e.chain.BuildCloseBurnerAccount(ctx, burner.Secret, pool.PublicKey, e.cfg.Token)
	if err == nil {
		session.TxRecovery, err = e.chain.SubmitAndConfirm(ctx, closeTx)
	}
	if err != nil {
		// Rent recovery failure does not fail the payment itself (the
		// transfer already landed); CleanupScheduler retries the sweep.
		if e.log != nil {
			e.log.Component("paymentengine").WithField("session_id", session.SessionID).Warn("burner close failed, deferring to cleanup scheduler")
		}
	}

	now := time.Now()
	session.Status = Completed
	session.CompletedAt = &now
	metrics.PaymentSessions.WithLabelValues(string(Standard), string(Completed)).Inc()
	e.flushAudit(ctx, session)
	return session, nil
}

func (e *Engine) flushAudit(ctx context.Context, s *Session) {
	_ = e.store.Put(ctx, s)
	details := auditlog.Details{
		SessionID:       s.SessionID,
		Owner:           s.OwnerAddress,
		Recipient:       s.RecipientAddress,
		Amount:          s.Amount,
		Method:          string(s.Method),
		Status:          string(s.Status),
		TxPayment:       s.TxPayment,
		TxHop:           s.TxHop,
		NativeFunded:    s.NativeFunded,
		NativeRecovered: s.NativeRecovered,
	}
	if err := e.audit.Append(ctx, s.OwnerAddress, details); err != nil && e.log != nil {
		e.log.Component("paymentengine").WithField("session_id", s.SessionID).WithField("err", err.Error()).Error("audit append failed")
	}
}

func decodePubkey(hexStr string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(b), nil
}
