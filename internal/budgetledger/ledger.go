// Package budgetledger is the only component allowed to mutate
// SessionKey.spent_today, last_reset_date, or status (SPEC_FULL.md §4.3).
package budgetledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/internal/keyvault"
	"github.com/aegix-network/gateway/pkg/logger"
)

// MaxAmount bounds valid amount strings (spec.md §4.3).
const MaxAmount = 1_000_000_000_000_000 // 10^15 micro-units

// LockTimeout is the bounded wait for a session's per-id mutex (spec.md §4.3, §5).
const LockTimeout = 3 * time.Second

// Store persists SessionKey mutations. Grounded on the same Store interface
// keyvault.Vault uses for SessionKey entries — BudgetLedger is the only
// writer of the mutable counters, KeyVault owns creation/revocation.
type Store interface {
	GetSessionKey(ctx context.Context, sessionID string) (*keyvault.SessionKey, error)
	PutSessionKey(ctx context.Context, sk *keyvault.SessionKey) error
}

// Ledger implements BudgetLedger.
type Ledger struct {
	store Store
	log   *logger.Logger

	mutexesMu sync.Mutex
	mutexes   map[string]*sync.Mutex
	lastUsed  map[string]time.Time
}

// New constructs a Ledger.
func New(store Store, log *logger.Logger) *Ledger {
	return &Ledger{
		store:    store,
		log:      log,
		mutexes:  make(map[string]*sync.Mutex),
		lastUsed: make(map[string]time.Time),
	}
}

func (l *Ledger) mutexFor(sessionID string) *sync.Mutex {
	l.mutexesMu.Lock()
	defer l.mutexesMu.Unlock()
	m, ok := l.mutexes[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.mutexes[sessionID] = m
	}
	l.lastUsed[sessionID] = time.Now()
	return m
}

// PruneMutexes drops mutexes with no activity since cutoff (spec.md §4.9).
func (l *Ledger) PruneMutexes(cutoff time.Time) {
	l.mutexesMu.Lock()
	defer l.mutexesMu.Unlock()
	for id, t := range l.lastUsed {
		if t.Before(cutoff) {
			delete(l.mutexes, id)
			delete(l.lastUsed, id)
		}
	}
}

// ValidateAmount enforces spec.md §4.3's numeric semantics: digit-only,
// positive, bounded by MaxAmount.
func ValidateAmount(amount string) (int64, error) {
	if amount == "" {
		return 0, gwerr.New(gwerr.InvalidArgument, "amount must not be empty")
	}
	for _, r := range amount {
		if r < '0' || r > '9' {
			return 0, gwerr.New(gwerr.InvalidArgument, "amount must be digit-only")
		}
	}
	v, err := strconv.ParseInt(amount, 10, 64)
	if err != nil || v <= 0 || v > MaxAmount {
		return 0, gwerr.New(gwerr.InvalidArgument, "amount out of range")
	}
	return v, nil
}

func todayUTC() string { return time.Now().UTC().Format("2006-01-02") }

// tryLockWithTimeout attempts to acquire mu within timeout, returning false on timeout.
func tryLockWithTimeout(mu *sync.Mutex, timeout time.Duration) bool {
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

// ValidateAndReserve acquires the session's mutex (bounded by LockTimeout),
// refreshes the day boundary, validates status/expiry/caps, and atomically
// increments spent_today. Callers MUST follow with Commit or Release under
// the same reservation (spec.md §4.3, §7 "budget reservation release rule").
func (l *Ledger) ValidateAndReserve(ctx context.Context, sessionID string, amount int64) (*keyvault.SessionKey, error) {
	mu := l.mutexFor(sessionID)
	if !tryLockWithTimeout(mu, LockTimeout) {
		return nil, gwerr.New(gwerr.LockTimeout, "Concurrent spending lock timeout")
	}
	defer mu.Unlock()

	sk, err := l.store.GetSessionKey(ctx, sessionID)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup session key", err)
	}
	if sk == nil {
		return nil, gwerr.New(gwerr.InvalidArgument, "session key not found")
	}

	l.refreshDayBoundary(sk)
	l.refreshExpiry(sk)

	if sk.Status != keyvault.SessionActive {
		return nil, gwerr.Newf(gwerr.PermissionDenied, "session key is %s", sk.Status)
	}
	if time.Now().After(sk.ExpiresAt) {
		return nil, gwerr.New(gwerr.PermissionDenied, "session key expired")
	}
	if amount > sk.MaxPerTx {
		return nil, gwerr.New(gwerr.InvalidArgument, "amount exceeds max_per_tx")
	}
	if sk.SpentToday+amount > sk.DailyLimit {
		return nil, gwerr.New(gwerr.InvalidArgument, "DailyLimitExceeded")
	}

	sk.SpentToday += amount
	if err := l.store.PutSessionKey(ctx, sk); err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "persist reservation", err)
	}

	return sk, nil
}

// Commit is a no-op persistence confirmation point: the reservation was
// already durably written by ValidateAndReserve. It exists so callers have
// an explicit "this reservation is now final" step symmetric with Release,
// matching spec.md §4.3's reserve/commit/release contract.
func (l *Ledger) Commit(_ context.Context, _ *keyvault.SessionKey) error {
	return nil
}

// Release reverts a prior reservation under the same session mutex. Used
// when a balance check or downstream step fails after reservation
// (spec.md §4.6.5 "budget-then-balance order").
func (l *Ledger) Release(ctx context.Context, sessionID string, amount int64) error {
	mu := l.mutexFor(sessionID)
	if !tryLockWithTimeout(mu, LockTimeout) {
		return gwerr.New(gwerr.LockTimeout, "Concurrent spending lock timeout")
	}
	defer mu.Unlock()

	sk, err := l.store.GetSessionKey(ctx, sessionID)
	if err != nil || sk == nil {
		return gwerr.Wrap(gwerr.Unknown, "lookup session key for release", err)
	}

	sk.SpentToday -= amount
	if sk.SpentToday < 0 {
		sk.SpentToday = 0
	}
	if err := l.store.PutSessionKey(ctx, sk); err != nil {
		return gwerr.Wrap(gwerr.Unknown, "persist release", err)
	}
	return nil
}

// RefreshStatus transitions Active -> Expired when now >= expires_at.
func (l *Ledger) RefreshStatus(ctx context.Context, sessionID string) (*keyvault.SessionKey, error) {
	mu := l.mutexFor(sessionID)
	if !tryLockWithTimeout(mu, LockTimeout) {
		return nil, gwerr.New(gwerr.LockTimeout, "Concurrent spending lock timeout")
	}
	defer mu.Unlock()

	sk, err := l.store.GetSessionKey(ctx, sessionID)
	if err != nil || sk == nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup session key", err)
	}
	l.refreshExpiry(sk)
	if err := l.store.PutSessionKey(ctx, sk); err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "persist status refresh", err)
	}
	return sk, nil
}

// refreshDayBoundary resets spent_today to zero when the UTC calendar date
// has rolled over since last_reset_date (spec.md §3, §8 property 2).
func (l *Ledger) refreshDayBoundary(sk *keyvault.SessionKey) {
	today := todayUTC()
	if sk.LastResetDate != today {
		sk.SpentToday = 0
		sk.LastResetDate = today
	}
}

func (l *Ledger) refreshExpiry(sk *keyvault.SessionKey) {
	if sk.Status == keyvault.SessionActive && time.Now().After(sk.ExpiresAt) {
		sk.Status = keyvault.SessionExpired
	}
}
