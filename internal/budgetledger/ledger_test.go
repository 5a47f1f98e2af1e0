package budgetledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/internal/keyvault"
)

type memSessionStore struct {
	mu   sync.Mutex
	keys map[string]*keyvault.SessionKey
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{keys: make(map[string]*keyvault.SessionKey)}
}

func (m *memSessionStore) GetSessionKey(_ context.Context, id string) (*keyvault.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sk, ok := m.keys[id]
	if !ok {
		return nil, nil
	}
	cp := *sk
	return &cp, nil
}

func (m *memSessionStore) PutSessionKey(_ context.Context, sk *keyvault.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sk
	m.keys[sk.SessionID] = &cp
	return nil
}

func newActiveSession(id string, dailyLimit, maxPerTx int64) *keyvault.SessionKey {
	now := time.Now()
	return &keyvault.SessionKey{
		SessionID:     id,
		GrantedAt:     now,
		ExpiresAt:     now.Add(24 * time.Hour),
		MaxPerTx:      maxPerTx,
		DailyLimit:    dailyLimit,
		LastResetDate: now.UTC().Format("2006-01-02"),
		Status:        keyvault.SessionActive,
	}
}

func TestSpendingAtomicityUnderConcurrency(t *testing.T) {
	store := newMemSessionStore()
	ctx := context.Background()
	id := "sess-1"
	const dailyLimit = int64(100_000)
	const amount = int64(34_000) // L/N+eps with N=3 roughly
	require.NoError(t, store.PutSessionKey(ctx, newActiveSession(id, dailyLimit, amount)))

	l := New(store, nil)

	const n = 10
	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ValidateAndReserve(ctx, id, amount)
			if err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	maxSuccesses := dailyLimit / amount
	require.LessOrEqual(t, successes, maxSuccesses)

	final, err := store.GetSessionKey(ctx, id)
	require.NoError(t, err)
	require.Equal(t, successes*amount, final.SpentToday)
	require.LessOrEqual(t, final.SpentToday, dailyLimit)
}

func TestConcurrentLimitBreakerE5(t *testing.T) {
	store := newMemSessionStore()
	ctx := context.Background()
	id := "sess-e5"
	require.NoError(t, store.PutSessionKey(ctx, newActiveSession(id, 100_000, 60_000)))
	l := New(store, nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := l.ValidateAndReserve(ctx, id, 60_000)
			results[idx] = err
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, err := range results {
		if err == nil {
			successCount++
		}
	}
	require.Equal(t, 1, successCount)

	final, err := store.GetSessionKey(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(60_000), final.SpentToday)
	require.NotEqual(t, int64(120_000), final.SpentToday)
}

func TestDayRollover(t *testing.T) {
	store := newMemSessionStore()
	ctx := context.Background()
	id := "sess-rollover"
	sk := newActiveSession(id, 100_000, 60_000)
	sk.SpentToday = 100_000
	sk.LastResetDate = "2020-01-01" // force a rollover relative to "today"
	require.NoError(t, store.PutSessionKey(ctx, sk))

	l := New(store, nil)
	updated, err := l.ValidateAndReserve(ctx, id, 50_000)
	require.NoError(t, err)
	require.Equal(t, int64(50_000), updated.SpentToday)
}

func TestReleaseRevertsReservation(t *testing.T) {
	store := newMemSessionStore()
	ctx := context.Background()
	id := "sess-release"
	require.NoError(t, store.PutSessionKey(ctx, newActiveSession(id, 100_000, 60_000)))
	l := New(store, nil)

	_, err := l.ValidateAndReserve(ctx, id, 40_000)
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, id, 40_000))

	final, err := store.GetSessionKey(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(0), final.SpentToday)
}

func TestValidateAmountRejectsNonDigit(t *testing.T) {
	_, err := ValidateAmount("-5")
	require.Error(t, err)
	require.Equal(t, gwerr.InvalidArgument, gwerr.CodeOf(err))

	_, err = ValidateAmount("abc")
	require.Error(t, err)

	v, err := ValidateAmount("50000")
	require.NoError(t, err)
	require.Equal(t, int64(50000), v)
}
