package keyvault

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegix-network/gateway/internal/cipherstore"
	"github.com/aegix-network/gateway/internal/gwerr"
)

type memStore struct {
	mu       sync.Mutex
	pools    map[string]*Pool
	byOwner  map[string]string
	sessions map[string]*SessionKey
}

func newMemStore() *memStore {
	return &memStore{
		pools:    make(map[string]*Pool),
		byOwner:  make(map[string]string),
		sessions: make(map[string]*SessionKey),
	}
}

func (m *memStore) GetPoolByOwner(_ context.Context, owner string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOwner[owner]
	if !ok {
		return nil, nil
	}
	p := *m.pools[id]
	return &p, nil
}

func (m *memStore) GetPool(_ context.Context, poolID string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[poolID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) PutPool(_ context.Context, p *Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.pools[p.PoolID] = &cp
	m.byOwner[p.OwnerAddress] = p.PoolID
	return nil
}

func (m *memStore) ListLockedPools(_ context.Context) ([]*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) GetRecoveryPool(context.Context, string) (*RecoveryPool, error) { return nil, nil }
func (m *memStore) PutRecoveryPool(context.Context, *RecoveryPool) error           { return nil }

func (m *memStore) GetSessionKey(_ context.Context, id string) (*SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sk, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sk
	return &cp, nil
}

func (m *memStore) PutSessionKey(_ context.Context, sk *SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sk
	m.sessions[sk.SessionID] = &cp
	return nil
}

func newTestVault(t *testing.T) (*Vault, Store) {
	t.Helper()
	cs, err := cipherstore.New(cipherstore.Config{
		MasterSecret: []byte("test-master-secret-32-bytes!!!!"),
		Mode:         "simulation",
		Agents:       cipherstore.AlwaysActiveResolver{},
	})
	require.NoError(t, err)
	store := newMemStore()
	return New(Config{Store: store, Cipher: cs}), store
}

func TestGetOrCreatePoolIsIdempotent(t *testing.T) {
	v, _ := newTestVault(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	owner := "0xOWNER"
	ts := time.Now().Unix()
	msg := fmt.Sprintf("%s%s::%d", PoolAuthDomain, owner, ts)
	sig := ed25519.Sign(priv, []byte(msg))

	p1, needsReauth, err := v.GetOrCreatePool(context.Background(), owner, pub, ts, sig)
	require.NoError(t, err)
	require.False(t, needsReauth)

	p2, _, err := v.GetOrCreatePool(context.Background(), owner, pub, ts, sig)
	require.NoError(t, err)
	require.Equal(t, p1.PoolID, p2.PoolID)
}

func TestPoolLockedAfterRestartNeedsReauth(t *testing.T) {
	v, store := newTestVault(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	owner := "0xOWNER2"
	ts := time.Now().Unix()
	msg := fmt.Sprintf("%s%s::%d", PoolAuthDomain, owner, ts)
	sig := ed25519.Sign(priv, []byte(msg))

	_, _, err = v.GetOrCreatePool(context.Background(), owner, pub, ts, sig)
	require.NoError(t, err)

	require.NoError(t, v.ReloadLockedOnRestart(context.Background()))

	_, needsReauth, err := v.GetOrCreatePool(context.Background(), owner, pub, ts, sig)
	require.NoError(t, err)
	require.True(t, needsReauth)

	_ = store
}

func TestWithPoolSecretFailsNeedsReauthWhenLocked(t *testing.T) {
	v, _ := newTestVault(t)
	err := v.WithPoolSecret("unknown-pool", func([]byte) error { return nil })
	require.Error(t, err)
	require.Equal(t, gwerr.NeedsReauth, gwerr.CodeOf(err))
}
