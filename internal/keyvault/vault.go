package keyvault

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegix-network/gateway/internal/cipherstore"
	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/internal/metrics"
	"github.com/aegix-network/gateway/pkg/logger"
)

// PoolAuthDomain / ExportKeyDomain / SessionGrantDomain are the
// domain-separated challenge prefixes owner wallets sign over (spec.md §6).
const (
	PoolAuthDomain     = "AEGIX_POOL_AUTH::"
	ExportKeyDomain    = "AEGIX_EXPORT_KEY::"
	SessionGrantDomain = "AEGIX_SESSION_GRANT::"
	// ClockSkew bounds how far a signed timestamp may drift from server time.
	ClockSkew = 5 * time.Minute
)

// Store persists Pool/RecoveryPool/SessionKey entries. Implementations
// (internal/store) provide write-through durability with fsync-at-commit
// semantics, per spec.md §4.2.
type Store interface {
	GetPoolByOwner(ctx context.Context, owner string) (*Pool, error)
	GetPool(ctx context.Context, poolID string) (*Pool, error)
	PutPool(ctx context.Context, p *Pool) error
	ListLockedPools(ctx context.Context) ([]*Pool, error)

	GetRecoveryPool(ctx context.Context, owner string) (*RecoveryPool, error)
	PutRecoveryPool(ctx context.Context, rp *RecoveryPool) error

	GetSessionKey(ctx context.Context, sessionID string) (*SessionKey, error)
	PutSessionKey(ctx context.Context, sk *SessionKey) error
}

// AuditSink receives vault-export and pool-initialization audit events.
type AuditSink interface {
	LogEvent(ctx context.Context, ownerAddress, kind string, details map[string]any)
}

// Vault implements KeyVault. Creation/transition for any one pool_id or
// session_id is serialized by a per-id lock (spec.md §4.2 "Concurrency").
type Vault struct {
	store   Store
	cipher  *cipherstore.Store
	audit   AuditSink
	log     *logger.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]*UnlockedSecret // pool_id/session_id -> decrypted secret, live only while unlocked
}

// Config configures a Vault.
type Config struct {
	Store  Store
	Cipher *cipherstore.Store
	Audit  AuditSink
	Logger *logger.Logger
}

// New constructs a Vault. On construction the vault does not eagerly reload
// secrets into memory — per spec.md §3 "locked automatically on process
// restart", every pool begins Locked until explicitly unlocked.
func New(cfg Config) *Vault {
	return &Vault{
		store:  cfg.Store,
		cipher: cfg.Cipher,
		audit:  cfg.Audit,
		log:    cfg.Logger,
		locks:  make(map[string]*sync.Mutex),
		cache:  make(map[string]*UnlockedSecret),
	}
}

func (v *Vault) lockFor(id string) *sync.Mutex {
	v.locksMu.Lock()
	defer v.locksMu.Unlock()
	m, ok := v.locks[id]
	if !ok {
		m = &sync.Mutex{}
		v.locks[id] = m
	}
	return m
}

// PruneLocks drops per-id mutexes for ids not present in activeIDs. Nothing
// in the gateway calls it; CleanupScheduler prunes only the budget ledger's
// mutexes.
func (v *Vault) PruneLocks(activeIDs map[string]struct{}) {
	v.locksMu.Lock()
	defer v.locksMu.Unlock()
	for id := range v.locks {
		if _, ok := activeIDs[id]; !ok {
			delete(v.locks, id)
		}
	}
}

// verifyOwnerSignature checks an Ed25519 signature over domain||owner||"::"||timestamp
// and enforces the ±5 minute clock-skew bound (spec.md §6).
func verifyOwnerSignature(owner string, ownerPub ed25519.PublicKey, domain string, timestamp int64, sig []byte) error {
	now := time.Now().Unix()
	if timestamp > now+int64(ClockSkew.Seconds()) || timestamp < now-int64(ClockSkew.Seconds()) {
		return gwerr.New(gwerr.InvalidSignature, "timestamp outside clock-skew window")
	}
	msg := fmt.Sprintf("%s%s::%d", domain, owner, timestamp)
	if !ed25519.Verify(ownerPub, []byte(msg), sig) {
		return gwerr.New(gwerr.InvalidSignature, "signature does not verify")
	}
	return nil
}

// GetOrCreatePool returns the owner's existing pool, or derives and persists
// a new one (spec.md §4.2 get_or_create_pool).
func (v *Vault) GetOrCreatePool(ctx context.Context, owner string, ownerPub ed25519.PublicKey, timestamp int64, sig []byte) (*Pool, bool, error) {
	if err := verifyOwnerSignature(owner, ownerPub, PoolAuthDomain, timestamp, sig); err != nil {
		return nil, false, err
	}

	mu := v.lockFor("owner:" + owner)
	mu.Lock()
	defer mu.Unlock()

	existing, err := v.store.GetPoolByOwner(ctx, owner)
	if err != nil {
		return nil, false, gwerr.Wrap(gwerr.Unknown, "lookup pool", err)
	}
	if existing != nil {
		needsReauth := existing.Status == PoolLocked
		return existing, needsReauth, nil
	}

	// Deterministic derivation from the owner-supplied signature lets the
	// user recover the same pool address across process restarts
	// (spec.md §4.2).
	priv := ed25519.NewKeyFromSeed(derivePoolSeed(deterministicSeed(owner, sig)))
	pub := priv.Public().(ed25519.PublicKey)

	handle, err := v.cipher.EncryptBytes(priv)
	if err != nil {
		return nil, false, err
	}

	pool := &Pool{
		PoolID:          uuid.NewString(),
		OwnerAddress:    owner,
		PublicKey:       encodeAddr(pub),
		EncryptedSecret: handle,
		Status:          PoolCreated,
		CreatedAt:       time.Now(),
	}
	if err := v.store.PutPool(ctx, pool); err != nil {
		return nil, false, gwerr.Wrap(gwerr.Unknown, "persist pool", err)
	}

	// Cache the secret this process already holds in memory rather than
	// round-tripping through CipherStore's decrypt path; the owner has just
	// proven possession of the signing key, so this stands in for UnlockPool
	// for the lifetime of this process (until a restart relocks it).
	v.cacheMu.Lock()
	v.cache[pool.PoolID] = newUnlockedSecret(priv)
	v.cacheMu.Unlock()

	if v.audit != nil {
		v.audit.LogEvent(ctx, owner, "pool_initialized", map[string]any{"pool_id": pool.PoolID})
	}
	if v.log != nil {
		v.log.Component("keyvault").WithField("pool_id", pool.PoolID).Info("pool initialized")
	}

	return pool, false, nil
}

// GetOrCreatePoolLookup returns owner's existing pool without requiring a
// fresh signature, for read-only routes (pool.get, pool.fund, pool.top_up,
// pool.confirm_funding, pool.withdraw, pool.pay) that authenticate the
// owner out-of-band (session token, prior pool.init) rather than re-signing
// every request, per spec.md §6's request table (no signature column for
// these routes).
func (v *Vault) GetOrCreatePoolLookup(ctx context.Context, owner string) (*Pool, error) {
	pool, err := v.store.GetPoolByOwner(ctx, owner)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup pool", err)
	}
	return pool, nil
}

// GetPoolByID looks up a pool by id directly, for routes keyed on pool_id
// (pool.shield) rather than owner address.
func (v *Vault) GetPoolByID(ctx context.Context, poolID string) (*Pool, error) {
	pool, err := v.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup pool", err)
	}
	return pool, nil
}

// UnlockPool decrypts and caches a pool's secret in memory. The signature
// must verify, within the clock-skew window, over a challenge embedding
// pool_id and nonce. The nonce is not checked against any server-issued
// value.
func (v *Vault) UnlockPool(ctx context.Context, poolID, owner string, ownerPub ed25519.PublicKey, nonce string, timestamp int64, sig []byte) error {
	domain := fmt.Sprintf("%s%s::%s::", PoolAuthDomain, poolID, nonce)
	if err := verifyOwnerSignature(owner, ownerPub, domain, timestamp, sig); err != nil {
		return err
	}

	mu := v.lockFor(poolID)
	mu.Lock()
	defer mu.Unlock()

	pool, err := v.store.GetPool(ctx, poolID)
	if err != nil {
		return gwerr.Wrap(gwerr.Unknown, "lookup pool", err)
	}
	if pool == nil {
		return gwerr.New(gwerr.InvalidArgument, "pool not found")
	}
	if pool.OwnerAddress != owner {
		return gwerr.New(gwerr.PermissionDenied, "owner mismatch")
	}

	secretBytes, err := v.cipher.DecryptBytes(pool.EncryptedSecret, ownerPub, sig, "")
	if err != nil {
		return err
	}

	v.cacheMu.Lock()
	v.cache[poolID] = newUnlockedSecret(secretBytes)
	v.cacheMu.Unlock()

	if pool.Status == PoolLocked {
		pool.Status = PoolActive
		if err := v.store.PutPool(ctx, pool); err != nil {
			return gwerr.Wrap(gwerr.Unknown, "persist unlocked pool", err)
		}
	}

	return nil
}

// WithPoolSecret reads the pool's cached secret under a shared lock, runs fn,
// then overwrites the local copy with zero bytes before releasing, per
// spec.md §5's shared-resource policy. Returns PoolLocked/NeedsReauth if the
// secret is not currently cached.
func (v *Vault) WithPoolSecret(poolID string, fn func(secret []byte) error) error {
	v.cacheMu.RLock()
	cached, ok := v.cache[poolID]
	v.cacheMu.RUnlock()
	if !ok {
		metrics.VaultUnlocks.WithLabelValues("needs_reauth").Inc()
		return gwerr.New(gwerr.NeedsReauth, "pool secret not unlocked")
	}

	local := make([]byte, len(cached.Bytes()))
	copy(local, cached.Bytes())
	defer func() {
		for i := range local {
			local[i] = 0
		}
	}()

	err := fn(local)
	if err != nil {
		metrics.VaultUnlocks.WithLabelValues("error").Inc()
	} else {
		metrics.VaultUnlocks.WithLabelValues("ok").Inc()
	}
	return err
}

// ExportPoolKey returns the raw secret once and emits a vault-export audit event.
func (v *Vault) ExportPoolKey(ctx context.Context, poolID, owner string, ownerPub ed25519.PublicKey, timestamp int64, sig []byte) ([]byte, error) {
	if err := verifyOwnerSignature(owner, ownerPub, ExportKeyDomain, timestamp, sig); err != nil {
		return nil, err
	}

	pool, err := v.store.GetPool(ctx, poolID)
	if err != nil || pool == nil {
		return nil, gwerr.New(gwerr.InvalidArgument, "pool not found")
	}
	if pool.OwnerAddress != owner {
		return nil, gwerr.New(gwerr.PermissionDenied, "owner mismatch")
	}

	secretBytes, err := v.cipher.DecryptBytes(pool.EncryptedSecret, ownerPub, sig, "")
	if err != nil {
		return nil, err
	}

	if v.audit != nil {
		v.audit.LogEvent(ctx, owner, "vault_export", map[string]any{"pool_id": poolID})
	}

	return secretBytes, nil
}

// CreateSessionKey generates a fresh keypair, encrypts it through the same
// CipherStore (and so the same AEAD key) that protects pool secrets, and
// persists a SessionKey descriptor (spec.md §4.2). No separate session-key
// encryption key exists.
func (v *Vault) CreateSessionKey(ctx context.Context, owner string, ownerPub ed25519.PublicKey, timestamp int64, sig []byte, maxPerTx, dailyLimit int64, duration, maxDuration time.Duration) (*SessionKey, error) {
	if err := verifyOwnerSignature(owner, ownerPub, SessionGrantDomain, timestamp, sig); err != nil {
		return nil, err
	}
	if duration > maxDuration {
		return nil, gwerr.Newf(gwerr.InvalidArgument, "duration exceeds max session duration %s", maxDuration)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "generate session keypair", err)
	}

	handle, err := v.cipher.EncryptBytes(priv)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sk := &SessionKey{
		SessionID:       uuid.NewString(),
		PublicKey:       encodeAddr(pub),
		EncryptedSecret: handle,
		GrantedAt:       now,
		ExpiresAt:       now.Add(duration),
		MaxPerTx:        maxPerTx,
		DailyLimit:      dailyLimit,
		SpentToday:      0,
		LastResetDate:   now.UTC().Format("2006-01-02"),
		Status:          SessionActive,
	}
	if err := v.store.PutSessionKey(ctx, sk); err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "persist session key", err)
	}
	return sk, nil
}

// RevokeSessionKey marks a session Revoked and drops its cached secret. The
// owner signature is verified over SessionGrantDomain + sessionID, distinct
// from the grant-time challenge so a leaked grant signature cannot later be
// replayed to revoke a different session.
func (v *Vault) RevokeSessionKey(ctx context.Context, sessionID, owner string, ownerPub ed25519.PublicKey, timestamp int64, sig []byte) error {
	if err := verifyOwnerSignature(owner+":"+sessionID, ownerPub, SessionGrantDomain, timestamp, sig); err != nil {
		return err
	}

	mu := v.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sk, err := v.store.GetSessionKey(ctx, sessionID)
	if err != nil || sk == nil {
		return gwerr.New(gwerr.InvalidArgument, "session not found")
	}
	sk.Status = SessionRevoked
	if err := v.store.PutSessionKey(ctx, sk); err != nil {
		return gwerr.Wrap(gwerr.Unknown, "persist revoked session", err)
	}

	v.cacheMu.Lock()
	delete(v.cache, sessionID)
	v.cacheMu.Unlock()
	return nil
}

// GetRecoveryPool returns owner's RecoveryPool, or nil if none exists.
func (v *Vault) GetRecoveryPool(ctx context.Context, owner string) (*RecoveryPool, error) {
	rp, err := v.store.GetRecoveryPool(ctx, owner)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup recovery pool", err)
	}
	return rp, nil
}

// RecoveryPoolAuthDomain is the challenge prefix for recovery-pool
// unlock/creation signatures, distinct from the primary pool's domain so a
// leaked pool signature cannot be replayed against the fee-paying identity.
const RecoveryPoolAuthDomain = "AEGIX_RECOVERY_AUTH::"

// GetOrCreateRecoveryPool mirrors GetOrCreatePool for the per-owner
// fee-paying RecoveryPool (spec.md §3 RecoveryPool, §4.6.3 M0_Init).
func (v *Vault) GetOrCreateRecoveryPool(ctx context.Context, owner string, ownerPub ed25519.PublicKey, timestamp int64, sig []byte, minRequiredNative int64) (*RecoveryPool, error) {
	if err := verifyOwnerSignature(owner, ownerPub, RecoveryPoolAuthDomain, timestamp, sig); err != nil {
		return nil, err
	}

	mu := v.lockFor("recovery:" + owner)
	mu.Lock()
	defer mu.Unlock()

	existing, err := v.store.GetRecoveryPool(ctx, owner)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup recovery pool", err)
	}
	if existing != nil {
		return existing, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "generate recovery pool keypair", err)
	}
	handle, err := v.cipher.EncryptBytes(priv)
	if err != nil {
		return nil, err
	}

	rp := &RecoveryPool{
		Address:           encodeAddr(pub),
		EncryptedSecret:   handle,
		OwnerAddress:      owner,
		MinRequiredNative: minRequiredNative,
	}
	if err := v.store.PutRecoveryPool(ctx, rp); err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "persist recovery pool", err)
	}

	v.cacheMu.Lock()
	v.cache["recovery:"+rp.Address] = newUnlockedSecret(priv)
	v.cacheMu.Unlock()

	return rp, nil
}

// WithRecoveryPoolSecret mirrors WithPoolSecret for a RecoveryPool address.
func (v *Vault) WithRecoveryPoolSecret(address string, fn func(secret []byte) error) error {
	v.cacheMu.RLock()
	cached, ok := v.cache["recovery:"+address]
	v.cacheMu.RUnlock()
	if !ok {
		return gwerr.New(gwerr.NeedsReauth, "recovery pool secret not unlocked")
	}

	local := make([]byte, len(cached.Bytes()))
	copy(local, cached.Bytes())
	defer func() {
		for i := range local {
			local[i] = 0
		}
	}()
	return fn(local)
}

// ReloadLockedOnRestart marks every persisted pool Locked, per spec.md §3
// ("locked automatically on process restart"). Called once at startup.
func (v *Vault) ReloadLockedOnRestart(ctx context.Context) error {
	pools, err := v.store.ListLockedPools(ctx)
	if err != nil {
		return gwerr.Wrap(gwerr.Unknown, "list pools", err)
	}
	for _, p := range pools {
		if p.Status != PoolLocked {
			p.Status = PoolLocked
			if err := v.store.PutPool(ctx, p); err != nil {
				return gwerr.Wrap(gwerr.Unknown, "relock pool", err)
			}
		}
	}
	return nil
}

// MarkFunded transitions a pool from Created to Funded on confirmed on-chain
// transfer (spec.md §3 Pool lifecycle: "funded on confirmed on-chain
// transfer of token + native gas").
func (v *Vault) MarkFunded(ctx context.Context, poolID string) (*Pool, error) {
	mu := v.lockFor("pool:" + poolID)
	mu.Lock()
	defer mu.Unlock()

	pool, err := v.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup pool", err)
	}
	if pool == nil {
		return nil, gwerr.New(gwerr.InvalidArgument, "no such pool")
	}
	if pool.Status == PoolLocked {
		return nil, gwerr.New(gwerr.NeedsReauth, "pool is locked")
	}
	now := time.Now()
	pool.Status = PoolFunded
	pool.FundedAt = &now
	if err := v.store.PutPool(ctx, pool); err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "persist funded pool", err)
	}
	return pool, nil
}

// ActivatePool transitions Funded to Active, marking the pool ready for
// payments. The payment engine does not call it: its checkPoolUsable accepts
// a Funded pool as it is, so a pool can pay while still Funded.
func (v *Vault) ActivatePool(ctx context.Context, poolID string) (*Pool, error) {
	mu := v.lockFor("pool:" + poolID)
	mu.Lock()
	defer mu.Unlock()

	pool, err := v.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup pool", err)
	}
	if pool == nil {
		return nil, gwerr.New(gwerr.InvalidArgument, "no such pool")
	}
	if pool.Status == PoolFunded {
		pool.Status = PoolActive
		if err := v.store.PutPool(ctx, pool); err != nil {
			return nil, gwerr.Wrap(gwerr.Unknown, "persist active pool", err)
		}
	}
	return pool, nil
}

func deterministicSeed(owner string, sig []byte) []byte {
	return append([]byte(owner), sig...)
}

// derivePoolSeed folds the owner-signature-derived seed down to a 32-byte
// ed25519 seed with a single SHA-256 hash.
func derivePoolSeed(seed []byte) []byte {
	out := make([]byte, ed25519.SeedSize)
	sum := sha256Sum(seed)
	copy(out, sum[:])
	return out
}
