// Package keyvault implements the encrypted-at-rest registry of pool
// keypairs, recovery-pool keypairs, and session keys (SPEC_FULL.md §4.2).
package keyvault

import (
	"crypto/ed25519"
	"time"
)

// PoolStatus enumerates Pool.status (spec.md §3).
type PoolStatus string

const (
	PoolCreated PoolStatus = "Created"
	PoolFunded  PoolStatus = "Funded"
	PoolActive  PoolStatus = "Active"
	PoolLocked  PoolStatus = "Locked"
)

// Pool is the server-held stealth keypair entry for one owner.
type Pool struct {
	PoolID              string
	OwnerAddress        string
	PublicKey           string
	EncryptedSecret     string // CipherStore handle
	Status              PoolStatus
	CreatedAt           time.Time
	FundedAt            *time.Time
	TotalPayments        int64
	TotalFeesRecovered   int64
	RecoveryPoolAddress string
}

// RecoveryPool is the fee-paying keypair for Maximum-Privacy payments.
type RecoveryPool struct {
	Address         string
	EncryptedSecret string
	OwnerAddress    string
	MinRequiredNative int64
	TotalRecycled   int64
}

// SessionKeyStatus enumerates SessionKey.status.
type SessionKeyStatus string

const (
	SessionActive  SessionKeyStatus = "Active"
	SessionExpired SessionKeyStatus = "Expired"
	SessionRevoked SessionKeyStatus = "Revoked"
)

// SessionKey is a time- and budget-limited delegated keypair (spec.md §3).
type SessionKey struct {
	SessionID      string
	PublicKey      string
	EncryptedSecret string
	IV             string
	AuthTag        string
	GrantedAt      time.Time
	ExpiresAt      time.Time
	MaxPerTx       int64
	DailyLimit     int64
	SpentToday     int64
	LastResetDate  string // YYYY-MM-DD, UTC
	Status         SessionKeyStatus
	PoolAddress    string
}

// UnlockedSecret is a caller-held view of a decrypted private key. Callers
// MUST call Zero() after use (spec.md §5 "Shared-resource policy").
type UnlockedSecret struct {
	raw []byte
}

func newUnlockedSecret(b []byte) *UnlockedSecret {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &UnlockedSecret{raw: cp}
}

// Bytes returns the raw secret. The returned slice aliases internal storage;
// callers must not retain it past Zero().
func (u *UnlockedSecret) Bytes() []byte { return u.raw }

// Zero overwrites the secret with random/zero bytes before the reader
// releases its lock, per spec.md §5.
func (u *UnlockedSecret) Zero() {
	for i := range u.raw {
		u.raw[i] = 0
	}
}

// KeyPair is a minimal keypair view used by callers that need both halves.
type KeyPair struct {
	PublicKey ed25519.PublicKey
	Secret    *UnlockedSecret
}
