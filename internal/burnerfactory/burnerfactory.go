// Package burnerfactory issues single-use ephemeral keypairs ("burners")
// used by PaymentEngine to relay payments without linking the recipient to
// the stealth pool (SPEC_FULL.md §4.5).
package burnerfactory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aegix-network/gateway/internal/gwerr"
)

// ProofHashDomain domain-separates the burner correlation hash from any
// other signature/hash namespace in the gateway (spec.md §4.5: "display/
// correlation value for audit, not security-critical").
const ProofHashDomain = "AEGIX_BURNER_PROOF::"

// Burner is a freshly minted, single-use keypair descriptor.
type Burner struct {
	PublicKey     ed25519.PublicKey
	Secret        ed25519.PrivateKey
	ParentPoolKey ed25519.PublicKey
	ProofHash     string
	IssuedAt      time.Time
}

// Store tracks issued burner public keys so the factory can refuse to ever
// hand out the same burner twice, even across process restarts.
type Store interface {
	// MarkIssued records pubkeyHex as issued. It MUST return an error
	// (gwerr.InvalidArgument) if pubkeyHex was already recorded, so the
	// caller can retry key generation rather than silently reuse a burner.
	MarkIssued(ctx context.Context, pubkeyHex string) error
}

// Factory implements BurnerFactory.
type Factory struct {
	store Store
}

// New constructs a Factory.
func New(store Store) *Factory {
	return &Factory{store: store}
}

// NewBurner generates a fresh random keypair, registers it as issued
// (refusing on collision, which is cryptographically negligible but
// checked defensively per spec.md §4.5 "never reused"), and computes the
// audit correlation proof_hash.
func (f *Factory) NewBurner(ctx context.Context, parentPoolKey ed25519.PublicKey) (*Burner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "generate burner keypair", err)
	}

	pubHex := hex.EncodeToString(pub)
	if err := f.store.MarkIssued(ctx, pubHex); err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidArgument, "burner already issued", err)
	}

	now := time.Now()
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "generate burner nonce", err)
	}

	proofHash := computeProofHash(parentPoolKey, pub, now, nonce)

	return &Burner{
		PublicKey:     pub,
		Secret:        priv,
		ParentPoolKey: parentPoolKey,
		ProofHash:     proofHash,
		IssuedAt:      now,
	}, nil
}

// computeProofHash hashes (parent_pool_pubkey, burner_pubkey, timestamp,
// random_nonce) under a domain-separated prefix (spec.md §4.5).
func computeProofHash(parent, burner ed25519.PublicKey, ts time.Time, nonce []byte) string {
	h := sha256.New()
	h.Write([]byte(ProofHashDomain))
	h.Write(parent)
	h.Write(burner)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts.Unix()))
	h.Write(tsBuf[:])
	h.Write(nonce)
	return fmt.Sprintf("%x", h.Sum(nil))
}
