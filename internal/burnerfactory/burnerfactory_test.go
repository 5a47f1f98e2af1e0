package burnerfactory

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestNewBurnerProducesUniqueSingleUseKeys(t *testing.T) {
	f := New(NewMemoryStore())
	parentPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		b, err := f.NewBurner(context.Background(), parentPub)
		require.NoError(t, err)
		key := string(b.PublicKey)
		_, dup := seen[key]
		require.False(t, dup, "burner factory must never reuse a keypair")
		seen[key] = struct{}{}
		require.Len(t, b.ProofHash, 64)
		require.Equal(t, parentPub, b.ParentPoolKey)
	}
}

func TestNewBurnerRefusesReplayOfIssuedKey(t *testing.T) {
	store := NewMemoryStore()
	f := New(store)
	parentPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	b, err := f.NewBurner(context.Background(), parentPub)
	require.NoError(t, err)

	// Simulate a would-be replay: marking the same public key as issued
	// again must fail, which is what NewBurner relies on for its
	// never-reused guarantee.
	err = store.MarkIssued(context.Background(), hex.EncodeToString(b.PublicKey))
	require.Error(t, err)
}

func TestProofHashIsDeterministicForSameInputs(t *testing.T) {
	parentPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	burnerPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	nonce := []byte("0123456789abcdef")

	h1 := computeProofHash(parentPub, burnerPub, fixedTime(), nonce)
	h2 := computeProofHash(parentPub, burnerPub, fixedTime(), nonce)
	require.Equal(t, h1, h2)
}
