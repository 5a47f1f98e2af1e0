package cipherstore

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegix-network/gateway/internal/gwerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		MasterSecret: []byte("test-master-secret-32-bytes!!!!"),
		Mode:         "simulation",
		Agents:       AlwaysActiveResolver{},
		UsageLog:     NewMemoryUsageLog(),
	})
	require.NoError(t, err)
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	handle, err := s.EncryptBytes([]byte("hello pool secret"))
	require.NoError(t, err)

	sig := ed25519.Sign(priv, append([]byte(DecryptDomain), []byte(handle)...))
	plaintext, err := s.DecryptBytes(handle, pub, sig, "")
	require.NoError(t, err)
	require.Equal(t, "hello pool secret", string(plaintext))
}

func TestDecryptBytesRejectsWrongDomain(t *testing.T) {
	s := newTestStore(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	handle, err := s.EncryptBytes([]byte("secret"))
	require.NoError(t, err)

	// Sign without the "decrypt:" domain prefix — must be rejected.
	sig := ed25519.Sign(priv, []byte(handle))
	_, err = s.DecryptBytes(handle, pub, sig, "")
	require.Error(t, err)
	require.Equal(t, gwerr.InvalidSignature, gwerr.CodeOf(err))
}

func TestDecryptBytesFailsClosedOnUnresolvableAgent(t *testing.T) {
	s, err := New(Config{
		MasterSecret: []byte("test-master-secret-32-bytes!!!!"),
		Mode:         "simulation",
		Agents:       nil, // unresolvable
	})
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	handle, err := s.EncryptBytes([]byte("secret"))
	require.NoError(t, err)
	sig := ed25519.Sign(priv, append([]byte(DecryptDomain), []byte(handle)...))

	_, err = s.DecryptBytes(handle, pub, sig, "agent-1")
	require.Error(t, err)
	require.Equal(t, gwerr.PermissionDenied, gwerr.CodeOf(err))
}

func TestEncryptIntegerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	ih, err := s.EncryptInteger(42, 64)
	require.NoError(t, err)
	require.NotEmpty(t, ih.Attestation)

	sig := ed25519.Sign(priv, append([]byte(DecryptDomain), []byte(ih.Handle)...))
	value, attestation, err := s.DecryptInteger(ih, pub, sig, 64)
	require.NoError(t, err)
	require.Equal(t, uint64(42), value)
	require.NotEmpty(t, attestation)
}
