// Package cipherstore implements symmetric/attested encryption of arbitrary
// byte blobs and integer handles, per SPEC_FULL.md §4.1.
//
// Handles are versioned, length-prefixed byte strings of the form
// algorithm_id || nonce || ciphertext || tag (spec.md §9, "any-shape handles").
// One AEAD construction (ChaCha20-Poly1305 under an HKDF-derived key) is
// used in both the "real" and "simulation" modes; there is no separate
// enclave-sealed backend. The mode changes only the attestation string and
// DecryptInteger's handling of a failed decrypt.
package cipherstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/pkg/logger"
)

// AlgorithmID identifies the AEAD construction encoded in a handle's first byte.
type AlgorithmID byte

const (
	AlgoChaCha20Poly1305 AlgorithmID = 0x01
)

// DecryptDomain is the domain-separation prefix required on every owner
// signature accepted by decrypt_bytes (spec.md §4.1.2, §6).
const DecryptDomain = "decrypt:"

// AgentStatusResolver reports whether a delegated agent_id is currently
// Active. Resolution failures MUST fail closed (spec.md §4.1.2).
type AgentStatusResolver interface {
	IsActive(agentID string) (bool, error)
}

// UsageEvent is appended to the key-usage log for every CipherStore operation.
type UsageEvent struct {
	Op        string
	Handle    string
	OwnerAddr string
	At        time.Time
	Err       string
}

// UsageLog receives append-only usage events. Side effects beyond this are
// disallowed by spec.md §4.1.
type UsageLog interface {
	Append(UsageEvent)
}

// Store implements CipherStore. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	aead     aeadBackend
	agents   AgentStatusResolver
	usageLog UsageLog
	log      *logger.Logger
	mode     string // "real" | "simulation"
}

// Config configures a Store.
type Config struct {
	// MasterSecret is the single process secret all keys derive from
	// (spec.md §4.1.1: "a key derived from a single process secret").
	MasterSecret []byte
	Mode         string // "real" | "simulation"
	Agents       AgentStatusResolver
	UsageLog     UsageLog
	Logger       *logger.Logger
}

// New constructs a Store. In "real" mode callers are expected to have
// provisioned MasterSecret from an enclave-sealed source; in "simulation"
// mode any 32-byte secret works and no enclave is required.
func New(cfg Config) (*Store, error) {
	if len(cfg.MasterSecret) == 0 {
		return nil, fmt.Errorf("cipherstore: master secret required")
	}
	aead, err := newChaCha20Backend(cfg.MasterSecret)
	if err != nil {
		return nil, fmt.Errorf("cipherstore: init aead: %w", err)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = "simulation"
	}
	return &Store{
		aead:     aead,
		agents:   cfg.Agents,
		usageLog: cfg.UsageLog,
		log:      cfg.Logger,
		mode:     mode,
	}, nil
}

// EncryptBytes encrypts plaintext under a fresh nonce and returns an opaque handle.
func (s *Store) EncryptBytes(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", gwerr.Wrap(gwerr.SecurityError, "generate nonce", err)
	}

	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)
	handle := encodeHandle(AlgoChaCha20Poly1305, nonce, ciphertext)
	s.logUsage(UsageEvent{Op: "encrypt_bytes", Handle: handle, At: time.Now()})
	return handle, nil
}

// DecryptBytes verifies an Ed25519 owner signature over "decrypt:<handle>"
// and, if valid (and agentID, when set, resolves Active), decrypts handle.
func (s *Store) DecryptBytes(handle string, ownerAddress ed25519.PublicKey, ownerSignature []byte, agentID string) ([]byte, error) {
	msg := append([]byte(DecryptDomain), []byte(handle)...)
	if !ed25519.Verify(ownerAddress, msg, ownerSignature) {
		s.logUsage(UsageEvent{Op: "decrypt_bytes", Handle: handle, At: time.Now(), Err: "invalid_signature"})
		return nil, gwerr.New(gwerr.InvalidSignature, "signature does not verify over decrypt domain")
	}

	if agentID != "" {
		if s.agents == nil {
			// Fail closed: cannot resolve agent status.
			return nil, gwerr.New(gwerr.PermissionDenied, "agent status resolver unavailable")
		}
		active, err := s.agents.IsActive(agentID)
		if err != nil || !active {
			s.logUsage(UsageEvent{Op: "decrypt_bytes", Handle: handle, At: time.Now(), Err: "agent_inactive"})
			return nil, gwerr.New(gwerr.PermissionDenied, "agent is not active")
		}
	}

	algo, nonce, ciphertext, err := decodeHandle(handle)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidHandle, "malformed handle", err)
	}
	if algo != AlgoChaCha20Poly1305 {
		return nil, gwerr.New(gwerr.InvalidHandle, "unsupported algorithm id")
	}

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.SecurityError, "decrypt failed", err)
	}

	s.logUsage(UsageEvent{Op: "decrypt_bytes", Handle: handle, At: time.Now()})
	return plaintext, nil
}

// OpenHandle decrypts handle without its own signature check. Callers that
// authenticate a batch of handles under one signature over a domain that
// covers all of them (e.g. AuditLog.DecryptAll, spec.md §4.7 "single
// signature verification") call this per-handle only after that batch
// signature has already verified.
func (s *Store) OpenHandle(handle string) ([]byte, error) {
	algo, nonce, ciphertext, err := decodeHandle(handle)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidHandle, "malformed handle", err)
	}
	if algo != AlgoChaCha20Poly1305 {
		return nil, gwerr.New(gwerr.InvalidHandle, "unsupported algorithm id")
	}
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.SecurityError, "decrypt failed", err)
	}
	s.logUsage(UsageEvent{Op: "open_handle", Handle: handle, At: time.Now()})
	return plaintext, nil
}

// IntegerHandle is the opaque handle format returned by EncryptInteger.
type IntegerHandle struct {
	Handle      string
	Attestation string
}

// EncryptInteger encrypts value (interpreted as width bits, big-endian) and
// returns an opaque handle plus an always-valid attestation proof string.
func (s *Store) EncryptInteger(value uint64, width int) (IntegerHandle, error) {
	if width != 32 && width != 64 {
		return IntegerHandle{}, gwerr.New(gwerr.InvalidArgument, "width must be 32 or 64")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	if width == 32 {
		buf = buf[4:]
	}
	handle, err := s.EncryptBytes(buf)
	if err != nil {
		return IntegerHandle{}, err
	}
	return IntegerHandle{Handle: handle, Attestation: s.attestInteger(handle)}, nil
}

// DecryptInteger reverses EncryptInteger under owner attestation. In
// simulation mode a failed decrypt (including a signature that does not
// verify) returns zero with a valid attestation instead of an error; a
// successful decrypt returns the real value in either mode.
func (s *Store) DecryptInteger(h IntegerHandle, ownerAddress ed25519.PublicKey, ownerSignature []byte, width int) (uint64, string, error) {
	plaintext, err := s.DecryptBytes(h.Handle, ownerAddress, ownerSignature, "")
	if err != nil {
		if s.mode == "simulation" {
			return 0, s.attestInteger(h.Handle), nil
		}
		return 0, "", err
	}
	var buf [8]byte
	copy(buf[8-len(plaintext):], plaintext)
	return binary.BigEndian.Uint64(buf[:]), s.attestInteger(h.Handle), nil
}

func (s *Store) attestInteger(handle string) string {
	// Attestation proof string: shape-compatible across the real and
	// simulation modes (spec.md §4.1.3, §6 "FHE/AEAD backend").
	return fmt.Sprintf("attest:%s:%s", s.mode, handle)
}

func (s *Store) logUsage(ev UsageEvent) {
	if s.usageLog != nil {
		s.usageLog.Append(ev)
	}
	if s.log != nil {
		entry := s.log.Component("cipherstore").WithField("op", ev.Op)
		if ev.Err != "" {
			entry.WithField("err", ev.Err).Warn("cipherstore operation failed")
		} else {
			entry.Debug("cipherstore operation")
		}
	}
}

// handle wire format, base64url-encoded: 1 byte algo id || 1 byte nonceLen ||
// nonceLen-byte nonce || ciphertext(+tag)
func encodeHandle(algo AlgorithmID, nonce, ciphertext []byte) string {
	buf := make([]byte, 0, 1+1+len(nonce)+len(ciphertext))
	buf = append(buf, byte(algo), byte(len(nonce)))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)
	return encodeBase64(buf)
}

func decodeHandle(handle string) (AlgorithmID, []byte, []byte, error) {
	raw, err := decodeBase64(handle)
	if err != nil {
		return 0, nil, nil, err
	}
	if len(raw) < 2 {
		return 0, nil, nil, errors.New("handle too short")
	}
	algo := AlgorithmID(raw[0])
	nonceLen := int(raw[1])
	if len(raw) < 2+nonceLen {
		return 0, nil, nil, errors.New("handle truncated")
	}
	nonce := raw[2 : 2+nonceLen]
	ciphertext := raw[2+nonceLen:]
	return algo, nonce, ciphertext, nil
}

// aeadBackend is the AEAD construction EncryptBytes/DecryptBytes use;
// newChaCha20Backend is its only implementation and is loaded in every mode.
type aeadBackend interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func newChaCha20Backend(masterSecret []byte) (aeadBackend, error) {
	key := deriveKey(masterSecret)
	return chacha20poly1305.New(key)
}
