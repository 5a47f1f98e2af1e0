// Package auditlog implements append-only, owner-decryptable payment
// session records (SPEC_FULL.md §4.7).
package auditlog

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"strings"
	"time"

	"github.com/aegix-network/gateway/internal/gwerr"
)

// BatchDecryptDomain domain-separates the signature a client produces to
// authorize decrypt_all, which covers every handle for that owner at once
// rather than one handle at a time (spec.md §4.7 "single signature
// verification").
const BatchDecryptDomain = "decrypt_all:"

// Summary is the non-sensitive view returned by List (spec.md §4.7: "never
// plaintext").
type Summary struct {
	SessionID string
	Owner     string
	Handle    string
	CreatedAt time.Time
	Method    string // "Standard" | "MaximumPrivacy"
	TxCount   int
	Status    string
}

// Details is the plaintext payload recoverable only under owner attestation.
type Details struct {
	SessionID    string          `json:"session_id"`
	Owner        string          `json:"owner"`
	Recipient    string          `json:"recipient"`
	Amount       int64           `json:"amount"`
	Method       string          `json:"method"`
	Status       string          `json:"status"`
	TxPayment    string          `json:"tx_payment"`
	TxHop        string          `json:"tx_hop,omitempty"`
	NativeFunded int64           `json:"native_funded"`
	NativeRecovered int64        `json:"native_recovered"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Store persists Summary rows, keyed by owner and session id.
type Store interface {
	Append(ctx context.Context, s Summary) error
	List(ctx context.Context, owner string) ([]Summary, error)
	Get(ctx context.Context, sessionID string) (*Summary, error)
}

// cipher is the subset of cipherstore.Store AuditLog depends on.
type cipher interface {
	EncryptBytes(plaintext []byte) (string, error)
	DecryptBytes(handle string, ownerAddress ed25519.PublicKey, ownerSignature []byte, agentID string) ([]byte, error)
	OpenHandle(handle string) ([]byte, error)
}

// Log implements AuditLog.
type Log struct {
	store  Store
	cipher cipher
}

// New constructs a Log.
func New(store Store, cs cipher) *Log {
	return &Log{store: store, cipher: cs}
}

// Append encrypts session and stores its summary, per spec.md §4.7.
func (l *Log) Append(ctx context.Context, owner string, session Details) error {
	plaintext, err := json.Marshal(session)
	if err != nil {
		return gwerr.Wrap(gwerr.Unknown, "marshal session for audit", err)
	}
	handle, err := l.cipher.EncryptBytes(plaintext)
	if err != nil {
		return err
	}

	return l.store.Append(ctx, Summary{
		SessionID: session.SessionID,
		Owner:     owner,
		Handle:    handle,
		CreatedAt: time.Now(),
		Method:    session.Method,
		TxCount:   txCount(session),
		Status:    session.Status,
	})
}

func txCount(d Details) int {
	n := 0
	if d.TxPayment != "" {
		n++
	}
	if d.TxHop != "" {
		n++
	}
	return n
}

// List returns non-sensitive summaries for owner.
func (l *Log) List(ctx context.Context, owner string) ([]Summary, error) {
	return l.store.List(ctx, owner)
}

// DecryptOne verifies ownerSignature and returns the plaintext Details for
// one session (spec.md §4.7).
func (l *Log) DecryptOne(ctx context.Context, sessionID, owner string, ownerPub ed25519.PublicKey, ownerSignature []byte) (*Details, error) {
	summary, err := l.store.Get(ctx, sessionID)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "lookup audit summary", err)
	}
	if summary == nil || summary.Owner != owner {
		return nil, gwerr.New(gwerr.PermissionDenied, "no such session for owner")
	}

	plaintext, err := l.cipher.DecryptBytes(summary.Handle, ownerPub, ownerSignature, "")
	if err != nil {
		return nil, err
	}
	var d Details
	if err := json.Unmarshal(plaintext, &d); err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "unmarshal audit details", err)
	}
	return &d, nil
}

// DecryptAll batch-decrypts every session for owner under a single
// signature verification amortized across all handles (spec.md §4.7). The
// signature must cover BatchDecryptDomain followed by every handle
// currently on record for owner, joined by "|", in List order.
func (l *Log) DecryptAll(ctx context.Context, owner string, ownerPub ed25519.PublicKey, ownerSignature []byte) ([]Details, error) {
	summaries, err := l.store.List(ctx, owner)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "list audit summaries", err)
	}

	handles := make([]string, len(summaries))
	for i, s := range summaries {
		handles[i] = s.Handle
	}
	msg := []byte(BatchDecryptDomain + strings.Join(handles, "|"))
	if !ed25519.Verify(ownerPub, msg, ownerSignature) {
		return nil, gwerr.New(gwerr.InvalidSignature, "batch signature does not cover current handle set")
	}

	out := make([]Details, 0, len(summaries))
	for _, s := range summaries {
		plaintext, err := l.cipher.OpenHandle(s.Handle)
		if err != nil {
			return nil, err
		}
		var d Details
		if err := json.Unmarshal(plaintext, &d); err != nil {
			return nil, gwerr.Wrap(gwerr.Unknown, "unmarshal audit details", err)
		}
		out = append(out, d)
	}
	return out, nil
}
