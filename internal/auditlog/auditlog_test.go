package auditlog

import (
	"context"
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegix-network/gateway/internal/cipherstore"
	"github.com/aegix-network/gateway/internal/gwerr"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	cs, err := cipherstore.New(cipherstore.Config{
		MasterSecret: []byte("test-master-secret-32-bytes!!!!"),
		Mode:         "simulation",
		Agents:       cipherstore.AlwaysActiveResolver{},
	})
	require.NoError(t, err)
	return New(NewMemoryStore(), cs)
}

func TestAuditRoundTripMatchesPublicSummary(t *testing.T) {
	log := newTestLog(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	owner := "0xOWNER"

	details := Details{
		SessionID:    "sess-1",
		Owner:        owner,
		Recipient:    "0xRECIPIENT",
		Amount:       50_000,
		Method:       "Standard",
		Status:       "Completed",
		TxPayment:    "sig_payment",
		NativeFunded: 8_000_000,
	}
	require.NoError(t, log.Append(context.Background(), owner, details))

	summaries, err := log.List(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "sess-1", summaries[0].SessionID)
	require.NotEmpty(t, summaries[0].Handle) // handle present but opaque; no plaintext leaked via summary fields

	msg := append([]byte(cipherstore.DecryptDomain), []byte(summaries[0].Handle)...)
	sig := ed25519.Sign(priv, msg)

	got, err := log.DecryptOne(context.Background(), "sess-1", owner, pub, sig)
	require.NoError(t, err)
	require.Equal(t, details.SessionID, got.SessionID)
	require.Equal(t, details.Recipient, got.Recipient)
	require.Equal(t, details.Amount, got.Amount)
	require.Equal(t, details.TxPayment, got.TxPayment)
}

func TestDecryptOneRejectsWrongOwner(t *testing.T) {
	log := newTestLog(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	require.NoError(t, log.Append(context.Background(), "owner-a", Details{SessionID: "s1", Owner: "owner-a"}))

	attackerPub, attackerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_ = priv
	_ = attackerPriv

	_, err = log.DecryptOne(context.Background(), "s1", "owner-b", attackerPub, []byte("bogus"))
	require.Error(t, err)
	require.Equal(t, gwerr.PermissionDenied, gwerr.CodeOf(err))
}

func TestDecryptAllAmortizesOverMultipleSessions(t *testing.T) {
	log := newTestLog(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	owner := "0xBATCH"

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(context.Background(), owner, Details{
			SessionID: string(rune('a' + i)),
			Owner:     owner,
			Amount:    int64(i + 1),
		}))
	}

	summaries, err := log.List(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	handles := make([]string, len(summaries))
	for i, s := range summaries {
		handles[i] = s.Handle
	}
	msg := []byte(BatchDecryptDomain + strings.Join(handles, "|"))
	sig := ed25519.Sign(priv, msg)

	details, err := log.DecryptAll(context.Background(), owner, pub, sig)
	require.NoError(t, err)
	require.Len(t, details, 3)
}

func TestDecryptAllRejectsSignatureOverStaleHandleSet(t *testing.T) {
	log := newTestLog(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	owner := "0xSTALE"

	require.NoError(t, log.Append(context.Background(), owner, Details{SessionID: "only", Owner: owner}))
	staleSig := ed25519.Sign(priv, []byte(BatchDecryptDomain))

	_, err = log.DecryptAll(context.Background(), owner, pub, staleSig)
	require.Error(t, err)
	require.Equal(t, gwerr.InvalidSignature, gwerr.CodeOf(err))
}
