package chainadapter

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegix-network/gateway/internal/gwerr"
)

func TestFakeStandardPaymentInsufficientFunds(t *testing.T) {
	f := NewFake(50)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, err = f.BuildStandardPayment(context.Background(), priv, "recipient", 100, priv)
	require.Error(t, err)
	require.Equal(t, gwerr.InsufficientFunds, gwerr.CodeOf(err))
}

func TestFakeCompressThenTransferRequiresIndexerCatchUp(t *testing.T) {
	f := NewFake(50)
	f.IndexerDelayBlocks = 3
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr := addrOf(priv)
	f.SetTokenBalance(addr, 1000)

	ctx := context.Background()
	_, err = f.BuildCompress(ctx, priv, 500, "USDC")
	require.NoError(t, err)

	bal, err := f.GetCompressedBalance(ctx, addr, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(0), bal, "compressed balance must not be visible before indexer catches up")

	f.AdvanceHeight(3)
	bal, err = f.GetCompressedBalance(ctx, addr, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(500), bal)
}

func TestFakeDecompressAndTransferRequiresFeePayerNativeBalance(t *testing.T) {
	f := NewFake(50)
	_, burner, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, feePayer, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	burnerAddr := addrOf(burner)
	f.SetTokenBalance(burnerAddr, 0)
	_, err = f.BuildCompress(context.Background(), burner, 0, "USDC")
	_ = err // not exercised; balance seeded directly below
	f.compressedBalances[burnerAddr] = 200

	_, err = f.BuildDecompressAndTransfer(context.Background(), burner, feePayer, "recipient", 200, "USDC")
	require.Error(t, err)
	require.Equal(t, gwerr.InsufficientFunds, gwerr.CodeOf(err))

	f.SetBalance(addrOf(feePayer), 1)
	tx, err := f.BuildDecompressAndTransfer(context.Background(), burner, feePayer, "recipient", 200, "USDC")
	require.NoError(t, err)
	require.NotNil(t, tx)
}

func TestFakeLatestBlockhashHonorsExpiryBlocks(t *testing.T) {
	f := NewFake(50)
	_, lastValid, err := f.LatestBlockhash(context.Background())
	require.NoError(t, err)
	require.Equal(t, f.height+50, lastValid)
}

func TestFakeHealthCheckReflectsOutage(t *testing.T) {
	f := NewFake(50)
	f.SetHealthy(false)
	status, err := f.HealthCheck(context.Background())
	require.NoError(t, err)
	require.False(t, status.Healthy)
}
