// Package chainadapter defines the narrow interface over a programmable-
// ledger RPC required by PaymentEngine (SPEC_FULL.md §4.4), plus a
// neo-go-backed concrete implementation and an in-memory fake for tests.
package chainadapter

import (
	"context"
	"crypto/ed25519"
)

// HealthStatus is returned by health_check.
type HealthStatus struct {
	Healthy     bool
	IndexerSlot uint64
	Error       string
}

// SignedTransaction is an opaque, ledger-native signed transaction blob
// ready for submission.
type SignedTransaction struct {
	Raw       []byte
	Signature string // populated once confirmed
}

// CompressedTransferResult is returned by BuildCompressedTransfer.
type CompressedTransferResult struct {
	Tx        *SignedTransaction
	ProofHash string
}

// Adapter is the capability set required by PaymentEngine (spec.md §4.4).
// All transaction builders set a validity window bounded by
// PAYMENT_EXPIRY_BLOCKS from the current height.
type Adapter interface {
	GetBalance(ctx context.Context, address string) (int64, error)
	GetTokenBalance(ctx context.Context, address, token string) (int64, error)
	GetCompressedBalance(ctx context.Context, address, token string) (int64, error)

	// BuildFundBurner funds a freshly minted burner so it can pay its own
	// fees and receive amount tokens (spec.md §4.6.2 S1_FundBurner):
	// nativeAmount covers one tx fee plus one token-account rent,
	// tokenAmount is the payment amount being relayed through the burner.
	BuildFundBurner(ctx context.Context, from ed25519.PrivateKey, burnerPub ed25519.PublicKey, nativeAmount, tokenAmount int64, token string) (*SignedTransaction, error)
	// BuildCloseBurnerAccount closes the burner's token account and
	// transfers residual native dust back to recipient, recovering rent
	// (spec.md §4.6.2 S3_CloseBurner).
	BuildCloseBurnerAccount(ctx context.Context, burner ed25519.PrivateKey, rentRecipient string, token string) (*SignedTransaction, error)

	BuildStandardPayment(ctx context.Context, from ed25519.PrivateKey, to string, amount int64, feePayer ed25519.PrivateKey) (*SignedTransaction, error)
	BuildCompress(ctx context.Context, from ed25519.PrivateKey, amount int64, token string) (*SignedTransaction, error)
	BuildCompressedTransfer(ctx context.Context, from ed25519.PrivateKey, to string, amount int64, token string) (*CompressedTransferResult, error)
	BuildDecompressAndTransfer(ctx context.Context, burner, feePayer ed25519.PrivateKey, recipient string, amount int64, token string) (*SignedTransaction, error)

	SubmitAndConfirm(ctx context.Context, tx *SignedTransaction) (string, error)
	LatestBlockhash(ctx context.Context) (blockhash string, lastValidHeight uint64, err error)
	HealthCheck(ctx context.Context) (HealthStatus, error)
}
