package chainadapter

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/aegix-network/gateway/internal/gwerr"
)

// Fake is an in-memory Adapter backing PaymentEngine tests without a real
// network or indexer (SPEC_FULL.md §A.5). Balances are keyed by address;
// compressed balances are tracked separately to model the eventual-
// consistency gap between a compress tx landing and the indexer picking
// it up (spec.md §3 LightIndexer, §8 property 8).
type Fake struct {
	mu sync.Mutex

	balances           map[string]int64
	tokenBalances      map[string]int64
	compressedBalances map[string]int64
	height             uint64
	expiryBlocks       uint32

	healthy    bool
	failSubmit bool

	// IndexerDelayBlocks models how many blocks of height (advanced by
	// AdvanceHeight and SubmitAndConfirm) must pass after a compressed
	// deposit before it becomes visible via GetCompressedBalance,
	// simulating indexer lag.
	IndexerDelayBlocks uint64
	pendingCompressed  map[string][]pendingEntry
}

type pendingEntry struct {
	amount      int64
	visibleAtH uint64
}

// NewFake constructs a Fake with sane defaults.
func NewFake(expiryBlocks uint32) *Fake {
	return &Fake{
		balances:           make(map[string]int64),
		tokenBalances:      make(map[string]int64),
		compressedBalances: make(map[string]int64),
		pendingCompressed:  make(map[string][]pendingEntry),
		height:             1000,
		expiryBlocks:       expiryBlocks,
		healthy:            true,
	}
}

// SetBalance seeds a native balance for tests.
func (f *Fake) SetBalance(addr string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = amount
}

// SetTokenBalance seeds a token balance for tests.
func (f *Fake) SetTokenBalance(addr string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenBalances[addr] = amount
}

// AdvanceHeight simulates block production, making any pending compressed
// entries whose visibility height has passed show up in GetCompressedBalance.
func (f *Fake) AdvanceHeight(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height += n
}

// SetHealthy toggles health_check outcome.
func (f *Fake) SetHealthy(h bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = h
}

// SetFailSubmit forces SubmitAndConfirm to fail, modeling a TxFailed path.
func (f *Fake) SetFailSubmit(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSubmit = fail
}

func addrOf(priv ed25519.PrivateKey) string {
	pub := priv.Public().(ed25519.PublicKey)
	return fmt.Sprintf("addr_%x", pub)
}

func (f *Fake) GetBalance(_ context.Context, addr string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[addr], nil
}

func (f *Fake) GetTokenBalance(_ context.Context, addr, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenBalances[addr], nil
}

func (f *Fake) GetCompressedBalance(_ context.Context, addr, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drainPendingLocked(addr)
	return f.compressedBalances[addr], nil
}

func (f *Fake) drainPendingLocked(addr string) {
	pending := f.pendingCompressed[addr]
	if len(pending) == 0 {
		return
	}
	remaining := pending[:0]
	for _, p := range pending {
		if f.height >= p.visibleAtH {
			f.compressedBalances[addr] += p.amount
		} else {
			remaining = append(remaining, p)
		}
	}
	f.pendingCompressed[addr] = remaining
}

func (f *Fake) BuildFundBurner(_ context.Context, from ed25519.PrivateKey, burnerPub ed25519.PublicKey, nativeAmount, tokenAmount int64, _ string) (*SignedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fromAddr := addrOf(from)
	burnerAddr := fmt.Sprintf("addr_%x", burnerPub)
	if f.balances[fromAddr] < nativeAmount {
		return nil, gwerr.New(gwerr.InsufficientFunds, "insufficient native balance to fund burner")
	}
	if f.tokenBalances[fromAddr] < tokenAmount {
		return nil, gwerr.New(gwerr.InsufficientFunds, "insufficient token balance to fund burner")
	}
	f.balances[fromAddr] -= nativeAmount
	f.balances[burnerAddr] += nativeAmount
	f.tokenBalances[fromAddr] -= tokenAmount
	f.tokenBalances[burnerAddr] += tokenAmount
	return f.fakeTx("fund_burner", fromAddr, burnerAddr, tokenAmount), nil
}

func (f *Fake) BuildCloseBurnerAccount(_ context.Context, burner ed25519.PrivateKey, rentRecipient string, _ string) (*SignedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	burnerAddr := addrOf(burner)
	residualToken := f.tokenBalances[burnerAddr]
	residualNative := f.balances[burnerAddr]
	f.tokenBalances[rentRecipient] += residualToken
	f.balances[rentRecipient] += residualNative
	f.tokenBalances[burnerAddr] = 0
	f.balances[burnerAddr] = 0
	return f.fakeTx("close_burner", burnerAddr, rentRecipient, residualToken), nil
}

func (f *Fake) BuildStandardPayment(_ context.Context, from ed25519.PrivateKey, to string, amount int64, _ ed25519.PrivateKey) (*SignedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fromAddr := addrOf(from)
	if f.tokenBalances[fromAddr] < amount {
		return nil, gwerr.New(gwerr.InsufficientFunds, "insufficient token balance")
	}
	f.tokenBalances[fromAddr] -= amount
	f.tokenBalances[to] += amount
	return f.fakeTx("standard_payment", fromAddr, to, amount), nil
}

func (f *Fake) BuildCompress(_ context.Context, from ed25519.PrivateKey, amount int64, _ string) (*SignedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fromAddr := addrOf(from)
	if f.tokenBalances[fromAddr] < amount {
		return nil, gwerr.New(gwerr.InsufficientFunds, "insufficient token balance to compress")
	}
	f.tokenBalances[fromAddr] -= amount
	f.pendingCompressed[fromAddr] = append(f.pendingCompressed[fromAddr], pendingEntry{
		amount:     amount,
		visibleAtH: f.height + f.IndexerDelayBlocks,
	})
	return f.fakeTx("compress", fromAddr, fromAddr, amount), nil
}

func (f *Fake) BuildCompressedTransfer(_ context.Context, from ed25519.PrivateKey, to string, amount int64, _ string) (*CompressedTransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fromAddr := addrOf(from)
	f.drainPendingLocked(fromAddr)
	if f.compressedBalances[fromAddr] < amount {
		return nil, gwerr.New(gwerr.InsufficientFunds, "insufficient compressed balance")
	}
	f.compressedBalances[fromAddr] -= amount
	f.compressedBalances[to] += amount
	tx := f.fakeTx("compressed_transfer", fromAddr, to, amount)
	proof := sha256.Sum256([]byte(fmt.Sprintf("%s->%s:%d:%d", fromAddr, to, amount, f.height)))
	return &CompressedTransferResult{Tx: tx, ProofHash: fmt.Sprintf("%x", proof)}, nil
}

func (f *Fake) BuildDecompressAndTransfer(_ context.Context, burner, feePayer ed25519.PrivateKey, recipient string, amount int64, _ string) (*SignedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	burnerAddr := addrOf(burner)
	f.drainPendingLocked(burnerAddr)
	if f.compressedBalances[burnerAddr] < amount {
		return nil, gwerr.New(gwerr.InsufficientFunds, "insufficient compressed balance to decompress")
	}
	feePayerAddr := addrOf(feePayer)
	if f.balances[feePayerAddr] <= 0 {
		return nil, gwerr.New(gwerr.InsufficientFunds, "fee payer has no native balance for fees")
	}
	f.compressedBalances[burnerAddr] -= amount
	f.tokenBalances[recipient] += amount
	return f.fakeTx("decompress_and_transfer", burnerAddr, recipient, amount), nil
}

func (f *Fake) fakeTx(kind, from, to string, amount int64) *SignedTransaction {
	raw := []byte(fmt.Sprintf("%s|%s|%s|%d|h%d", kind, from, to, amount, f.height))
	return &SignedTransaction{Raw: raw}
}

func (f *Fake) SubmitAndConfirm(_ context.Context, tx *SignedTransaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubmit {
		return "", gwerr.New(gwerr.TxFailed, "simulated submission failure")
	}
	sig := sha256.Sum256(tx.Raw)
	f.height++
	return fmt.Sprintf("%x", sig), nil
}

func (f *Fake) LatestBlockhash(_ context.Context) (string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := sha256.Sum256([]byte(fmt.Sprintf("block-%d", f.height)))
	return fmt.Sprintf("%x", hash), f.height + uint64(f.expiryBlocks), nil
}

func (f *Fake) HealthCheck(_ context.Context) (HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return HealthStatus{Healthy: false, Error: "simulated RPC outage"}, nil
	}
	return HealthStatus{Healthy: true, IndexerSlot: f.height}, nil
}

var _ Adapter = (*Fake)(nil)
