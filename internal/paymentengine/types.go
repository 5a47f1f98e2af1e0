// Package paymentengine drives the Standard Burner and Maximum-Privacy
// Two-Step Burner state machines (SPEC_FULL.md §4.6), orchestrating
// ChainAdapter, BurnerFactory, and BudgetLedger.
package paymentengine

import "time"

// Method enumerates the two payment routes.
type Method string

const (
	Standard       Method = "Standard"
	MaximumPrivacy Method = "MaximumPrivacy"
)

// Status enumerates PaymentSession.status (spec.md §3).
type Status string

const (
	Pending     Status = "Pending"
	InProgress  Status = "InProgress"
	Completed   Status = "Completed"
	Failed      Status = "Failed"
	WaitingIndex Status = "WaitingIndex" // paused in M2_WaitIndex, recoverable
)

// Session is the persisted PaymentSession record (spec.md §3).
type Session struct {
	SessionID        string
	OwnerAddress     string
	PoolAddress      string
	RecipientAddress string
	Amount           int64
	Method           Method
	Status           Status

	BurnerPubkey string
	BurnerSecret []byte // persisted with the session on every flush; cleared when a Maximum-Privacy session completes (spec.md §4.6.3 M4)

	TxFundingNative string
	TxFundingToken  string
	TxPayment       string
	TxHop           string
	TxRecovery      string

	NativeFunded    int64
	NativeRecovered int64

	ErrorCode string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Shortfall describes one insufficient-balance dimension (spec.md §4.6.4).
type Shortfall struct {
	Dimension string
	Have      int64
	Required  int64
	Shortfall int64
}

// RecoveryDescriptor lets a caller or scheduled job resume a paused
// Maximum-Privacy session (spec.md §4.6.3 M2_WaitIndex, §8 scenario E4).
type RecoveryDescriptor struct {
	SessionID     string
	Burner        string
	CompressedHop string
	Amount        int64
}

// CostEstimate answers get_cost_estimate (spec.md §4.6 public surface).
type CostEstimate struct {
	PerTxNative      int64
	MultiplierVsStandard float64
}
