// Package cleanup implements CleanupScheduler (SPEC_FULL.md §4.9): a
// periodic sweep that retries indexer-slow Maximum-Privacy payments, prunes
// idle per-session mutexes, and recovers burner rent left behind by a
// payment whose close step failed, grounded on the corpus's robfig/cron
// scheduled-job pattern.
package cleanup

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aegix-network/gateway/internal/budgetledger"
	"github.com/aegix-network/gateway/internal/chainadapter"
	"github.com/aegix-network/gateway/internal/keyvault"
	"github.com/aegix-network/gateway/internal/metrics"
	"github.com/aegix-network/gateway/internal/paymentengine"
	"github.com/aegix-network/gateway/pkg/logger"
)

// Deps bundles the components CleanupScheduler sweeps.
type Deps struct {
	Vault    *keyvault.Vault
	Ledger   *budgetledger.Ledger
	Engine   *paymentengine.Engine
	Sessions paymentengine.Store
	Chain    chainadapter.Adapter
	Log      *logger.Logger
}

// Scheduler drives the 60s sweep (spec.md §4.9).
type Scheduler struct {
	deps Deps
	cron *cron.Cron
}

// New constructs a Scheduler; call Start to begin the 60s sweep.
func New(deps Deps) *Scheduler {
	return &Scheduler{deps: deps, cron: cron.New()}
}

// Start registers the sweep and begins running it every 60 seconds.
func (s *Scheduler) Start(ctx context.Context) {
	_, _ = s.cron.AddFunc("@every 60s", func() { s.sweep(ctx) })
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.CleanupSweepDuration.Observe(time.Since(start).Seconds()) }()

	log := s.deps.Log.Component("cleanup")

	s.deps.Ledger.PruneMutexes(time.Now().Add(-10 * time.Minute))

	waiting, err := s.deps.Sessions.ListByStatus(ctx, paymentengine.WaitingIndex)
	if err != nil {
		log.WithField("err", err.Error()).Warn("list waiting-index sessions failed")
	}
	for _, sess := range waiting {
		if _, err := s.deps.Engine.ResumeMaximumPrivacy(ctx, sess.SessionID); err != nil {
			log.WithField("session_id", sess.SessionID).WithField("err", err.Error()).Warn("indexer-slow retry still pending")
		} else {
			log.WithField("session_id", sess.SessionID).Info("indexer-slow session recovered")
		}
	}

	completed, err := s.deps.Sessions.ListByStatus(ctx, paymentengine.Completed)
	if err != nil {
		log.WithField("err", err.Error()).Warn("list completed sessions failed")
		return
	}
	for _, sess := range completed {
		if sess.TxRecovery != "" || len(sess.BurnerSecret) != ed25519.PrivateKeySize {
			continue
		}
		s.recoverBurnerRent(ctx, sess)
	}
}

// recoverBurnerRent retries S3_CloseBurner/M4_CloseBurner for a completed
// session whose rent-recovery transaction never landed (spec.md §4.6.2 S3:
// "Rent recovery failure does not fail the payment itself").
func (s *Scheduler) recoverBurnerRent(ctx context.Context, sess *paymentengine.Session) {
	log := s.deps.Log.Component("cleanup")
	secret := ed25519.PrivateKey(sess.BurnerSecret)

	tx, err := s.deps.Chain.BuildCloseBurnerAccount(ctx, secret, sess.PoolAddress, "USDC")
	if err != nil {
		log.WithField("session_id", sess.SessionID).WithField("err", err.Error()).Warn("build burner close failed")
		return
	}
	sig, err := s.deps.Chain.SubmitAndConfirm(ctx, tx)
	if err != nil {
		log.WithField("session_id", sess.SessionID).WithField("err", err.Error()).Warn("burner close retry failed")
		return
	}
	sess.TxRecovery = sig
	if err := s.deps.Sessions.Put(ctx, sess); err != nil {
		log.WithField("session_id", sess.SessionID).WithField("err", err.Error()).Warn("persist recovered rent failed")
		return
	}
	log.WithField("session_id", sess.SessionID).Info("stranded burner rent recovered")
}
