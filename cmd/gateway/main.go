// Command gateway runs the non-custodial privacy gateway: it wires
// CipherStore, KeyVault, BudgetLedger, ChainAdapter, BurnerFactory,
// AuditLog, and PaymentEngine behind OrchestratorAPI and a CleanupScheduler,
// grounded on the corpus's cmd/*/main.go wiring + graceful-shutdown pattern.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/aegix-network/gateway/internal/auditlog"
	"github.com/aegix-network/gateway/internal/budgetledger"
	"github.com/aegix-network/gateway/internal/burnerfactory"
	"github.com/aegix-network/gateway/internal/chainadapter"
	"github.com/aegix-network/gateway/internal/cipherstore"
	"github.com/aegix-network/gateway/internal/cleanup"
	"github.com/aegix-network/gateway/internal/config"
	"github.com/aegix-network/gateway/internal/keyvault"
	"github.com/aegix-network/gateway/internal/orchestrator"
	"github.com/aegix-network/gateway/internal/paymentengine"
	"github.com/aegix-network/gateway/internal/platform/migrations"
	"github.com/aegix-network/gateway/internal/store"
	"github.com/aegix-network/gateway/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	loadAdminAllowlistsFromEnv()

	pg, err := store.Open(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBIdleTimeout)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := migrations.Apply(ctx, pg.DB()); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	masterSecret, err := resolveMasterSecret(cfg)
	if err != nil {
		return err
	}
	cs, err := cipherstore.New(cipherstore.Config{
		MasterSecret: masterSecret,
		Mode:         cfg.CryptoBackend,
		UsageLog:     cipherstore.NewMemoryUsageLog(),
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("init cipherstore: %w", err)
	}

	vault := keyvault.New(keyvault.Config{
		Store:  pg,
		Cipher: cs,
		Audit:  &componentAuditSink{log: log},
		Logger: log,
	})
	if err := vault.ReloadLockedOnRestart(ctx); err != nil {
		return fmt.Errorf("relock pools on restart: %w", err)
	}

	ledger := budgetledger.New(pg, log)

	chain, err := buildChainAdapter(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init chain adapter: %w", err)
	}

	burners := burnerfactory.New(pg)
	audit := auditlog.New(pg, cs)
	sessions := store.NewPaymentStore(pg)

	engine := paymentengine.New(vault, ledger, chain, burners, audit, sessions, paymentengine.Config{
		MinStandardNative:   cfg.MinStandardNative,
		MinRecoveryNative:   cfg.MinRecoveryNative,
		MinRecoveryDeposit:  cfg.MinRecoveryDeposit,
		IndexerPollAttempts: 10,
		IndexerPollInterval: 2 * time.Second,
		Token:               "USDC",
	}, log)

	srv := orchestrator.NewServer(orchestrator.Deps{
		Vault:                  vault,
		Ledger:                 ledger,
		Chain:                  chain,
		Engine:                 engine,
		Audit:                  audit,
		Log:                    log,
		Sessions:               sessions,
		RateLimitEnabled:       cfg.RateLimitEnabled,
		RateLimitRequests:      cfg.RateLimitRequests,
		RateLimitWindow:        cfg.RateLimitWindow,
		Token:                  "USDC",
		MinStandardNative:      cfg.MinStandardNative,
		MinRecoveryNative:      cfg.MinRecoveryNative,
		MinRecoveryDeposit:     cfg.MinRecoveryDeposit,
		SessionDefaultDuration: cfg.SessionDefaultDuration,
		SessionMaxDuration:     cfg.SessionMaxDuration,
		MetricsEnabled:         cfg.MetricsEnabled,
	}, fmt.Sprintf(":%d", cfg.GatewayPort))

	if cfg.EnableDebugEndpoints {
		registerDebugRoutes(srv, engine, log)
	}

	sweeper := cleanup.New(cleanup.Deps{
		Vault:    vault,
		Ledger:   ledger,
		Engine:   engine,
		Sessions: sessions,
		Chain:    chain,
		Log:      log,
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Component("gateway").Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func resolveMasterSecret(cfg *config.Config) ([]byte, error) {
	if cfg.CryptoMasterSecretHex == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("CRYPTO_MASTER_SECRET is required")
		}
		// Deterministic dev-only placeholder; never reached in production
		// because Validate() already rejected an empty secret there.
		return []byte("AEGIX-DEV-ONLY-MASTER-SECRET-32B"), nil
	}
	secret, err := hex.DecodeString(cfg.CryptoMasterSecretHex)
	if err != nil {
		return nil, fmt.Errorf("CRYPTO_MASTER_SECRET must be hex: %w", err)
	}
	return secret, nil
}

func buildChainAdapter(ctx context.Context, cfg *config.Config, log *logger.Logger) (chainadapter.Adapter, error) {
	if cfg.TestMode {
		return chainadapter.NewFake(cfg.PaymentExpiryBlocks), nil
	}
	var tokenHash util.Uint160
	if cfg.TokenScriptHashHex != "" {
		h, err := util.Uint160DecodeStringLE(cfg.TokenScriptHashHex)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_SCRIPT_HASH: %w", err)
		}
		tokenHash = h
	}
	return chainadapter.New(ctx, chainadapter.Config{
		RPCURL:              cfg.ChainRPCURL,
		LightRPCURL:         cfg.LightRPCURL,
		PaymentExpiryBlocks: cfg.PaymentExpiryBlocks,
		TokenScriptHash:     tokenHash,
		Logger:              log,
	})
}

// componentAuditSink adapts the structured logger to keyvault.AuditSink for
// pool-lifecycle events that are operationally relevant but not part of the
// owner-decryptable payment AuditLog (spec.md §4.2 "audit events").
type componentAuditSink struct {
	log *logger.Logger
}

func (a *componentAuditSink) LogEvent(_ context.Context, ownerAddress, kind string, details map[string]any) {
	fields := map[string]any{"owner": ownerAddress, "kind": kind}
	for k, v := range details {
		fields[k] = v
	}
	a.log.Component("keyvault.audit").WithFields(fields).Info(kind)
}

// registerDebugRoutes adds an operator-only route for manually retrying a
// Maximum-Privacy session stuck in WaitingIndex, gated by the admin
// allowlist rather than owner signatures (EnableDebugEndpoints, spec.md §9
// "Dynamic configuration maps" feature flags).
func registerDebugRoutes(srv *orchestrator.Server, engine *paymentengine.Engine, log *logger.Logger) {
	srv.Router().HandleFunc("/debug/resume_payment", func(w http.ResponseWriter, r *http.Request) {
		if resolveUserRole(r.Header.Get("X-User-Id")) == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			http.Error(w, "session_id required", http.StatusBadRequest)
			return
		}
		session, err := engine.ResumeMaximumPrivacy(r.Context(), sessionID)
		if err != nil {
			log.Component("gateway.debug").WithField("session_id", sessionID).WithField("err", err.Error()).Warn("manual resume failed")
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, "session %s status=%s\n", session.SessionID, session.Status)
	}).Methods(http.MethodPost)
}
