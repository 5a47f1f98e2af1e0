// Package orchestrator implements OrchestratorAPI (SPEC_FULL.md §4.8): HTTP
// routing for the request surface of spec.md §6, with schema validation,
// owner-signature verification, KeyVault/PaymentEngine/AuditLog delegation,
// and gwerr-to-status mapping, grounded on the corpus's gorilla/mux +
// middleware-chain service pattern.
package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aegix-network/gateway/internal/auditlog"
	"github.com/aegix-network/gateway/internal/budgetledger"
	"github.com/aegix-network/gateway/internal/chainadapter"
	"github.com/aegix-network/gateway/internal/keyvault"
	"github.com/aegix-network/gateway/internal/metrics"
	"github.com/aegix-network/gateway/internal/paymentengine"
	"github.com/aegix-network/gateway/internal/store"
	"github.com/aegix-network/gateway/pkg/logger"
)

// Deps bundles every component OrchestratorAPI routes requests to.
type Deps struct {
	Vault   *keyvault.Vault
	Ledger  *budgetledger.Ledger
	Chain   chainadapter.Adapter
	Engine  *paymentengine.Engine
	Audit   *auditlog.Log
	Log     *logger.Logger
	Sessions *store.PaymentStore

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Token is the gateway's configured payable asset symbol/mint, passed
	// through to ChainAdapter calls (spec.md §6 "usdc_mint").
	Token string

	// Liquidity thresholds and session bounds, sourced from internal/config
	// (spec.md §4.6.4, §9 "Dynamic configuration maps").
	MinStandardNative      int64
	MinRecoveryNative      int64
	MinRecoveryDeposit     int64
	SessionDefaultDuration time.Duration
	SessionMaxDuration     time.Duration

	// MetricsEnabled registers /metrics on this router (spec.md §9 "Dynamic
	// configuration maps" feature flags; SPEC_FULL.md §C).
	MetricsEnabled bool
}

// Server wraps the configured *mux.Router and exposes Start/Stop, grounded
// on the corpus's service-lifecycle pattern (internal/marble, cmd/*/main.go).
type Server struct {
	deps   Deps
	router *mux.Router
	http   *http.Server
}

// NewServer builds a Server with every route of spec.md §6 registered.
func NewServer(deps Deps, addr string) *Server {
	r := mux.NewRouter()
	h := &handlers{deps: deps}

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	if deps.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/pool.init", h.poolInit).Methods(http.MethodPost)
	api.HandleFunc("/pool.get", h.poolGet).Methods(http.MethodPost)
	api.HandleFunc("/pool.fund", h.poolFund).Methods(http.MethodPost)
	api.HandleFunc("/pool.confirm_funding", h.poolConfirmFunding).Methods(http.MethodPost)
	api.HandleFunc("/pool.top_up", h.poolTopUp).Methods(http.MethodPost)
	api.HandleFunc("/pool.withdraw", h.poolWithdraw).Methods(http.MethodPost)
	api.HandleFunc("/pool.shield", h.poolShield).Methods(http.MethodPost)
	api.HandleFunc("/pool.pay", h.poolPay).Methods(http.MethodPost)
	api.HandleFunc("/pool.history", h.poolHistory).Methods(http.MethodPost)
	api.HandleFunc("/pool.export_key", h.poolExportKey).Methods(http.MethodPost)
	api.HandleFunc("/session.create", h.sessionCreate).Methods(http.MethodPost)
	api.HandleFunc("/session.revoke", h.sessionRevoke).Methods(http.MethodPost)
	api.HandleFunc("/audit.sessions", h.auditSessions).Methods(http.MethodPost)
	api.HandleFunc("/audit.decrypt", h.auditDecrypt).Methods(http.MethodPost)
	api.HandleFunc("/recovery.status", h.recoveryStatus).Methods(http.MethodPost)
	api.HandleFunc("/recovery.create_and_fund", h.recoveryCreateAndFund).Methods(http.MethodPost)
	api.HandleFunc("/recovery.validate", h.recoveryValidate).Methods(http.MethodPost)

	r.Use(RecoveryMiddleware(deps.Log))
	r.Use(LoggingMiddleware(deps.Log))
	r.Use(RateLimitMiddleware(deps.RateLimitEnabled, deps.RateLimitRequests, deps.RateLimitWindow))
	if deps.MetricsEnabled {
		r.Use(metrics.InstrumentHandler)
	}

	return &Server{
		deps:   deps,
		router: r,
		http: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.deps.Log.Component("orchestrator").WithField("addr", s.http.Addr).Info("starting http server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the underlying router so cmd/gateway can register
// operator-only debug routes gated by its own admin-allowlist check
// (EnableDebugEndpoints) without NewServer needing to know about roles.
func (s *Server) Router() *mux.Router { return s.router }

// Deps exposes the server's dependency bundle for the same reason.
func (s *Server) Deps() Deps { return s.deps }
