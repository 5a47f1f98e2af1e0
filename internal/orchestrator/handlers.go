package orchestrator

import (
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/aegix-network/gateway/internal/gwerr"
	"github.com/aegix-network/gateway/internal/keyvault"
	"github.com/aegix-network/gateway/internal/paymentengine"
)

// handlers implements every route registered by NewServer. Each method
// decodes its request, verifies an owner signature where spec.md §6
// requires one, delegates to the relevant component, and maps the result
// (or error, via writeGatewayError) to a JSON response.
type handlers struct {
	deps Deps
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	status, err := h.deps.Chain.HealthCheck(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"healthy": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"healthy": status.Healthy, "indexer_slot": status.IndexerSlot})
}

// signedRequest is embedded by every request that must carry an
// owner-attested challenge (spec.md §6 "owner, signature, message" triples).
// timestamp is additional to the table in spec.md §6: verifyOwnerSignature's
// clock-skew bound needs it, and it travels alongside signature rather than
// being folded into the opaque "message" field.
type signedRequest struct {
	Owner     string `json:"owner"`
	OwnerPub  string `json:"owner_pubkey"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

func (s signedRequest) decode() (ed25519.PublicKey, []byte, error) {
	pub, err := hex.DecodeString(s.OwnerPub)
	if err != nil {
		return nil, nil, gwerr.New(gwerr.InvalidArgument, "owner_pubkey must be hex")
	}
	sig, err := hex.DecodeString(s.Signature)
	if err != nil {
		return nil, nil, gwerr.New(gwerr.InvalidArgument, "signature must be hex")
	}
	return ed25519.PublicKey(pub), sig, nil
}

// --- pool.init ---

type poolInitRequest struct {
	signedRequest
}

func (h *handlers) poolInit(w http.ResponseWriter, r *http.Request) {
	var req poolInitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	ownerPub, sig, err := req.decode()
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	pool, needsReauth, err := h.deps.Vault.GetOrCreatePool(r.Context(), req.Owner, ownerPub, req.Timestamp, sig)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id":      pool.PoolID,
		"pool_address": pool.PublicKey,
		"is_new":       pool.Status == keyvault.PoolCreated && !needsReauth,
		"needs_reauth": needsReauth,
	})
}

// --- pool.get ---

type poolGetRequest struct {
	Owner string `json:"owner"`
}

func (h *handlers) poolGet(w http.ResponseWriter, r *http.Request) {
	var req poolGetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}

	pool, err := h.deps.Vault.GetOrCreatePoolLookup(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, string(gwerr.InvalidArgument), "no pool for owner", nil)
		return
	}

	tokenBal, err := h.deps.Chain.GetTokenBalance(r.Context(), pool.PublicKey, h.deps.Token)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id":      pool.PoolID,
		"pool_address": pool.PublicKey,
		"status":       pool.Status,
		"balance":      tokenBal,
		"needs_reauth": pool.Status == keyvault.PoolLocked,
	})
}

// --- pool.fund / pool.top_up (client-signed, unsigned descriptor) ---

// unsignedTransfer is the descriptor a client wallet signs and submits
// itself (spec.md §6 "Client signs and submits; server later observes
// confirmation"). ChainAdapter has no generic unsigned-transfer builder
// since every other builder signs with a server-held key; this is
// assembled directly from LatestBlockhash.
type unsignedTransfer struct {
	To              string `json:"to"`
	NativeAmount    int64  `json:"native_amount,omitempty"`
	TokenAmount     int64  `json:"token_amount,omitempty"`
	Token           string `json:"token"`
	BlockHash       string `json:"block_hash"`
	ValidUntilBlock uint64 `json:"valid_until_block"`
}

type poolFundRequest struct {
	Owner  string `json:"owner"`
	Amount int64  `json:"amount"`
}

func (h *handlers) poolFund(w http.ResponseWriter, r *http.Request) {
	var req poolFundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	pool, err := h.deps.Vault.GetOrCreatePoolLookup(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, string(gwerr.InvalidArgument), "no pool for owner", nil)
		return
	}
	descriptor, err := h.buildUnsignedDeposit(r, pool.PublicKey, req.Amount, h.deps.Engine.GetCostEstimate(paymentengine.Standard).PerTxNative)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unsigned_tx": descriptor})
}

type poolTopUpRequest struct {
	Owner     string `json:"owner"`
	AddNative int64  `json:"add_native"`
	AddToken  int64  `json:"add_token"`
}

func (h *handlers) poolTopUp(w http.ResponseWriter, r *http.Request) {
	var req poolTopUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	pool, err := h.deps.Vault.GetOrCreatePoolLookup(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, string(gwerr.InvalidArgument), "no pool for owner", nil)
		return
	}
	descriptor, err := h.buildUnsignedDeposit(r, pool.PublicKey, req.AddToken, req.AddNative)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unsigned_tx": descriptor})
}

func (h *handlers) buildUnsignedDeposit(r *http.Request, to string, tokenAmount, nativeAmount int64) (*unsignedTransfer, error) {
	blockhash, lastValid, err := h.deps.Chain.LatestBlockhash(r.Context())
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Unknown, "fetch latest blockhash", err)
	}
	return &unsignedTransfer{
		To:              to,
		TokenAmount:     tokenAmount,
		NativeAmount:    nativeAmount,
		Token:           h.deps.Token,
		BlockHash:       blockhash,
		ValidUntilBlock: lastValid,
	}, nil
}

// --- pool.confirm_funding ---

type poolConfirmFundingRequest struct {
	Owner       string `json:"owner"`
	TxSignature string `json:"tx_signature"`
}

func (h *handlers) poolConfirmFunding(w http.ResponseWriter, r *http.Request) {
	var req poolConfirmFundingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	pool, err := h.deps.Vault.GetOrCreatePoolLookup(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, string(gwerr.InvalidArgument), "no pool for owner", nil)
		return
	}
	if req.TxSignature == "" {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "tx_signature required", nil)
		return
	}

	pool, err = h.deps.Vault.MarkFunded(r.Context(), pool.PoolID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	balance, err := h.deps.Chain.GetTokenBalance(r.Context(), pool.PublicKey, h.deps.Token)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

// --- pool.withdraw ---

type poolWithdrawRequest struct {
	Owner  string `json:"owner"`
	Native int64  `json:"native"`
	Token  int64  `json:"token"`
}

func (h *handlers) poolWithdraw(w http.ResponseWriter, r *http.Request) {
	var req poolWithdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	pool, err := h.deps.Vault.GetOrCreatePoolLookup(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, string(gwerr.InvalidArgument), "no pool for owner", nil)
		return
	}

	nativeBal, err := h.deps.Chain.GetBalance(r.Context(), pool.PublicKey)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if nativeBal-req.Native < h.deps.MinStandardNative {
		writeGatewayError(w, gwerr.New(gwerr.InsufficientFunds, "withdrawal would breach minimum native reserve"))
		return
	}

	var txSig string
	err = h.deps.Vault.WithPoolSecret(pool.PoolID, func(secret []byte) error {
		amount := req.Token
		if amount == 0 {
			amount = req.Native
		}
		tx, err := h.deps.Chain.BuildStandardPayment(r.Context(), ed25519.PrivateKey(secret), req.Owner, amount, ed25519.PrivateKey(secret))
		if err != nil {
			return err
		}
		txSig, err = h.deps.Chain.SubmitAndConfirm(r.Context(), tx)
		return err
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tx_signature": txSig})
}

// --- pool.shield ---

type poolShieldRequest struct {
	Owner  string `json:"owner"`
	PoolID string `json:"pool_id"`
	Amount int64  `json:"amount"`
}

func (h *handlers) poolShield(w http.ResponseWriter, r *http.Request) {
	var req poolShieldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	health, err := h.deps.Chain.HealthCheck(r.Context())
	if err != nil || !health.Healthy {
		writeGatewayError(w, gwerr.New(gwerr.LightUnavailable, "compression indexer unhealthy"))
		return
	}
	pool, err := h.deps.Vault.GetPoolByID(r.Context(), req.PoolID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if pool == nil || pool.OwnerAddress != req.Owner {
		writeError(w, http.StatusNotFound, string(gwerr.InvalidArgument), "no such pool for owner", nil)
		return
	}

	var txSig string
	err = h.deps.Vault.WithPoolSecret(pool.PoolID, func(secret []byte) error {
		tx, err := h.deps.Chain.BuildCompress(r.Context(), ed25519.PrivateKey(secret), req.Amount, h.deps.Token)
		if err != nil {
			return err
		}
		txSig, err = h.deps.Chain.SubmitAndConfirm(r.Context(), tx)
		return err
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	compressedBal, err := h.deps.Chain.GetCompressedBalance(r.Context(), pool.PublicKey, h.deps.Token)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tx_signature": txSig, "compressed_balance": compressedBal})
}

// --- pool.pay ---

type poolPayRequest struct {
	Owner         string `json:"owner"`
	Recipient     string `json:"recipient"`
	Amount        int64  `json:"amount"`
	UseCompressed bool   `json:"use_compressed"`
	SessionID     string `json:"session_id,omitempty"` // idempotent retry, per spec.md §8 E4
}

func (h *handlers) poolPay(w http.ResponseWriter, r *http.Request) {
	var req poolPayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}

	if req.SessionID != "" {
		if existing, err := h.deps.Sessions.Get(r.Context(), req.SessionID); err == nil && existing != nil && existing.Status == paymentengine.WaitingIndex {
			session, err := h.deps.Engine.ResumeMaximumPrivacy(r.Context(), req.SessionID)
			h.writePaySession(w, session, err)
			return
		}
	}

	pool, err := h.deps.Vault.GetOrCreatePoolLookup(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, string(gwerr.InvalidArgument), "no pool for owner", nil)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.Owner + ":" + req.Recipient
	}

	var session *paymentengine.Session
	if req.UseCompressed {
		session, err = h.deps.Engine.ExecuteMaximumPrivacy(r.Context(), pool, sessionID, req.Recipient, req.Amount)
	} else {
		session, err = h.deps.Engine.ExecuteStandard(r.Context(), pool, sessionID, req.Recipient, req.Amount)
	}
	h.writePaySession(w, session, err)
}

func (h *handlers) writePaySession(w http.ResponseWriter, session *paymentengine.Session, err error) {
	if session == nil {
		writeGatewayError(w, err)
		return
	}
	if err != nil && gwerr.CodeOf(err) == gwerr.IndexerSlow {
		ge, _ := gwerr.As(err)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"session_id": session.SessionID,
			"method":     session.Method,
			"status":     session.Status,
			"details":    ge.Details,
		})
		return
	}
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	privacy := "standard"
	if session.Method == paymentengine.MaximumPrivacy {
		privacy = "maximum"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   session.SessionID,
		"tx_signature": session.TxPayment,
		"method":       session.Method,
		"privacy":      privacy,
	})
}

// --- pool.history ---

type poolHistoryRequest struct {
	Owner string `json:"owner"`
}

// pool.history is served from AuditLog.List rather than a dedicated
// owner-scoped PaymentStore query: AuditLog.Summary already carries every
// field spec.md §6's session_summary needs (method, status, tx count,
// created_at) without adding a second owner index to paymentengine.Store.
func (h *handlers) poolHistory(w http.ResponseWriter, r *http.Request) {
	var req poolHistoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	summaries, err := h.deps.Audit.List(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// --- pool.export_key ---

type poolExportKeyRequest struct {
	signedRequest
}

func (h *handlers) poolExportKey(w http.ResponseWriter, r *http.Request) {
	var req poolExportKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	ownerPub, sig, err := req.decode()
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	pool, err := h.deps.Vault.GetOrCreatePoolLookup(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, string(gwerr.InvalidArgument), "no pool for owner", nil)
		return
	}
	secret, err := h.deps.Vault.ExportPoolKey(r.Context(), pool.PoolID, req.Owner, ownerPub, req.Timestamp, sig)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"private_key": hex.EncodeToString(secret)})
}

// --- session.create ---

type sessionCreateRequest struct {
	signedRequest
	MaxPerTx    int64         `json:"max_per_tx"`
	DailyLimit  int64         `json:"daily_limit"`
	DurationSec int64         `json:"duration_seconds"`
}

func (h *handlers) sessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	ownerPub, sig, err := req.decode()
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	duration := time.Duration(req.DurationSec) * time.Second
	if duration <= 0 {
		duration = h.deps.SessionDefaultDuration
	}
	sk, err := h.deps.Vault.CreateSessionKey(r.Context(), req.Owner, ownerPub, req.Timestamp, sig, req.MaxPerTx, req.DailyLimit, duration, h.deps.SessionMaxDuration)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sk.SessionID,
		"public_key":  sk.PublicKey,
		"expires_at":  sk.ExpiresAt,
		"max_per_tx":  sk.MaxPerTx,
		"daily_limit": sk.DailyLimit,
	})
}

// --- session.revoke ---

type sessionRevokeRequest struct {
	signedRequest
	SessionID string `json:"session_id"`
}

func (h *handlers) sessionRevoke(w http.ResponseWriter, r *http.Request) {
	var req sessionRevokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	ownerPub, sig, err := req.decode()
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if err := h.deps.Vault.RevokeSessionKey(r.Context(), req.SessionID, req.Owner, ownerPub, req.Timestamp, sig); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- audit.sessions ---

type auditSessionsRequest struct {
	Owner string `json:"owner"`
}

func (h *handlers) auditSessions(w http.ResponseWriter, r *http.Request) {
	var req auditSessionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	summaries, err := h.deps.Audit.List(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// --- audit.decrypt ---

type auditDecryptRequest struct {
	signedRequest
	SessionID string `json:"session_id,omitempty"`
}

func (h *handlers) auditDecrypt(w http.ResponseWriter, r *http.Request) {
	var req auditDecryptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	ownerPub, sig, err := req.decode()
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	if req.SessionID != "" {
		details, err := h.deps.Audit.DecryptOne(r.Context(), req.SessionID, req.Owner, ownerPub, sig)
		if err != nil {
			writeGatewayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, details)
		return
	}

	all, err := h.deps.Audit.DecryptAll(r.Context(), req.Owner, ownerPub, sig)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// --- recovery.status ---

type recoveryStatusRequest struct {
	Owner string `json:"owner"`
}

func (h *handlers) recoveryStatus(w http.ResponseWriter, r *http.Request) {
	var req recoveryStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	rp, err := h.deps.Vault.GetRecoveryPool(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if rp == nil {
		writeJSON(w, http.StatusOK, map[string]any{"balance": 0, "is_healthy": false, "is_locked": false})
		return
	}
	health, err := h.deps.Chain.HealthCheck(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	balance, err := h.deps.Chain.GetBalance(r.Context(), rp.Address)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":    rp.Address,
		"balance":    balance,
		"is_healthy": health.Healthy,
		"is_locked":  balance < rp.MinRequiredNative,
	})
}

// --- recovery.create_and_fund ---

type recoveryCreateAndFundRequest struct {
	signedRequest
	Amount int64 `json:"amount"`
}

func (h *handlers) recoveryCreateAndFund(w http.ResponseWriter, r *http.Request) {
	var req recoveryCreateAndFundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	ownerPub, sig, err := req.decode()
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	rp, err := h.deps.Vault.GetOrCreateRecoveryPool(r.Context(), req.Owner, ownerPub, req.Timestamp, sig, h.deps.MinRecoveryDeposit)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	descriptor, err := h.buildUnsignedDeposit(r, rp.Address, 0, req.Amount)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": rp.Address, "unsigned_tx": descriptor})
}

// --- recovery.validate ---

type recoveryValidateRequest struct {
	Owner string `json:"owner"`
}

func (h *handlers) recoveryValidate(w http.ResponseWriter, r *http.Request) {
	var req recoveryValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerr.InvalidArgument), "malformed request body", nil)
		return
	}
	rp, err := h.deps.Vault.GetRecoveryPool(r.Context(), req.Owner)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if rp == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"can_execute_payment": false,
			"shortfall":           paymentengine.Shortfall{Dimension: "recovery_pool", Required: h.deps.MinRecoveryDeposit},
		})
		return
	}
	balance, err := h.deps.Chain.GetBalance(r.Context(), rp.Address)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if balance < h.deps.MinRecoveryNative {
		writeJSON(w, http.StatusOK, map[string]any{
			"can_execute_payment": false,
			"shortfall": paymentengine.Shortfall{
				Dimension: "recovery_native",
				Have:      balance,
				Required:  h.deps.MinRecoveryNative,
				Shortfall: h.deps.MinRecoveryNative - balance,
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"can_execute_payment": true})
}
