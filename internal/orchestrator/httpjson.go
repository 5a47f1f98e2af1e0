package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aegix-network/gateway/internal/gwerr"
)

type ctxKey string

const ownerCtxKey ctxKey = "owner"

func withOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerCtxKey, owner)
}

func ownerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ownerCtxKey).(string)
	return v
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorResponse{Code: code, Message: message, Details: details})
}

// writeGatewayError maps a *gwerr.Error (or an opaque error, wrapped as
// Unknown) to its transport status code, per spec.md §7 and §4.8 step 5.
// Nothing is ever silently dropped: an unrecognized error still surfaces as
// a loud Unknown rather than a bare 500 with no body.
func writeGatewayError(w http.ResponseWriter, err error) {
	ge, ok := gwerr.As(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, string(gwerr.Unknown), err.Error(), nil)
		return
	}
	writeError(w, statusForCode(ge.Code), string(ge.Code), ge.Message, ge.Details)
}

func statusForCode(code gwerr.Code) int {
	switch code {
	case gwerr.InvalidArgument, gwerr.InvalidHandle:
		return http.StatusBadRequest
	case gwerr.InvalidSignature, gwerr.PermissionDenied, gwerr.SecurityError:
		return http.StatusForbidden
	case gwerr.PoolLocked, gwerr.NeedsReauth:
		return http.StatusConflict
	case gwerr.InsufficientFunds:
		return http.StatusUnprocessableEntity
	case gwerr.LightUnavailable:
		return http.StatusServiceUnavailable
	case gwerr.IndexerSlow:
		return http.StatusAccepted
	case gwerr.LockTimeout, gwerr.Busy:
		return http.StatusTooManyRequests
	case gwerr.TxFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
