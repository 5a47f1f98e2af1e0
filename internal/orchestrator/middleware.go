package orchestrator

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aegix-network/gateway/pkg/logger"
)

// LoggingMiddleware logs method, path, status, and latency for every request
// (spec.md §7 "no errors are swallowed silently" extends to transport-level
// observability).
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Component("orchestrator").WithFields(map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware converts a panicking handler into a logged 500 instead
// of taking down the whole process.
func RecoveryMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Component("orchestrator").WithField("panic", rec).Error("handler panic recovered")
					writeError(w, http.StatusInternalServerError, "Unknown", "internal error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// perOwnerLimiter hands out a token-bucket rate.Limiter per owner address,
// per SPEC_FULL.md §C "rate limiting per owner" on mutating routes.
type perOwnerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newPerOwnerLimiter(requestsPerWindow int, window time.Duration) *perOwnerLimiter {
	rps := rate.Limit(float64(requestsPerWindow) / window.Seconds())
	return &perOwnerLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    requestsPerWindow,
	}
}

func (p *perOwnerLimiter) allow(owner string) bool {
	p.mu.Lock()
	l, ok := p.limiters[owner]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[owner] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

// RateLimitMiddleware enforces perOwnerLimiter on mutating requests, keyed by
// the "owner" field of the JSON body when present, falling back to remote
// addr for routes without an owner (spec.md §6 request surface).
func RateLimitMiddleware(enabled bool, requestsPerWindow int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newPerOwnerLimiter(requestsPerWindow, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := ownerFromContext(r.Context())
			if key == "" && r.Body != nil {
				if body, err := io.ReadAll(r.Body); err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					var probe struct {
						Owner string `json:"owner"`
					}
					if json.Unmarshal(body, &probe) == nil {
						key = probe.Owner
					}
				}
			}
			if key == "" {
				key = r.RemoteAddr
			}
			if !limiter.allow(key) {
				writeError(w, http.StatusTooManyRequests, "Busy", "rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
