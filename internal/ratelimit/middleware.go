package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"cyberfolio/internal/observability"
)

type KeyFunc func(r *http.Request) string

// ClientKey keys traffic by the policy name and the caller's address.
func ClientKey(policy Policy) KeyFunc {
	return func(r *http.Request) string {
		return policy.Name + ":" + observability.ClientIP(r)
	}
}

// Middleware enforces policy on every request. A limiter error lets the request through
// and is logged, so use it only for traffic where availability beats strictness.
func Middleware(limiter Limiter, policy Policy, key KeyFunc, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := limiter.Allow(r.Context(), key(r), policy.Window, policy.Max)
		if err != nil {
			logger.Error("rate_limit_check_failed", map[string]any{
				"policy": policy.Name,
				"path":   r.URL.Path,
				"error":  err.Error(),
			})
			observability.CaptureError(err, map[string]string{"component": "ratelimit"})
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			WriteLimited(w, decision, "Too many requests, please try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WriteLimited writes the 429 response with the Retry-After header and a retryAfter hint in seconds.
func WriteLimited(w http.ResponseWriter, decision Decision, message string) {
	retryAfter := RetryAfterSeconds(decision.RetryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":    false,
		"error":      message,
		"code":       "RATE_LIMITED",
		"retryAfter": retryAfter,
	})
}
