package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cyberfolio/internal/observability"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, time.Duration, int) (Decision, error) {
	return Decision{}, errors.New("store down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareReturns429WithRetryAfter(t *testing.T) {
	policy := Policy{Name: "api", Max: 2, Window: time.Minute}
	handler := Middleware(NewMemoryLimiter(), policy, ClientKey(policy), observability.NewLoggerTo(&bytes.Buffer{}), okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/blog", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		handler.ServeHTTP(rec, req)
	}

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(60), body["retryAfter"])
	require.Equal(t, "RATE_LIMITED", body["code"])
}

func TestMiddlewareFailsOpenOnStoreError(t *testing.T) {
	var logs bytes.Buffer
	policy := Policy{Name: "api", Max: 1, Window: time.Minute}
	handler := Middleware(failingLimiter{}, policy, ClientKey(policy), observability.NewLoggerTo(&logs), okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/blog", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, logs.String(), "rate_limit_check_failed")
}

func TestClientKeyUsesPolicyAndIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:3000"
	req.Header.Set("X-Forwarded-For", "10.1.2.3")
	require.Equal(t, "api:198.51.100.1", ClientKey(Policy{Name: "api"})(req))
}
