package maintenance

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"cyberfolio/internal/observability"
)

func newTestCleanupHandler(secret string) (*CleanupHandler, *fakePurger) {
	purger := &fakePurger{batches: []int64{3}}
	cleaner := NewCleaner(observability.NewLoggerTo(&bytes.Buffer{}), 100, Target{Name: "audit_logs", Purge: purger.Purge})
	return NewCleanupHandler(cleaner, secret), purger
}

func TestCleanupHandlerHiddenWithoutSecret(t *testing.T) {
	handler, purger := newTestCleanupHandler("")

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Zero(t, purger.callCount())
}

func TestCleanupHandlerRejectsWrongSecret(t *testing.T) {
	handler, purger := newTestCleanupHandler("cron-secret")

	for _, header := range []string{"", "Bearer nope", "Basic cron-secret"} {
		req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.Handle(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
	require.Zero(t, purger.callCount())
}

func TestCleanupHandlerRuns(t *testing.T) {
	handler, purger := newTestCleanupHandler("cron-secret")

	req := httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","result":{"audit_logs":3}}`, rec.Body.String())
	require.Equal(t, 1, purger.callCount())
}

func TestCleanupHandlerMethodNotAllowed(t *testing.T) {
	handler, _ := newTestCleanupHandler("cron-secret")

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodDelete, "/internal/maintenance/cleanup", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
