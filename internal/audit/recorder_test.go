package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cyberfolio/internal/observability"
)

func newTestRecorder(store Store, logs *bytes.Buffer) *Recorder {
	recorder := NewRecorder(store, observability.NewLoggerTo(logs))
	recorder.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return recorder
}

func TestRecordStampsAndPersists(t *testing.T) {
	store := &memoryStore{}
	recorder := newTestRecorder(store, &bytes.Buffer{})

	entry := recorder.Record(context.Background(), Entry{
		ActorID:  ActorRef("admin_user"),
		Action:   ActionLoginSuccess,
		Resource: "/api/auth/login",
	})

	require.NotEmpty(t, entry.ID)
	require.Equal(t, SeverityInfo, entry.Severity)
	require.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), entry.CreatedAt)
	require.Len(t, store.entries, 1)
	require.Equal(t, entry.ID, store.entries[0].ID)
}

func TestRecordSurvivesCancelledRequestContext(t *testing.T) {
	store := &memoryStore{}
	recorder := newTestRecorder(store, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recorder.Record(ctx, Entry{Action: ActionLogout})

	require.Len(t, store.entries, 1)
	require.NoError(t, store.writeErr)
}

func TestRecordFailureGoesToFallbackLog(t *testing.T) {
	store := &memoryStore{appendErr: errors.New("db down")}
	var logs bytes.Buffer
	recorder := newTestRecorder(store, &logs)

	entry := recorder.Record(context.Background(), Entry{
		Action:   ActionAccessDenied,
		Severity: SeverityWarning,
		Details:  map[string]any{"reason": "insufficient_role"},
	})

	require.Equal(t, ActionAccessDenied, entry.Action)
	require.Empty(t, store.entries)
	require.Contains(t, logs.String(), "audit_write_failed")
	require.Contains(t, logs.String(), "insufficient_role")
	require.Contains(t, logs.String(), "db down")
}

func TestRecordFailedLoginDefaultsProvider(t *testing.T) {
	store := &memoryStore{}
	recorder := newTestRecorder(store, &bytes.Buffer{})

	attempt := recorder.RecordFailedLogin(context.Background(), FailedLoginAttempt{Identifier: "admin", IPAddress: "1.2.3.4"})

	require.Equal(t, "admin", attempt.Provider)
	require.NotEmpty(t, attempt.ID)
	count, err := recorder.CountFailedLoginsSince(context.Background(), "admin", attempt.AttemptedAt.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestQueryReturnsNewestFirstAndClampsLimit(t *testing.T) {
	store := &memoryStore{}
	recorder := newTestRecorder(store, &bytes.Buffer{})
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		recorder.Record(context.Background(), Entry{
			Action:    ActionLoginFailed,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	entries, err := recorder.Query(context.Background(), Filter{Action: ActionLoginFailed}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.True(t, entries[0].CreatedAt.After(entries[2].CreatedAt))

	require.Equal(t, defaultQueryLimit, clampLimit(0))
	require.Equal(t, maxQueryLimit, clampLimit(10_000))
	require.Equal(t, 7, clampLimit(7))
}

func TestActionValid(t *testing.T) {
	require.True(t, ActionLogout.Valid())
	require.False(t, Action("admin_password_reset").Valid())
}
