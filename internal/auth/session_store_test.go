package auth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockSessionStore(t *testing.T) (*PostgresSessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresSessionStore(db), mock
}

func TestPostgresSessionStoreInsert(t *testing.T) {
	store, mock := newMockSessionStore(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO auth_sessions").
		WithArgs("hash", sqlmock.AnyArg(), true, created, created.Add(24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Insert(context.Background(), "hash", Session{
		Identity:  adminIdentity(),
		IsAdmin:   true,
		CreatedAt: created,
		ExpiresAt: created.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSessionStoreGet(t *testing.T) {
	store, mock := newMockSessionStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id_hash = $1 AND expires_at > $2")).
		WithArgs("hash", now).
		WillReturnRows(sqlmock.NewRows([]string{"identity", "is_admin", "created_at", "expires_at"}).
			AddRow([]byte(`{"id":"admin_user","identifier":"admin","role":"admin","isActive":true}`), true, now.Add(-time.Hour), now.Add(23*time.Hour)))

	session, err := store.Get(context.Background(), "hash", now)
	require.NoError(t, err)
	require.True(t, session.IsAdmin)
	require.Equal(t, "admin_user", session.Identity.ID)
	require.Equal(t, RoleAdmin, session.Identity.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSessionStoreGetMissing(t *testing.T) {
	store, mock := newMockSessionStore(t)

	mock.ExpectQuery("FROM auth_sessions").
		WillReturnRows(sqlmock.NewRows([]string{"identity", "is_admin", "created_at", "expires_at"}))

	_, err := store.Get(context.Background(), "nope", time.Now())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestPostgresSessionStoreDelete(t *testing.T) {
	store, mock := newMockSessionStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM auth_sessions WHERE id_hash = $1")).
		WithArgs("hash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := store.Delete(context.Background(), "hash")
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSessionStoreDeleteExpired(t *testing.T) {
	store, mock := newMockSessionStore(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("WHERE expires_at <= $1")).
		WithArgs(now, 500).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := store.DeleteExpired(context.Background(), now, 500)
	require.NoError(t, err)
	require.EqualValues(t, 7, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
