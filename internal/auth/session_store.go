package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionStore persists sessions keyed by the hash of their opaque id.
type SessionStore interface {
	Insert(ctx context.Context, idHash string, session Session) error
	Get(ctx context.Context, idHash string, now time.Time) (Session, error)
	Delete(ctx context.Context, idHash string) (bool, error)
}

type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

// Insert never overwrites: a colliding hash fails on the primary key.
func (s *PostgresSessionStore) Insert(ctx context.Context, idHash string, session Session) error {
	snapshot, err := json.Marshal(session.Identity)
	if err != nil {
		return fmt.Errorf("encode session identity: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (id_hash, identity, is_admin, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, idHash, string(snapshot), session.IsAdmin, session.CreatedAt.UTC(), session.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// Get returns ErrNoSession for unknown and expired rows alike.
func (s *PostgresSessionStore) Get(ctx context.Context, idHash string, now time.Time) (Session, error) {
	var session Session
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT identity, is_admin, created_at, expires_at
		FROM auth_sessions
		WHERE id_hash = $1 AND expires_at > $2
	`, idHash, now.UTC()).Scan(&snapshot, &session.IsAdmin, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNoSession
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}

	if err := json.Unmarshal(snapshot, &session.Identity); err != nil {
		return Session{}, fmt.Errorf("decode session identity: %w", err)
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()

	return session, nil
}

func (s *PostgresSessionStore) Delete(ctx context.Context, idHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id_hash = $1`, idHash)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session rows affected: %w", err)
	}

	return affected > 0, nil
}

// DeleteExpired removes at most batchSize sessions that expired before now.
func (s *PostgresSessionStore) DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id_hash
			FROM auth_sessions
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM auth_sessions t
		USING stale
		WHERE t.id_hash = stale.id_hash
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired sessions rows affected: %w", err)
	}

	return affected, nil
}
