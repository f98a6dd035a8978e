package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(ctx context.Context, entry Entry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, resource, details, severity, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, nullableString(entry.ActorID), string(entry.Action), entry.Resource, string(encoded),
		string(entry.Severity), entry.IPAddress, entry.UserAgent, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

func (r *Repository) AppendFailedLogin(ctx context.Context, attempt FailedLoginAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO failed_login_attempts (id, identifier, ip_address, user_agent, provider, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, attempt.ID, attempt.Identifier, attempt.IPAddress, attempt.UserAgent, attempt.Provider, attempt.AttemptedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert failed login attempt: %w", err)
	}

	return nil
}

func (r *Repository) Query(ctx context.Context, filter Filter, limit int) ([]Entry, error) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conditions = append(conditions, "actor_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		conditions = append(conditions, "action = $"+strconv.Itoa(len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		conditions = append(conditions, "created_at >= $"+strconv.Itoa(len(args)))
	}

	query := `
		SELECT id, actor_id, action, resource, details, severity, ip_address, user_agent, created_at
		FROM audit_logs`
	if len(conditions) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += "\n\t\tORDER BY created_at DESC, id DESC\n\t\tLIMIT $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var entry Entry
		var actorID sql.NullString
		var action, severity string
		var details []byte
		if err := rows.Scan(&entry.ID, &actorID, &action, &entry.Resource, &details, &severity,
			&entry.IPAddress, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if actorID.Valid {
			entry.ActorID = &actorID.String
		}
		entry.Action = Action(action)
		entry.Severity = Severity(severity)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entry.Details = map[string]any{}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}

	return entries, nil
}

func (r *Repository) RecentFailedLogins(ctx context.Context, since time.Time, limit int) ([]FailedLoginAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identifier, ip_address, user_agent, provider, attempted_at
		FROM failed_login_attempts
		WHERE attempted_at >= $1
		ORDER BY attempted_at DESC, id DESC
		LIMIT $2
	`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query failed login attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]FailedLoginAttempt, 0)
	for rows.Next() {
		var attempt FailedLoginAttempt
		if err := rows.Scan(&attempt.ID, &attempt.Identifier, &attempt.IPAddress, &attempt.UserAgent,
			&attempt.Provider, &attempt.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan failed login attempt: %w", err)
		}
		attempt.AttemptedAt = attempt.AttemptedAt.UTC()
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed login attempts: %w", err)
	}

	return attempts, nil
}

func (r *Repository) CountFailedLoginsSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM failed_login_attempts
		WHERE lower(identifier) = lower($1) AND attempted_at >= $2
	`, identifier, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed login attempts: %w", err)
	}

	return count, nil
}

// PurgeEntriesBefore deletes at most batchSize entries created before cutoff.
// Age is the only criterion; it is the sole delete path for audit_logs.
func (r *Repository) PurgeEntriesBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM audit_logs
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM audit_logs t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale audit logs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale audit logs rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) PurgeFailedLoginsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM failed_login_attempts
			WHERE attempted_at < $1
			ORDER BY attempted_at ASC
			LIMIT $2
		)
		DELETE FROM failed_login_attempts t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale failed login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale failed login attempts rows affected: %w", err)
	}

	return affected, nil
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
