package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type IdentityStore interface {
	UpsertLogin(ctx context.Context, identity Identity, at time.Time) (Identity, error)
}

var ErrIdentityNotFound = errors.New("identity not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const identityColumns = `id, identifier, display_name, email, role, is_active, last_login_at, created_at, updated_at`

// UpsertLogin creates the identity on first login and bumps last_login_at afterwards.
// Role and is_active are never changed by a login.
func (r *Repository) UpsertLogin(ctx context.Context, identity Identity, at time.Time) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO admin_identities (id, identifier, display_name, email, role, is_active, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6, $6)
		ON CONFLICT (id) DO UPDATE
		SET
			identifier = EXCLUDED.identifier,
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			last_login_at = EXCLUDED.last_login_at,
			updated_at = EXCLUDED.updated_at
		RETURNING `+identityColumns,
		identity.ID, identity.Identifier, identity.DisplayName, nullableEmail(identity.Email), string(identity.Role), at.UTC())

	stored, err := scanIdentity(row)
	if err != nil {
		return Identity{}, fmt.Errorf("upsert admin identity: %w", err)
	}

	return stored, nil
}

// FindConflicting returns a stored identity that would make UpsertLogin for (referenceID, identifier)
// violate a unique index: another admin row, or another row holding the identifier.
func (r *Repository) FindConflicting(ctx context.Context, referenceID, identifier string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+`
		FROM admin_identities
		WHERE id <> $1 AND (role = 'admin' OR identifier = $2)
		ORDER BY created_at
		LIMIT 1
	`, referenceID, identifier)

	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("query conflicting identity: %w", err)
	}

	return identity, nil
}

func scanIdentity(row *sql.Row) (Identity, error) {
	var identity Identity
	var email sql.NullString
	var role string
	var lastLogin sql.NullTime

	if err := row.Scan(&identity.ID, &identity.Identifier, &identity.DisplayName, &email, &role,
		&identity.IsActive, &lastLogin, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		return Identity{}, err
	}

	identity.Role = Role(role)
	if email.Valid {
		identity.Email = email.String
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		identity.LastLoginAt = &value
	}
	identity.CreatedAt = identity.CreatedAt.UTC()
	identity.UpdatedAt = identity.UpdatedAt.UTC()

	return identity, nil
}

func nullableEmail(email string) any {
	if email == "" {
		return nil
	}
	return email
}
