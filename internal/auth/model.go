package auth

import (
	"context"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Identity is the stored principal. Role is informational at request time;
// the admin decision lives on the Session.
type Identity struct {
	ID          string     `json:"id"`
	Identifier  string     `json:"identifier"`
	DisplayName string     `json:"displayName"`
	Email       string     `json:"email,omitempty"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// SafeIdentity is what clients are allowed to see about the signed-in principal.
type SafeIdentity struct {
	Identifier  string     `json:"identifier"`
	DisplayName string     `json:"displayName"`
	Email       string     `json:"email,omitempty"`
	Role        Role       `json:"role"`
	IsAdmin     bool       `json:"isAdmin"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

type Session struct {
	ID        string
	Identity  Identity
	IsAdmin   bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s Session) SafeIdentity() SafeIdentity {
	return SafeIdentity{
		Identifier:  s.Identity.Identifier,
		DisplayName: s.Identity.DisplayName,
		Email:       s.Identity.Email,
		Role:        s.Identity.Role,
		IsAdmin:     s.IsAdmin,
		LastLoginAt: s.Identity.LastLoginAt,
	}
}

// Principal is built once per request by RequireAuth and carried in the request context.
type Principal struct {
	Identity         Identity
	IsAdmin          bool
	SessionCreatedAt time.Time
	SessionExpiresAt time.Time
}

func (p Principal) SafeIdentity() SafeIdentity {
	return Session{Identity: p.Identity, IsAdmin: p.IsAdmin}.SafeIdentity()
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(Principal)
	return principal, ok
}
