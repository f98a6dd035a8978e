package audit

import (
	"context"
	"time"
)

type Action string

const (
	ActionLoginSuccess Action = "admin_login_success"
	ActionLoginFailed  Action = "admin_login_failed"
	ActionAccessDenied Action = "admin_access_denied"
	ActionLogout       Action = "admin_logout"
)

func (a Action) Valid() bool {
	switch a {
	case ActionLoginSuccess, ActionLoginFailed, ActionAccessDenied, ActionLogout:
		return true
	}
	return false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Entry is one append-only security event. ActorID is nil when no identity is known.
type Entry struct {
	ID        string         `json:"id"`
	ActorID   *string        `json:"actorId"`
	Action    Action         `json:"action"`
	Resource  string         `json:"resource"`
	Details   map[string]any `json:"details"`
	Severity  Severity       `json:"severity"`
	IPAddress string         `json:"ipAddress"`
	UserAgent string         `json:"userAgent"`
	CreatedAt time.Time      `json:"createdAt"`
}

type FailedLoginAttempt struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	IPAddress   string    `json:"ipAddress"`
	UserAgent   string    `json:"userAgent"`
	Provider    string    `json:"provider"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// Filter narrows a query. Zero values mean "any".
type Filter struct {
	ActorID string
	Action  Action
	Since   time.Time
}

// Store is the durable side of the audit trail. It has no update or delete by id.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	AppendFailedLogin(ctx context.Context, attempt FailedLoginAttempt) error
	Query(ctx context.Context, filter Filter, limit int) ([]Entry, error)
	RecentFailedLogins(ctx context.Context, since time.Time, limit int) ([]FailedLoginAttempt, error)
	CountFailedLoginsSince(ctx context.Context, identifier string, since time.Time) (int, error)
}

// ActorRef returns a pointer suitable for Entry.ActorID, or nil for an empty id.
func ActorRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
