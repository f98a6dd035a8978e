package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cyberfolio/internal/observability"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultQueryLimit   = 100
	maxQueryLimit       = 500
)

// Recorder appends to the audit trail on behalf of request handlers. A failed write never
// reaches the caller; it goes to the process log and Sentry instead.
type Recorder struct {
	store        Store
	logger       *observability.Logger
	writeTimeout time.Duration
	now          func() time.Time
}

func NewRecorder(store Store, logger *observability.Logger) *Recorder {
	return &Recorder{
		store:        store,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Record stamps and persists entry and returns the stamped value whether or not the write succeeded.
// The write is detached from ctx cancellation so a client disconnect cannot drop it.
func (r *Recorder) Record(ctx context.Context, entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.store.Append(writeCtx, entry); err != nil {
		fields := map[string]any{
			"audit_id":   entry.ID,
			"action":     string(entry.Action),
			"resource":   entry.Resource,
			"severity":   string(entry.Severity),
			"details":    entry.Details,
			"ip":         entry.IPAddress,
			"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
			"error":      err.Error(),
		}
		if entry.ActorID != nil {
			fields["actor_id"] = *entry.ActorID
		}
		r.logger.Error("audit_write_failed", fields)
		observability.CaptureError(err, map[string]string{"component": "audit", "action": string(entry.Action)})
	}

	return entry
}

func (r *Recorder) RecordFailedLogin(ctx context.Context, attempt FailedLoginAttempt) FailedLoginAttempt {
	if attempt.ID == "" {
		attempt.ID = newID()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = r.now()
	}
	if attempt.Provider == "" {
		attempt.Provider = "admin"
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.store.AppendFailedLogin(writeCtx, attempt); err != nil {
		r.logger.Error("failed_login_write_failed", map[string]any{
			"attempt_id": attempt.ID,
			"identifier": attempt.Identifier,
			"ip":         attempt.IPAddress,
			"error":      err.Error(),
		})
		observability.CaptureError(err, map[string]string{"component": "audit"})
	}

	return attempt
}

func (r *Recorder) Query(ctx context.Context, filter Filter, limit int) ([]Entry, error) {
	return r.store.Query(ctx, filter, clampLimit(limit))
}

func (r *Recorder) RecentFailedLogins(ctx context.Context, since time.Time, limit int) ([]FailedLoginAttempt, error) {
	return r.store.RecentFailedLogins(ctx, since, clampLimit(limit))
}

func (r *Recorder) CountFailedLoginsSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	return r.store.CountFailedLoginsSince(ctx, identifier, since)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
