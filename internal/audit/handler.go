package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	defaultFailedLoginHours = 24
	defaultMaxLookback      = 30 * 24 * time.Hour
)

type Handler struct {
	recorder    *Recorder
	maxLookback time.Duration
	now         func() time.Time
}

// NewHandler serves the audit reports. maxLookback caps how far back the failed-login report
// reaches; nothing older survives retention anyway.
func NewHandler(recorder *Recorder, maxLookback time.Duration) *Handler {
	if maxLookback < time.Hour {
		maxLookback = defaultMaxLookback
	}
	return &Handler{
		recorder:    recorder,
		maxLookback: maxLookback,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ListEntries serves GET /api/admin/audit-logs?actor=&action=&since=&limit=.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := Filter{ActorID: strings.TrimSpace(query.Get("actor"))}
	if raw := strings.TrimSpace(query.Get("action")); raw != "" {
		action := Action(raw)
		if !action.Valid() {
			writeError(w, http.StatusBadRequest, "unknown audit action")
			return
		}
		filter.Action = action
	}
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}

	limit, ok := parsePositiveInt(query.Get("limit"), defaultQueryLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	entries, err := h.recorder.Query(r.Context(), filter, limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load audit logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// ListFailedLogins serves GET /api/admin/failed-logins?hours=&limit=&identifier=.
// With identifier set the response also carries that identifier's total for the window.
func (h *Handler) ListFailedLogins(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	hours, ok := parsePositiveInt(query.Get("hours"), defaultFailedLoginHours)
	if !ok {
		writeError(w, http.StatusBadRequest, "hours must be a positive integer")
		return
	}
	if maxHours := int(h.maxLookback / time.Hour); hours > maxHours {
		hours = maxHours
	}
	limit, ok := parsePositiveInt(query.Get("limit"), defaultQueryLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	since := h.now().Add(-time.Duration(hours) * time.Hour)
	attempts, err := h.recorder.RecentFailedLogins(r.Context(), since, limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load failed logins")
		return
	}

	body := map[string]any{
		"attempts": attempts,
		"count":    len(attempts),
		"since":    since,
	}

	if identifier := strings.TrimSpace(query.Get("identifier")); identifier != "" {
		total, err := h.recorder.CountFailedLoginsSince(r.Context(), identifier, since)
		if err != nil {
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to count failed logins")
			return
		}
		body["identifier"] = identifier
		body["identifierCount"] = total
	}

	writeJSON(w, http.StatusOK, body)
}

func parsePositiveInt(raw string, fallback int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
