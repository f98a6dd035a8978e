package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"cyberfolio/internal/audit"
	"cyberfolio/internal/observability"
)

// Gate composes the authentication and admin checks for protected routes.
type Gate struct {
	sessions  *SessionManager
	policy    AdminPolicy
	recorder  *audit.Recorder
	logger    *observability.Logger
	loginPage string
	forbidden string
}

func NewGate(sessions *SessionManager, policy AdminPolicy, recorder *audit.Recorder, logger *observability.Logger, loginPage, forbidden string) *Gate {
	return &Gate{
		sessions:  sessions,
		policy:    policy,
		recorder:  recorder,
		logger:    logger,
		loginPage: loginPage,
		forbidden: forbidden,
	}
}

func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := g.sessions.Get(r.Context(), g.sessions.TokenFromRequest(r))
		if err != nil {
			if errors.Is(err, ErrNoSession) {
				g.unauthenticated(w, r)
				return
			}
			g.storeUnavailable(w, r, err)
			return
		}

		ctx := WithPrincipal(r.Context(), Principal{
			Identity:         session.Identity,
			IsAdmin:          session.IsAdmin,
			SessionCreatedAt: session.CreatedAt,
			SessionExpiresAt: session.ExpiresAt,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin trusts only the admin flag fixed at session creation. Every denial of an
// authenticated principal writes one admin_access_denied entry.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			g.unauthenticated(w, r)
			return
		}
		if principal.IsAdmin {
			next.ServeHTTP(w, r)
			return
		}

		_, reason := g.policy.Evaluate(principal.Identity)
		if reason == "" {
			reason = ReasonUnauthorizedIdentity
		}

		g.recorder.Record(r.Context(), audit.Entry{
			ActorID:  audit.ActorRef(principal.Identity.ID),
			Action:   audit.ActionAccessDenied,
			Resource: r.URL.Path,
			Severity: audit.SeverityWarning,
			Details: map[string]any{
				"identifier": principal.Identity.Identifier,
				"role":       string(principal.Identity.Role),
				"path":       r.URL.Path,
				"method":     r.Method,
				"reason":     string(reason),
			},
			IPAddress: observability.ClientIP(r),
			UserAgent: r.UserAgent(),
		})

		if !isAPIPath(r) {
			http.Redirect(w, r, g.forbidden, http.StatusFound)
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":      "Admin access required",
			"code":       CodeForbiddenAdmin,
			"redirectTo": g.forbidden,
		})
	})
}

func (g *Gate) Admin(next http.Handler) http.Handler {
	return g.RequireAuth(g.RequireAdmin(next))
}

func (g *Gate) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if !isAPIPath(r) {
		http.Redirect(w, r, g.loginPage, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":      "Authentication required",
		"code":       CodeUnauthenticated,
		"redirectTo": g.loginPage,
	})
}

func (g *Gate) storeUnavailable(w http.ResponseWriter, r *http.Request, err error) {
	g.logger.Error("session_store_unavailable", map[string]any{
		"path":  r.URL.Path,
		"error": err.Error(),
	})
	sentry.CaptureException(err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "Session store unavailable",
		"code":  CodeStoreUnavailable,
	})
}

func isAPIPath(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
