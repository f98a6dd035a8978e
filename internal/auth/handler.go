package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"cyberfolio/internal/config"
	"cyberfolio/internal/observability"
	"cyberfolio/internal/ratelimit"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service   *Service
	sessions  *SessionManager
	redirects config.RedirectConfig
	logger    *observability.Logger
	now       func() time.Time
}

func NewHandler(service *Service, sessions *SessionManager, redirects config.RedirectConfig, logger *observability.Logger) *Handler {
	return &Handler{
		service:   service,
		sessions:  sessions,
		redirects: redirects,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeLoginError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	identifier := body.Identifier
	if identifier == "" {
		identifier = body.Username
	}

	result, err := h.service.Login(r.Context(), LoginRequest{
		Identifier:    identifier,
		Password:      body.Password,
		IPAddress:     observability.ClientIP(r),
		UserAgent:     r.UserAgent(),
		Resource:      r.URL.Path,
		ExistingToken: h.sessions.TokenFromRequest(r),
	})
	if err != nil {
		h.writeLoginFailure(w, r, err)
		return
	}

	h.sessions.SetCookie(w, result.Token, result.Session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"redirect": h.redirects.AfterLogin,
		"user":     result.Session.SafeIdentity(),
	})
}

func (h *Handler) writeLoginFailure(w http.ResponseWriter, r *http.Request, err error) {
	var limited *RateLimitedError
	var unavailable *StoreUnavailableError

	switch {
	case errors.Is(err, ErrMissingCredentials):
		writeLoginError(w, http.StatusBadRequest, "Identifier and password are required")
	case errors.Is(err, ErrInvalidCredentials):
		writeLoginError(w, http.StatusUnauthorized, "Invalid admin credentials")
	case errors.As(err, &limited):
		ratelimit.WriteLimited(w, limited.Decision, "Too many login attempts, please try again later")
	case errors.As(err, &unavailable):
		h.logger.Error("login_store_unavailable", map[string]any{
			"path":  r.URL.Path,
			"op":    unavailable.Op,
			"error": err.Error(),
		})
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "Authentication temporarily unavailable",
			"code":    CodeStoreUnavailable,
		})
	default:
		h.logger.Error("login_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		writeLoginError(w, http.StatusInternalServerError, "failed to login")
	}
}

// Session is the whoami endpoint; it sits behind RequireAuth.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":      "Authentication required",
			"code":       CodeUnauthenticated,
			"redirectTo": h.redirects.LoginPage,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          principal.SafeIdentity(),
		"expiresAt":     principal.SessionExpiresAt,
	})
}

// Status never rejects an anonymous caller; it only reports what the cookie resolves to.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), h.sessions.TokenFromRequest(r))
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			writeJSON(w, http.StatusOK, map[string]any{"isAuthenticated": false, "isAdmin": false})
			return
		}
		h.logger.Error("session_store_unavailable", map[string]any{"path": r.URL.Path, "error": err.Error()})
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Session store unavailable",
			"code":  CodeStoreUnavailable,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"isAuthenticated": true,
		"isAdmin":         session.IsAdmin,
		"user":            session.SafeIdentity(),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	_, err := h.service.Logout(r.Context(), LogoutRequest{
		Token:     h.sessions.TokenFromRequest(r),
		IPAddress: observability.ClientIP(r),
		UserAgent: r.UserAgent(),
		Resource:  r.URL.Path,
	})
	h.sessions.ClearCookie(w)
	if err != nil {
		h.logger.Error("logout_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to logout",
			"code":    CodeStoreUnavailable,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"redirect": h.redirects.AfterLogout,
	})
}

// AdminStatus is an admin-only liveness probe.
func (h *Handler) AdminStatus(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Admin access confirmed",
		"timestamp": h.now(),
		"user":      principal.SafeIdentity(),
	})
}

func writeLoginError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
