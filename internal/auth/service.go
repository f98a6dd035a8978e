package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"cyberfolio/internal/audit"
	"cyberfolio/internal/ratelimit"
)

type AdminProfile struct {
	ReferenceID string
	DisplayName string
	Email       string
}

type LoginRequest struct {
	Identifier    string
	Password      string
	IPAddress     string
	UserAgent     string
	Resource      string
	ExistingToken string
}

type LoginResult struct {
	Session Session
	Token   string
}

type LogoutRequest struct {
	Token     string
	IPAddress string
	UserAgent string
	Resource  string
}

// Service runs the login and logout flows. Each login step gates the next:
// rate check, credential check, identity upsert, session create, audit.
type Service struct {
	credentials *CredentialStore
	identities  IdentityStore
	sessions    *SessionManager
	recorder    *audit.Recorder
	limiter     ratelimit.Limiter
	loginPolicy ratelimit.Policy
	profile     AdminProfile
	now         func() time.Time
}

func NewService(
	credentials *CredentialStore,
	identities IdentityStore,
	sessions *SessionManager,
	recorder *audit.Recorder,
	limiter ratelimit.Limiter,
	loginPolicy ratelimit.Policy,
	profile AdminProfile,
) *Service {
	return &Service{
		credentials: credentials,
		identities:  identities,
		sessions:    sessions,
		recorder:    recorder,
		limiter:     limiter,
		loginPolicy: loginPolicy,
		profile:     profile,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func LoginRateKey(ip, identifier string) string {
	return "login:" + ip + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || strings.TrimSpace(req.Password) == "" {
		return LoginResult{}, ErrMissingCredentials
	}

	decision, err := s.limiter.Allow(ctx, LoginRateKey(req.IPAddress, identifier), s.loginPolicy.Window, s.loginPolicy.Max)
	if err != nil {
		return LoginResult{}, storeUnavailable("check login rate limit", err)
	}
	if !decision.Allowed {
		return LoginResult{}, &RateLimitedError{Decision: decision}
	}

	if !s.credentials.Validate(identifier, req.Password) {
		s.recorder.RecordFailedLogin(ctx, audit.FailedLoginAttempt{
			Identifier: identifier,
			IPAddress:  req.IPAddress,
			UserAgent:  req.UserAgent,
			Provider:   "admin",
		})
		s.recorder.Record(ctx, audit.Entry{
			Action:   audit.ActionLoginFailed,
			Resource: req.Resource,
			Severity: audit.SeverityWarning,
			Details: map[string]any{
				"identifier": identifier,
				"reason":     "invalid_credentials",
			},
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		})
		return LoginResult{}, ErrInvalidCredentials
	}

	if req.ExistingToken != "" {
		if err := s.sessions.Destroy(ctx, req.ExistingToken); err != nil {
			return LoginResult{}, err
		}
	}

	identity, err := s.identities.UpsertLogin(ctx, Identity{
		ID:          s.profile.ReferenceID,
		Identifier:  s.credentials.AdminCredentials().Identifier,
		DisplayName: s.profile.DisplayName,
		Email:       s.profile.Email,
		Role:        RoleAdmin,
		IsActive:    true,
	}, s.now())
	if err != nil {
		return LoginResult{}, storeUnavailable("record identity login", err)
	}

	session, token, err := s.sessions.Create(ctx, identity)
	if err != nil {
		return LoginResult{}, err
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:  audit.ActorRef(identity.ID),
		Action:   audit.ActionLoginSuccess,
		Resource: req.Resource,
		Severity: audit.SeverityInfo,
		Details: map[string]any{
			"identifier":       identity.Identifier,
			"isAdmin":          session.IsAdmin,
			"sessionExpiresAt": session.ExpiresAt.Format(time.RFC3339),
		},
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})

	return LoginResult{Session: session, Token: token}, nil
}

// Logout destroys the presented session. It reports false when there was nothing to destroy,
// in which case no audit entry is written.
func (s *Service) Logout(ctx context.Context, req LogoutRequest) (bool, error) {
	session, err := s.sessions.Get(ctx, req.Token)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return false, nil
		}
		return false, err
	}

	if err := s.sessions.Destroy(ctx, req.Token); err != nil {
		return false, err
	}

	s.recorder.Record(ctx, audit.Entry{
		ActorID:  audit.ActorRef(session.Identity.ID),
		Action:   audit.ActionLogout,
		Resource: req.Resource,
		Severity: audit.SeverityInfo,
		Details: map[string]any{
			"identifier":             session.Identity.Identifier,
			"sessionDurationSeconds": int64(s.now().Sub(session.CreatedAt).Seconds()),
		},
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})

	return true, nil
}
