package auth

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cyberfolio/internal/audit"
	"cyberfolio/internal/config"
	"cyberfolio/internal/observability"
	"cyberfolio/internal/ratelimit"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	err      error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]Session)}
}

func (s *fakeSessionStore) Insert(_ context.Context, idHash string, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, exists := s.sessions[idHash]; exists {
		return errDuplicateSession
	}
	s.sessions[idHash] = session
	return nil
}

func (s *fakeSessionStore) Get(_ context.Context, idHash string, now time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Session{}, s.err
	}
	session, ok := s.sessions[idHash]
	if !ok || !now.Before(session.ExpiresAt) {
		return Session{}, ErrNoSession
	}
	return session, nil
}

func (s *fakeSessionStore) Delete(_ context.Context, idHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.sessions[idHash]
	delete(s.sessions, idHash)
	return ok, nil
}

func (s *fakeSessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errDuplicateSession = sentinelError("duplicate session")

type fakeIdentityStore struct {
	mu         sync.Mutex
	identities map[string]Identity
	err        error
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{identities: make(map[string]Identity)}
}

func (s *fakeIdentityStore) UpsertLogin(_ context.Context, identity Identity, at time.Time) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Identity{}, s.err
	}
	existing, ok := s.identities[identity.ID]
	if ok {
		identity.Role = existing.Role
		identity.IsActive = existing.IsActive
		identity.CreatedAt = existing.CreatedAt
	} else {
		identity.IsActive = true
		identity.CreatedAt = at
	}
	identity.UpdatedAt = at
	identity.LastLoginAt = &at
	s.identities[identity.ID] = identity
	return identity, nil
}

func (s *fakeIdentityStore) get(id string) (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	return identity, ok
}

type fakeAuditStore struct {
	mu       sync.Mutex
	entries  []audit.Entry
	attempts []audit.FailedLoginAttempt
}

func (s *fakeAuditStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeAuditStore) AppendFailedLogin(_ context.Context, attempt audit.FailedLoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *fakeAuditStore) Query(_ context.Context, filter audit.Filter, limit int) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, 0)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.Action == "" || s.entries[i].Action == filter.Action {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *fakeAuditStore) RecentFailedLogins(_ context.Context, since time.Time, limit int) ([]audit.FailedLoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.FailedLoginAttempt, 0)
	for _, a := range s.attempts {
		if !a.AttemptedAt.Before(since) && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAuditStore) CountFailedLoginsSince(_ context.Context, identifier string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.attempts {
		if a.Identifier == identifier && !a.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeAuditStore) actions() []audit.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Action, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

func (s *fakeAuditStore) failedAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testAdmin    = "admin"
	testPassword = "correct"
	testRefID    = "admin_user"
)

type testEnv struct {
	clock      *testClock
	sessions   *SessionManager
	store      *fakeSessionStore
	identities *fakeIdentityStore
	audit      *fakeAuditStore
	recorder   *audit.Recorder
	service    *Service
	gate       *Gate
	handler    *Handler
	policy     AdminPolicy
	logs       *bytes.Buffer
	mux        *http.ServeMux
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEnv(t *testing.T, loginMax int) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	logs := &bytes.Buffer{}
	logger := observability.NewLoggerTo(logs)

	credentials, err := NewCredentialStore(testAdmin, testPassword, "")
	require.NoError(t, err)

	policy := NewAdminPolicy(testRefID)
	store := newFakeSessionStore()
	sessions := NewSessionManager(store, policy, SessionOptions{
		Secret:     testSecret,
		CookieName: "cyberfolio.sid",
		TTL:        24 * time.Hour,
	})
	sessions.now = clock.Now

	auditStore := &fakeAuditStore{}
	recorder := audit.NewRecorder(auditStore, logger)
	identities := newFakeIdentityStore()
	limiter := ratelimit.NewMemoryLimiter().WithClock(clock.Now)

	service := NewService(credentials, identities, sessions, recorder, limiter,
		ratelimit.Policy{Name: "login", Max: loginMax, Window: 15 * time.Minute},
		AdminProfile{ReferenceID: testRefID, DisplayName: "System Administrator"})
	service.now = clock.Now

	redirects := config.RedirectConfig{AfterLogin: "/admin", AfterLogout: "/", LoginPage: "/admin-login", Forbidden: "/"}
	gate := NewGate(sessions, policy, recorder, logger, redirects.LoginPage, redirects.Forbidden)
	handler := NewHandler(service, sessions, redirects, logger)
	handler.now = clock.Now

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", handler.Login)
	mux.Handle("GET /api/auth/session", gate.RequireAuth(http.HandlerFunc(handler.Session)))
	mux.HandleFunc("GET /api/auth/status", handler.Status)
	mux.HandleFunc("POST /api/auth/logout", handler.Logout)
	mux.Handle("GET /api/admin/status", gate.Admin(http.HandlerFunc(handler.AdminStatus)))
	mux.Handle("GET /admin", gate.Admin(http.HandlerFunc(handler.AdminStatus)))

	return &testEnv{
		clock:      clock,
		sessions:   sessions,
		store:      store,
		identities: identities,
		audit:      auditStore,
		recorder:   recorder,
		service:    service,
		gate:       gate,
		handler:    handler,
		policy:     policy,
		logs:       logs,
		mux:        mux,
	}
}
