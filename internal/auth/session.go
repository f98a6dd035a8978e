package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionIDBytes   = 32
	sessionTokenType = "session"
)

type SessionOptions struct {
	Secret     string
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// SessionManager issues and resolves server-side sessions. The cookie carries a signed
// token naming the session id; the store only ever sees the id's hash.
type SessionManager struct {
	store      SessionStore
	policy     AdminPolicy
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

func NewSessionManager(store SessionStore, policy AdminPolicy, opts SessionOptions) *SessionManager {
	return &SessionManager{
		store:      store,
		policy:     policy,
		secret:     []byte(opts.Secret),
		cookieName: opts.CookieName,
		ttl:        opts.TTL,
		secure:     opts.Secure,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new session for identity and returns it with the signed cookie value.
// The admin flag is decided here, once.
func (m *SessionManager) Create(ctx context.Context, identity Identity) (Session, string, error) {
	id, err := randomToken(sessionIDBytes)
	if err != nil {
		return Session{}, "", fmt.Errorf("generate session id: %w", err)
	}

	now := m.now()
	isAdmin, _ := m.policy.Evaluate(identity)
	session := Session{
		ID:        id,
		Identity:  identity,
		IsAdmin:   isAdmin,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	token, err := m.sign(session)
	if err != nil {
		return Session{}, "", err
	}

	if err := m.store.Insert(ctx, hashToken(id), session); err != nil {
		return Session{}, "", storeUnavailable("create session", err)
	}

	return session, token, nil
}

// Get resolves a cookie value. Tampered, expired, destroyed and unknown sessions are ErrNoSession;
// a store failure is a *StoreUnavailableError.
func (m *SessionManager) Get(ctx context.Context, token string) (Session, error) {
	id, err := m.parse(token)
	if err != nil {
		return Session{}, ErrNoSession
	}

	session, err := m.store.Get(ctx, hashToken(id), m.now())
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return Session{}, ErrNoSession
		}
		return Session{}, storeUnavailable("load session", err)
	}
	if !m.now().Before(session.ExpiresAt) {
		return Session{}, ErrNoSession
	}

	session.ID = id
	return session, nil
}

// Destroy removes the durable record. Destroying an unknown session is not an error.
func (m *SessionManager) Destroy(ctx context.Context, token string) error {
	id, err := m.parse(token)
	if err != nil {
		return nil
	}

	if _, err := m.store.Delete(ctx, hashToken(id)); err != nil {
		return storeUnavailable("destroy session", err)
	}
	return nil
}

func (m *SessionManager) TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func (m *SessionManager) SetCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(expiresAt.Sub(m.now()).Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (m *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (m *SessionManager) sign(session Session) (string, error) {
	claims := sessionClaims{
		SessionID: session.ID,
		Type:      sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return encoded, nil
}

func (m *SessionManager) parse(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoSession
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", ErrNoSession
	}
	if claims.Type != sessionTokenType || claims.SessionID == "" {
		return "", ErrNoSession
	}

	return claims.SessionID, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
