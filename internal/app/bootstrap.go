package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"cyberfolio/internal/audit"
	"cyberfolio/internal/auth"
	"cyberfolio/internal/config"
	"cyberfolio/internal/db"
	"cyberfolio/internal/maintenance"
	"cyberfolio/internal/observability"
	"cyberfolio/internal/ratelimit"
)

// Runtime is everything the process entry point has to serve and later shut down.
type Runtime struct {
	Handler http.Handler
	Sweeper *maintenance.Sweeper
	Close   func() error
}

// Build opens the database, selects the rate limit backend and assembles the service graph.
func Build(cfg config.Config, logger *observability.Logger) (*Runtime, error) {
	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Database.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	if err := checkAdminReference(auth.NewRepository(database), cfg.Admin); err != nil {
		_ = database.Close()
		return nil, err
	}

	limiter, closeLimiter, err := newLimiter(cfg, database, logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	runtime, err := Assemble(cfg, database, limiter, logger)
	if err != nil {
		_ = closeLimiter()
		_ = database.Close()
		return nil, err
	}

	runtime.Close = func() error {
		observability.FlushSentry()
		if err := closeLimiter(); err != nil {
			logger.Error("close_rate_limiter_failed", map[string]any{"error": err.Error()})
		}
		return database.Close()
	}
	return runtime, nil
}

// Assemble wires services, handlers and routes on top of an open database and limiter.
func Assemble(cfg config.Config, database *sql.DB, limiter ratelimit.Limiter, logger *observability.Logger) (*Runtime, error) {
	credentials, err := auth.NewCredentialStore(cfg.Admin.Identifier, cfg.Admin.Password, cfg.Admin.PasswordHash)
	if err != nil {
		return nil, err
	}

	auditRepo := audit.NewRepository(database)
	recorder := audit.NewRecorder(auditRepo, logger)

	policy := auth.NewAdminPolicy(cfg.Admin.ReferenceID)
	sessionStore := auth.NewPostgresSessionStore(database)
	sessions := auth.NewSessionManager(sessionStore, policy, auth.SessionOptions{
		Secret:     cfg.Session.Secret,
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL,
		Secure:     cfg.IsProduction(),
	})

	loginPolicy := ratelimit.Policy{Name: "login", Max: cfg.RateLimit.LoginMax, Window: cfg.RateLimit.LoginWindow}
	apiPolicy := ratelimit.Policy{Name: "api", Max: cfg.RateLimit.APIMax, Window: cfg.RateLimit.APIWindow}

	authService := auth.NewService(credentials, auth.NewRepository(database), sessions, recorder, limiter, loginPolicy, auth.AdminProfile{
		ReferenceID: cfg.Admin.ReferenceID,
		DisplayName: cfg.Admin.DisplayName,
		Email:       cfg.Admin.Email,
	})
	authHandler := auth.NewHandler(authService, sessions, cfg.Redirects, logger)
	gate := auth.NewGate(sessions, policy, recorder, logger, cfg.Redirects.LoginPage, cfg.Redirects.Forbidden)
	auditHandler := audit.NewHandler(recorder, cfg.Retention.FailedLogins)

	targets := []maintenance.Target{
		{Name: "expired_sessions", Purge: sessionStore.DeleteExpired},
		{Name: "audit_logs", Retention: cfg.Retention.AuditEntries, Purge: auditRepo.PurgeEntriesBefore},
		{Name: "failed_login_attempts", Retention: cfg.Retention.FailedLogins, Purge: auditRepo.PurgeFailedLoginsBefore},
	}
	if pgLimiter, ok := limiter.(*ratelimit.PostgresLimiter); ok {
		targets = append(targets, maintenance.Target{Name: "rate_limits", Retention: cfg.Retention.RateLimitRows, Purge: pgLimiter.Purge})
	}
	cleaner := maintenance.NewCleaner(logger, cfg.Retention.BatchSize, targets...)
	cleanupHandler := maintenance.NewCleanupHandler(cleaner, cfg.CronSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("GET /api/auth/session", gate.RequireAuth(http.HandlerFunc(authHandler.Session)))
	mux.HandleFunc("GET /api/auth/status", authHandler.Status)
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.Handle("GET /api/admin/status", gate.Admin(http.HandlerFunc(authHandler.AdminStatus)))
	mux.Handle("GET /api/admin/audit-logs", gate.Admin(http.HandlerFunc(auditHandler.ListEntries)))
	mux.Handle("GET /api/admin/failed-logins", gate.Admin(http.HandlerFunc(auditHandler.ListFailedLogins)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	var handler http.Handler = apiRateLimited(limiter, apiPolicy, logger, mux)
	if cfg.HTTPTimeout > 0 {
		handler = http.TimeoutHandler(handler, cfg.HTTPTimeout, `{"error":"request timed out"}`)
	}
	handler = observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, handler))
	handler = observability.ClientIPMiddleware(cfg.TrustProxyHops, handler)

	return &Runtime{
		Handler: handler,
		Sweeper: maintenance.NewSweeper(cleaner, cfg.Retention.SweepInterval),
		Close:   func() error { return nil },
	}, nil
}

// checkAdminReference refuses to start when a stored identity would collide with the configured
// admin on its next login, which would otherwise surface as a store failure on every attempt.
func checkAdminReference(identities *auth.Repository, admin config.AdminConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conflict, err := identities.FindConflicting(ctx, admin.ReferenceID, admin.Identifier)
	if errors.Is(err, auth.ErrIdentityNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check admin reference: %w", err)
	}

	if conflict.Role == auth.RoleAdmin {
		return &config.ConfigurationError{
			Key:    "ADMIN_REFERENCE_ID",
			Reason: fmt.Sprintf("is %q but the stored admin identity is %q", admin.ReferenceID, conflict.ID),
		}
	}
	return &config.ConfigurationError{
		Key:    "ADMIN_USERNAME",
		Reason: fmt.Sprintf("is already held by identity %q", conflict.ID),
	}
}

func newLimiter(cfg config.Config, database *sql.DB, logger *observability.Logger) (ratelimit.Limiter, func() error, error) {
	noop := func() error { return nil }

	if cfg.RateLimit.Bypass {
		logger.Warn("rate_limit_bypassed", map[string]any{"app_env": cfg.AppEnv})
		return ratelimit.Unlimited{}, noop, nil
	}

	switch cfg.RateLimit.Backend {
	case "memory":
		return ratelimit.NewMemoryLimiter(), noop, nil
	case "redis":
		client, err := ratelimit.Connect(cfg.RateLimit.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		limiter := ratelimit.NewRedisLimiter(client)
		return limiter, limiter.Close, nil
	default:
		return ratelimit.NewPostgresLimiter(database), noop, nil
	}
}

// apiRateLimited applies the general API policy to /api/ paths only.
func apiRateLimited(limiter ratelimit.Limiter, policy ratelimit.Policy, logger *observability.Logger, next http.Handler) http.Handler {
	limited := ratelimit.Middleware(limiter, policy, ratelimit.ClientKey(policy), logger, next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
