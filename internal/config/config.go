package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	minProductionSecretBytes = 32
)

// ConfigurationError is fatal at startup and never recoverable at request time.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Key, e.Reason)
}

type Config struct {
	AppEnv    string
	Port      string
	SentryDSN string

	Database    DatabaseConfig
	Admin       AdminConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	Retention   RetentionConfig
	Redirects   RedirectConfig
	CronSecret  string
	HTTPTimeout time.Duration
	// TrustProxyHops counts the reverse proxies that append to X-Forwarded-For.
	TrustProxyHops int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	RunMigrations   bool
}

type AdminConfig struct {
	Identifier   string
	Password     string
	PasswordHash string
	ReferenceID  string
	DisplayName  string
	Email        string
}

type SessionConfig struct {
	Secret     string
	CookieName string
	TTL        time.Duration
}

type RateLimitConfig struct {
	Backend     string
	RedisURL    string
	Bypass      bool
	LoginMax    int
	LoginWindow time.Duration
	APIMax      int
	APIWindow   time.Duration
}

type RetentionConfig struct {
	AuditEntries  time.Duration
	FailedLogins  time.Duration
	RateLimitRows time.Duration
	BatchSize     int
	SweepInterval time.Duration
}

type RedirectConfig struct {
	AfterLogin  string
	AfterLogout string
	LoginPage   string
	Forbidden   string
}

func (c Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

type fileConfig struct {
	App struct {
		Env            string `yaml:"env"`
		Port           string `yaml:"port"`
		TrustProxyHops *int   `yaml:"trust_proxy_hops"`
	} `yaml:"app"`
	Database struct {
		URL           string `yaml:"url"`
		MaxOpenConns  int    `yaml:"max_open_conns"`
		MaxIdleConns  int    `yaml:"max_idle_conns"`
		RunMigrations *bool  `yaml:"run_migrations"`
	} `yaml:"database"`
	Admin struct {
		Identifier  string `yaml:"identifier"`
		ReferenceID string `yaml:"reference_id"`
		DisplayName string `yaml:"display_name"`
		Email       string `yaml:"email"`
	} `yaml:"admin"`
	Session struct {
		CookieName string `yaml:"cookie_name"`
		TTLHours   int    `yaml:"ttl_hours"`
	} `yaml:"session"`
	RateLimit struct {
		Backend            string `yaml:"backend"`
		RedisURL           string `yaml:"redis_url"`
		LoginMax           int    `yaml:"login_max"`
		LoginWindowSeconds int    `yaml:"login_window_seconds"`
		APIMax             int    `yaml:"api_max"`
		APIWindowSeconds   int    `yaml:"api_window_seconds"`
	} `yaml:"rate_limit"`
	Retention struct {
		AuditDays           int `yaml:"audit_days"`
		FailedLoginDays     int `yaml:"failed_login_days"`
		RateLimitHours      int `yaml:"rate_limit_hours"`
		BatchSize           int `yaml:"batch_size"`
		SweepIntervalMinute int `yaml:"sweep_interval_minutes"`
	} `yaml:"retention"`
}

func defaults() Config {
	return Config{
		AppEnv:      EnvDevelopment,
		Port:        "8080",
		HTTPTimeout: 15 * time.Second,
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
			RunMigrations:   true,
		},
		Admin: AdminConfig{
			ReferenceID: "admin_user",
			DisplayName: "System Administrator",
		},
		Session: SessionConfig{
			CookieName: "cyberfolio.sid",
			TTL:        24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Backend:     "postgres",
			LoginMax:    5,
			LoginWindow: 15 * time.Minute,
			APIMax:      100,
			APIWindow:   15 * time.Minute,
		},
		Retention: RetentionConfig{
			AuditEntries:  90 * 24 * time.Hour,
			FailedLogins:  30 * 24 * time.Hour,
			RateLimitRows: 24 * time.Hour,
			BatchSize:     500,
			SweepInterval: 60 * time.Minute,
		},
		Redirects: RedirectConfig{
			AfterLogin:  "/admin",
			AfterLogout: "/",
			LoginPage:   "/admin-login",
			Forbidden:   "/",
		},
	}
}

// Load resolves configuration in order: defaults, YAML file at path (optional), environment.
func Load(path string) (Config, error) {
	cfg := defaults()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	cfg.AppEnv = orString(f.App.Env, cfg.AppEnv)
	cfg.Port = orString(f.App.Port, cfg.Port)
	if f.App.TrustProxyHops != nil {
		cfg.TrustProxyHops = *f.App.TrustProxyHops
	}
	cfg.Database.URL = orString(f.Database.URL, cfg.Database.URL)
	cfg.Database.MaxOpenConns = orInt(f.Database.MaxOpenConns, cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = orInt(f.Database.MaxIdleConns, cfg.Database.MaxIdleConns)
	if f.Database.RunMigrations != nil {
		cfg.Database.RunMigrations = *f.Database.RunMigrations
	}
	cfg.Admin.Identifier = orString(f.Admin.Identifier, cfg.Admin.Identifier)
	cfg.Admin.ReferenceID = orString(f.Admin.ReferenceID, cfg.Admin.ReferenceID)
	cfg.Admin.DisplayName = orString(f.Admin.DisplayName, cfg.Admin.DisplayName)
	cfg.Admin.Email = orString(f.Admin.Email, cfg.Admin.Email)
	cfg.Session.CookieName = orString(f.Session.CookieName, cfg.Session.CookieName)
	if f.Session.TTLHours > 0 {
		cfg.Session.TTL = time.Duration(f.Session.TTLHours) * time.Hour
	}
	cfg.RateLimit.Backend = orString(f.RateLimit.Backend, cfg.RateLimit.Backend)
	cfg.RateLimit.RedisURL = orString(f.RateLimit.RedisURL, cfg.RateLimit.RedisURL)
	cfg.RateLimit.LoginMax = orInt(f.RateLimit.LoginMax, cfg.RateLimit.LoginMax)
	cfg.RateLimit.APIMax = orInt(f.RateLimit.APIMax, cfg.RateLimit.APIMax)
	if f.RateLimit.LoginWindowSeconds > 0 {
		cfg.RateLimit.LoginWindow = time.Duration(f.RateLimit.LoginWindowSeconds) * time.Second
	}
	if f.RateLimit.APIWindowSeconds > 0 {
		cfg.RateLimit.APIWindow = time.Duration(f.RateLimit.APIWindowSeconds) * time.Second
	}
	if f.Retention.AuditDays > 0 {
		cfg.Retention.AuditEntries = time.Duration(f.Retention.AuditDays) * 24 * time.Hour
	}
	if f.Retention.FailedLoginDays > 0 {
		cfg.Retention.FailedLogins = time.Duration(f.Retention.FailedLoginDays) * 24 * time.Hour
	}
	if f.Retention.RateLimitHours > 0 {
		cfg.Retention.RateLimitRows = time.Duration(f.Retention.RateLimitHours) * time.Hour
	}
	cfg.Retention.BatchSize = orInt(f.Retention.BatchSize, cfg.Retention.BatchSize)
	if f.Retention.SweepIntervalMinute > 0 {
		cfg.Retention.SweepInterval = time.Duration(f.Retention.SweepIntervalMinute) * time.Minute
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.AppEnv = strings.ToLower(envOrDefault("APP_ENV", cfg.AppEnv))
	cfg.Port = envOrDefault("PORT", cfg.Port)
	cfg.SentryDSN = envOrDefault("SENTRY_DSN", cfg.SentryDSN)
	cfg.CronSecret = envOrDefault("CRON_SECRET", cfg.CronSecret)
	cfg.HTTPTimeout = envSecondsOrDefault("HTTP_TIMEOUT_SECONDS", cfg.HTTPTimeout)
	cfg.TrustProxyHops = envCountOrDefault("TRUST_PROXY_HOPS", cfg.TrustProxyHops)

	cfg.Database.URL = envOrDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = envIntOrDefault("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envIntOrDefault("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", cfg.Database.ConnMaxLifetime)
	cfg.Database.ConnMaxIdleTime = envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", cfg.Database.ConnMaxIdleTime)
	cfg.Database.RunMigrations = EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", cfg.Database.RunMigrations)

	cfg.Admin.Identifier = envOrDefault("ADMIN_USERNAME", cfg.Admin.Identifier)
	cfg.Admin.Password = envOrDefault("ADMIN_PASSWORD", cfg.Admin.Password)
	cfg.Admin.PasswordHash = envOrDefault("ADMIN_PASSWORD_HASH", cfg.Admin.PasswordHash)
	cfg.Admin.ReferenceID = envOrDefault("ADMIN_REFERENCE_ID", cfg.Admin.ReferenceID)
	cfg.Admin.DisplayName = envOrDefault("ADMIN_DISPLAY_NAME", cfg.Admin.DisplayName)
	cfg.Admin.Email = envOrDefault("ADMIN_EMAIL", cfg.Admin.Email)

	cfg.Session.Secret = envOrDefault("SESSION_SECRET", cfg.Session.Secret)
	cfg.Session.CookieName = envOrDefault("SESSION_COOKIE_NAME", cfg.Session.CookieName)
	cfg.Session.TTL = envHoursOrDefault("SESSION_TTL_HOURS", cfg.Session.TTL)

	cfg.RateLimit.Backend = strings.ToLower(envOrDefault("RATE_LIMIT_BACKEND", cfg.RateLimit.Backend))
	cfg.RateLimit.RedisURL = envOrDefault("REDIS_URL", cfg.RateLimit.RedisURL)
	cfg.RateLimit.Bypass = EnvBoolOrDefault("RATE_LIMIT_BYPASS", cfg.RateLimit.Bypass)
	cfg.RateLimit.LoginMax = envIntOrDefault("LOGIN_RATE_LIMIT_MAX", cfg.RateLimit.LoginMax)
	cfg.RateLimit.LoginWindow = envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimit.LoginWindow)
	cfg.RateLimit.APIMax = envIntOrDefault("API_RATE_LIMIT_MAX", cfg.RateLimit.APIMax)
	cfg.RateLimit.APIWindow = envSecondsOrDefault("API_RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimit.APIWindow)

	cfg.Retention.AuditEntries = envDaysOrDefault("AUDIT_RETENTION_DAYS", cfg.Retention.AuditEntries)
	cfg.Retention.FailedLogins = envDaysOrDefault("FAILED_LOGIN_RETENTION_DAYS", cfg.Retention.FailedLogins)
	cfg.Retention.RateLimitRows = envHoursOrDefault("RATE_LIMIT_RETENTION_HOURS", cfg.Retention.RateLimitRows)
	cfg.Retention.BatchSize = envIntOrDefault("MAINTENANCE_BATCH_SIZE", cfg.Retention.BatchSize)
	cfg.Retention.SweepInterval = envMinutesOrDefault("MAINTENANCE_INTERVAL_MINUTES", cfg.Retention.SweepInterval)
}

func (c Config) Validate() error {
	switch c.AppEnv {
	case EnvProduction, EnvDevelopment, "test":
	default:
		return &ConfigurationError{Key: "APP_ENV", Reason: fmt.Sprintf("has unsupported value %q", c.AppEnv)}
	}
	if c.Database.URL == "" {
		return &ConfigurationError{Key: "DATABASE_URL", Reason: "is required"}
	}
	if strings.TrimSpace(c.Admin.Identifier) == "" {
		return &ConfigurationError{Key: "ADMIN_USERNAME", Reason: "is required"}
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return &ConfigurationError{Key: "ADMIN_PASSWORD", Reason: "or ADMIN_PASSWORD_HASH is required"}
	}
	if strings.TrimSpace(c.Admin.ReferenceID) == "" {
		return &ConfigurationError{Key: "ADMIN_REFERENCE_ID", Reason: "must not be empty"}
	}
	if c.TrustProxyHops < 0 {
		return &ConfigurationError{Key: "TRUST_PROXY_HOPS", Reason: "must be a non-negative integer"}
	}
	if c.Session.Secret == "" {
		return &ConfigurationError{Key: "SESSION_SECRET", Reason: "is required"}
	}
	if c.IsProduction() && len(c.Session.Secret) < minProductionSecretBytes {
		return &ConfigurationError{Key: "SESSION_SECRET", Reason: fmt.Sprintf("must be at least %d bytes in production", minProductionSecretBytes)}
	}
	if c.Session.CookieName == "" {
		return &ConfigurationError{Key: "SESSION_COOKIE_NAME", Reason: "must not be empty"}
	}
	if c.IsProduction() && c.RateLimit.Bypass {
		return &ConfigurationError{Key: "RATE_LIMIT_BYPASS", Reason: "is not allowed in production"}
	}
	switch c.RateLimit.Backend {
	case "memory", "postgres":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			return &ConfigurationError{Key: "REDIS_URL", Reason: "is required for the redis rate limit backend"}
		}
	default:
		return &ConfigurationError{Key: "RATE_LIMIT_BACKEND", Reason: fmt.Sprintf("has unsupported value %q", c.RateLimit.Backend)}
	}
	return nil
}

func orString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func orInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// envCountOrDefault accepts zero. An unparsable value becomes -1 so Validate can reject it.
func envCountOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return -1
	}
	return parsed
}

func envDurationOrDefault(name string, unit time.Duration, fallback time.Duration) time.Duration {
	value := envIntOrDefault(name, -1)
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * unit
}

func envSecondsOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, time.Second, fallback)
}

func envMinutesOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, time.Minute, fallback)
}

func envHoursOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, time.Hour, fallback)
}

func envDaysOrDefault(name string, fallback time.Duration) time.Duration {
	return envDurationOrDefault(name, 24*time.Hour, fallback)
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
