// Package config loads storefront configuration from a YAML file and the
// environment.
//
// Sources are applied in order, later ones winning:
//  1. built-in defaults (Default)
//  2. the YAML file, usually storefront.yaml written by `storefront init`
//  3. STOREFRONT_* environment variables
//
// Command-line flags are applied by the CLI on top of the result.
//
// Example Usage:
//
//	cfg, err := config.Load("./storefront.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	logger, closeLog, err := config.SetupLogger(cfg.Logging)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer closeLog()
//	logger.Info("starting", slog.String("config", cfg.String()))
//
// Environment Variables:
//   - STOREFRONT_ADDRESS=0.0.0.0, STOREFRONT_PORT=5000
//   - STOREFRONT_JWT_SECRET, STOREFRONT_JWT_REFRESH_SECRET (required)
//   - STOREFRONT_ALLOWED_EMAILS="owner@shop.com,@shop.com"
//   - STOREFRONT_GOOGLE_CLIENT_ID="1234.apps.googleusercontent.com"
//   - STOREFRONT_RATE_LIMIT_MAX=10, STOREFRONT_RATE_LIMIT_WINDOW=15m
//   - STOREFRONT_STORAGE_BACKEND="badger" or "postgres"
//   - STOREFRONT_DATA_DIR="./data", STOREFRONT_POSTGRES_DSN
//   - STOREFRONT_AUDIT_LOG_PATH="./logs/audit.jsonl"
//   - STOREFRONT_LOG_LEVEL="info", STOREFRONT_LOG_FORMAT="json"
//
// For a complete list, see applyEnv.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/auth"
	"github.com/orneryd/storefront/pkg/cache"
	"github.com/orneryd/storefront/pkg/oauth"
	"github.com/orneryd/storefront/pkg/ratelimit"
	"github.com/orneryd/storefront/pkg/server"
)

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Rate-limit counter stores.
const (
	CounterStoreMemory = "memory"
	CounterStoreBadger = "badger"
)

// minSecretLength is the shortest accepted signing secret, in bytes.
const minSecretLength = 32

// Config holds all storefront configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// CORSOrigins lists origins allowed to call the API with credentials.
	CORSOrigins []string `yaml:"cors_origins"`

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that sets them.
	TrustProxy bool `yaml:"trust_proxy"`

	// SecureCookies marks the refresh_token cookie Secure.
	SecureCookies bool `yaml:"secure_cookies"`
}

// AuthConfig holds token and password policy settings.
type AuthConfig struct {
	AccessSecret      string        `yaml:"access_secret"`
	RefreshSecret     string        `yaml:"refresh_secret"`
	AccessTTL         time.Duration `yaml:"access_ttl"`
	RefreshTTL        time.Duration `yaml:"refresh_ttl"`
	Issuer            string        `yaml:"issuer"`
	BcryptCost        int           `yaml:"bcrypt_cost"`
	MinPasswordLength int           `yaml:"min_password_length"`
	MaxFailedLogins   int           `yaml:"max_failed_logins"`
	LockoutDuration   time.Duration `yaml:"lockout_duration"`

	// AllowedEmails may sign in with Google without an existing account.
	// "@example.com" allows a whole domain.
	AllowedEmails []string `yaml:"allowed_emails"`
}

// OAuthConfig holds identity provider settings.
type OAuthConfig struct {
	GoogleEnabled   bool          `yaml:"google_enabled"`
	GoogleClientIDs []string      `yaml:"google_client_ids"`
	JWKSURL         string        `yaml:"jwks_url"`
	JWKSRefresh     time.Duration `yaml:"jwks_refresh"`
}

// RateLimitConfig holds the login limiter and admin API throttle settings.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Max     int           `yaml:"max"`
	Window  time.Duration `yaml:"window"`
	// Store is "memory" (per process) or "badger" (survives restarts).
	Store      string `yaml:"store"`
	MemorySize int    `yaml:"memory_size"`

	ThrottleEnabled   bool    `yaml:"throttle_enabled"`
	ThrottlePerSecond float64 `yaml:"throttle_per_second"`
	ThrottleBurst     int     `yaml:"throttle_burst"`
}

// StorageConfig selects and configures the account/audit backend. The
// catalog and rate-limit counters always live in Badger.
type StorageConfig struct {
	Backend     string        `yaml:"backend"`
	DataDir     string        `yaml:"data_dir"`
	InMemory    bool          `yaml:"in_memory"`
	SyncWrites  bool          `yaml:"sync_writes"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	AutoMigrate bool          `yaml:"auto_migrate"`
	GCInterval  time.Duration `yaml:"gc_interval"`
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Retention     time.Duration `yaml:"retention"`
	LogPath       string        `yaml:"log_path"`
	SyncWrites    bool          `yaml:"sync_writes"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CacheConfig holds the catalog read cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// Default returns the built-in configuration. Secrets are empty and must
// be supplied by the file or the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "0.0.0.0",
			Port:            5000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Auth: AuthConfig{
			AccessTTL:         auth.DefaultAccessTTL,
			RefreshTTL:        auth.DefaultRefreshTTL,
			Issuer:            "storefront",
			BcryptCost:        auth.DefaultBcryptCost,
			MinPasswordLength: 8,
			MaxFailedLogins:   5,
			LockoutDuration:   15 * time.Minute,
		},
		OAuth: OAuthConfig{
			JWKSURL:     oauth.GoogleJWKSURL,
			JWKSRefresh: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			Max:               ratelimit.DefaultMax,
			Window:            ratelimit.DefaultWindow,
			Store:             CounterStoreMemory,
			MemorySize:        ratelimit.DefaultMemoryStoreSize,
			ThrottleEnabled:   true,
			ThrottlePerSecond: 20,
			ThrottleBurst:     40,
		},
		Storage: StorageConfig{
			Backend:    BackendBadger,
			DataDir:    "./data",
			GCInterval: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:       true,
			Retention:     audit.RetentionPeriod,
			SweepInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    cache.DefaultSize,
			TTL:     cache.DefaultTTL,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file; a missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadOrDefault is Load, falling back to defaults plus environment when
// path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return LoadFromEnv(), nil
		}
	}
	return Load(path)
}

// LoadFromEnv returns the defaults with environment overrides applied.
func LoadFromEnv() *Config {
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

// Save writes c to path as YAML, creating the directory. The file holds
// secrets and is written 0600.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0600)
}

func applyEnv(c *Config) {
	// Server
	c.Server.Address = getEnv("STOREFRONT_ADDRESS", c.Server.Address)
	c.Server.Port = getEnvInt("STOREFRONT_PORT", getEnvInt("PORT", c.Server.Port))
	c.Server.ReadTimeout = getEnvDuration("STOREFRONT_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("STOREFRONT_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.CORSOrigins = getEnvStringSlice("STOREFRONT_CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.TrustProxy = getEnvBool("STOREFRONT_TRUST_PROXY", c.Server.TrustProxy)
	c.Server.SecureCookies = getEnvBool("STOREFRONT_SECURE_COOKIES", c.Server.SecureCookies)

	// Auth
	c.Auth.AccessSecret = getEnv("STOREFRONT_JWT_SECRET", c.Auth.AccessSecret)
	c.Auth.RefreshSecret = getEnv("STOREFRONT_JWT_REFRESH_SECRET", c.Auth.RefreshSecret)
	c.Auth.AccessTTL = getEnvDuration("STOREFRONT_JWT_EXPIRES_IN", c.Auth.AccessTTL)
	c.Auth.RefreshTTL = getEnvDuration("STOREFRONT_JWT_REFRESH_EXPIRES_IN", c.Auth.RefreshTTL)
	c.Auth.BcryptCost = getEnvInt("STOREFRONT_BCRYPT_COST", c.Auth.BcryptCost)
	c.Auth.MinPasswordLength = getEnvInt("STOREFRONT_MIN_PASSWORD_LENGTH", c.Auth.MinPasswordLength)
	c.Auth.MaxFailedLogins = getEnvInt("STOREFRONT_MAX_FAILED_LOGINS", c.Auth.MaxFailedLogins)
	c.Auth.LockoutDuration = getEnvDuration("STOREFRONT_LOCKOUT_DURATION", c.Auth.LockoutDuration)
	c.Auth.AllowedEmails = getEnvStringSlice("STOREFRONT_ALLOWED_EMAILS", c.Auth.AllowedEmails)

	// OAuth
	c.OAuth.GoogleClientIDs = getEnvStringSlice("STOREFRONT_GOOGLE_CLIENT_ID", c.OAuth.GoogleClientIDs)
	c.OAuth.GoogleEnabled = getEnvBool("STOREFRONT_GOOGLE_ENABLED", c.OAuth.GoogleEnabled || len(c.OAuth.GoogleClientIDs) > 0)
	c.OAuth.JWKSURL = getEnv("STOREFRONT_GOOGLE_JWKS_URL", c.OAuth.JWKSURL)

	// Rate limiting
	c.RateLimit.Enabled = getEnvBool("STOREFRONT_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.Max = getEnvInt("STOREFRONT_RATE_LIMIT_MAX", c.RateLimit.Max)
	c.RateLimit.Window = getEnvDuration("STOREFRONT_RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.RateLimit.Store = getEnv("STOREFRONT_RATE_LIMIT_STORE", c.RateLimit.Store)
	c.RateLimit.ThrottleEnabled = getEnvBool("STOREFRONT_THROTTLE_ENABLED", c.RateLimit.ThrottleEnabled)
	c.RateLimit.ThrottlePerSecond = getEnvFloat("STOREFRONT_THROTTLE_PER_SECOND", c.RateLimit.ThrottlePerSecond)
	c.RateLimit.ThrottleBurst = getEnvInt("STOREFRONT_THROTTLE_BURST", c.RateLimit.ThrottleBurst)

	// Storage
	c.Storage.Backend = getEnv("STOREFRONT_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DataDir = getEnv("STOREFRONT_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("STOREFRONT_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("STOREFRONT_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.PostgresDSN = getEnv("STOREFRONT_POSTGRES_DSN", getEnv("DATABASE_URL", c.Storage.PostgresDSN))
	c.Storage.AutoMigrate = getEnvBool("STOREFRONT_AUTO_MIGRATE", c.Storage.AutoMigrate)
	c.Storage.GCInterval = getEnvDuration("STOREFRONT_GC_INTERVAL", c.Storage.GCInterval)

	// Audit
	c.Audit.Enabled = getEnvBool("STOREFRONT_AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.LogPath = getEnv("STOREFRONT_AUDIT_LOG_PATH", c.Audit.LogPath)
	c.Audit.SweepInterval = getEnvDuration("STOREFRONT_AUDIT_SWEEP_INTERVAL", c.Audit.SweepInterval)
	if days := getEnvInt("STOREFRONT_AUDIT_RETENTION_DAYS", 0); days > 0 {
		c.Audit.Retention = time.Duration(days) * 24 * time.Hour
	}

	// Logging
	c.Logging.Level = getEnv("STOREFRONT_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("STOREFRONT_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("STOREFRONT_LOG_OUTPUT", c.Logging.Output)

	// Metrics
	c.Metrics.Enabled = getEnvBool("STOREFRONT_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getEnv("STOREFRONT_METRICS_PATH", c.Metrics.Path)

	// Catalog cache
	c.Cache.Enabled = getEnvBool("STOREFRONT_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Size = getEnvInt("STOREFRONT_CACHE_SIZE", c.Cache.Size)
	c.Cache.TTL = getEnvDuration("STOREFRONT_CACHE_TTL", c.Cache.TTL)
}

// Validate checks the configuration for logical errors and invalid values.
// Missing signing secrets are an error: the server refuses to start
// without them.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Server.Port))
	}

	switch {
	case c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "":
		errs = append(errs, errors.New("auth.access_secret and auth.refresh_secret are required"))
	case c.Auth.AccessSecret == c.Auth.RefreshSecret:
		errs = append(errs, errors.New("auth.access_secret and auth.refresh_secret must differ"))
	case len(c.Auth.AccessSecret) < minSecretLength || len(c.Auth.RefreshSecret) < minSecretLength:
		errs = append(errs, fmt.Errorf("auth secrets must be at least %d bytes", minSecretLength))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("invalid bcrypt cost: %d", c.Auth.BcryptCost))
	}
	if c.Auth.MinPasswordLength < 1 {
		errs = append(errs, fmt.Errorf("invalid min_password_length: %d", c.Auth.MinPasswordLength))
	}
	if c.Auth.MaxFailedLogins < 1 {
		errs = append(errs, fmt.Errorf("invalid max_failed_logins: %d", c.Auth.MaxFailedLogins))
	}

	if c.OAuth.GoogleEnabled && len(c.OAuth.GoogleClientIDs) == 0 {
		errs = append(errs, errors.New("oauth.google_enabled requires oauth.google_client_ids"))
	}

	if c.RateLimit.Enabled && (c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit.max and rate_limit.window must be positive"))
	}
	if c.RateLimit.Store != CounterStoreMemory && c.RateLimit.Store != CounterStoreBadger {
		errs = append(errs, fmt.Errorf("invalid rate_limit.store: %q", c.RateLimit.Store))
	}

	switch c.Storage.Backend {
	case BackendBadger:
		if !c.Storage.InMemory && c.Storage.DataDir == "" {
			errs = append(errs, errors.New("storage.data_dir is required"))
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
		if !c.Storage.InMemory && c.Storage.DataDir == "" {
			errs = append(errs, errors.New("storage.data_dir is required for the catalog"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage.backend: %q", c.Storage.Backend))
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("invalid logging.format: %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// String returns a representation safe for logging. Secrets and the
// Postgres DSN password are redacted.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{HTTP: %s, Storage: %s, DataDir: %s, Postgres: %s, JWT: %s/%s, Google: %v, RateLimit: %d/%s, Audit: %v}",
		c.Addr(),
		c.Storage.Backend, c.Storage.DataDir, redactDSN(c.Storage.PostgresDSN),
		redact(c.Auth.AccessSecret), redact(c.Auth.RefreshSecret),
		c.OAuth.GoogleEnabled,
		c.RateLimit.Max, c.RateLimit.Window,
		c.Audit.Enabled,
	)
}

// TokenConfig converts the auth section for auth.NewTokenIssuer.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  []byte(c.Auth.AccessSecret),
		RefreshSecret: []byte(c.Auth.RefreshSecret),
		AccessTTL:     c.Auth.AccessTTL,
		RefreshTTL:    c.Auth.RefreshTTL,
		Issuer:        c.Auth.Issuer,
	}
}

// AuthPolicy converts the auth section for auth.NewAuthenticator.
func (c *Config) AuthPolicy() auth.AuthConfig {
	return auth.AuthConfig{
		MinPasswordLength: c.Auth.MinPasswordLength,
		BcryptCost:        c.Auth.BcryptCost,
		MaxFailedLogins:   c.Auth.MaxFailedLogins,
		LockoutDuration:   c.Auth.LockoutDuration,
		AllowedEmails:     c.Auth.AllowedEmails,
	}
}

// LimiterConfig returns the login limiter settings.
func (c *Config) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		Enabled: c.RateLimit.Enabled,
		Max:     c.RateLimit.Max,
		Window:  c.RateLimit.Window,
		Scope:   "login",
	}
}

// ThrottleConfig returns the admin API throttle settings.
func (c *Config) ThrottleConfig() ratelimit.ThrottleConfig {
	tc := ratelimit.DefaultThrottleConfig()
	tc.Enabled = c.RateLimit.ThrottleEnabled
	tc.PerSecond = c.RateLimit.ThrottlePerSecond
	tc.Burst = c.RateLimit.ThrottleBurst
	return tc
}

// GoogleConfig returns the identity verifier settings.
func (c *Config) GoogleConfig() oauth.Config {
	gc := oauth.DefaultConfig()
	gc.ClientIDs = c.OAuth.GoogleClientIDs
	if c.OAuth.JWKSURL != "" {
		gc.JWKSURL = c.OAuth.JWKSURL
	}
	if c.OAuth.JWKSRefresh > 0 {
		gc.RefreshInterval = c.OAuth.JWKSRefresh
	}
	return gc
}

// AuditLoggerConfig returns the audit recorder settings.
func (c *Config) AuditLoggerConfig() audit.Config {
	ac := audit.DefaultConfig()
	ac.Enabled = c.Audit.Enabled
	ac.Retention = c.Audit.Retention
	ac.MirrorPath = c.Audit.LogPath
	ac.SyncWrites = c.Audit.SyncWrites
	return ac
}

// HTTPConfig converts the server and metrics sections for server.New.
func (c *Config) HTTPConfig() *server.Config {
	hc := &server.Config{
		Address:         c.Server.Address,
		Port:            c.Server.Port,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		IdleTimeout:     c.Server.IdleTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		MaxRequestSize:  c.Server.MaxBodyBytes,
		CORSOrigins:     c.Server.CORSOrigins,
		TrustProxy:      c.Server.TrustProxy,
		SecureCookies:   c.Server.SecureCookies,
	}
	if hc.MaxRequestSize <= 0 {
		hc.MaxRequestSize = server.DefaultConfig().MaxRequestSize
	}
	if c.Metrics.Enabled {
		hc.MetricsPath = c.Metrics.Path
	}
	return hc
}

// ReadCache returns the catalog read cache, or nil when disabled.
func (c *Config) ReadCache() *cache.ReadCache {
	if !c.Cache.Enabled {
		return nil
	}
	return cache.New(c.Cache.Size, c.Cache.TTL)
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func redact(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "<redacted>"
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return "<unset>"
	}
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return "<redacted>"
	}
	userinfo := dsn[scheme+3 : at]
	if user, _, ok := strings.Cut(userinfo, ":"); ok {
		return dsn[:scheme+3] + user + ":****" + dsn[at:]
	}
	return dsn
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
