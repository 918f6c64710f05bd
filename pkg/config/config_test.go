package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "0123456789abcdef0123456789abcdef-access"
	testRefreshSecret = "0123456789abcdef0123456789abcdef-refresh"
)

func validConfig() *Config {
	c := Default()
	c.Auth.AccessSecret = testAccessSecret
	c.Auth.RefreshSecret = testRefreshSecret
	return c
}

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, 5000, c.Server.Port)
	assert.Equal(t, 24*time.Hour, c.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, c.Auth.RefreshTTL)
	assert.Equal(t, 10, c.Auth.BcryptCost)
	assert.Equal(t, 5, c.Auth.MaxFailedLogins)
	assert.Equal(t, 15*time.Minute, c.Auth.LockoutDuration)
	assert.Equal(t, 10, c.RateLimit.Max)
	assert.Equal(t, 15*time.Minute, c.RateLimit.Window)
	assert.Equal(t, 90*24*time.Hour, c.Audit.Retention)
	assert.Equal(t, BackendBadger, c.Storage.Backend)

	// no secrets by default
	assert.Error(t, c.Validate())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	yamlDoc := `
server:
  port: 8080
auth:
  access_secret: ` + testAccessSecret + `
  refresh_secret: ` + testRefreshSecret + `
  lockout_duration: 30m
  allowed_emails: ["owner@shop.test", "@shop.test"]
rate_limit:
  max: 20
  window: 5m
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0600))

	t.Setenv("STOREFRONT_RATE_LIMIT_MAX", "3")
	t.Setenv("STOREFRONT_LOG_FORMAT", "text")

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 30*time.Minute, c.Auth.LockoutDuration)
	assert.Equal(t, []string{"owner@shop.test", "@shop.test"}, c.Auth.AllowedEmails)
	assert.Equal(t, 3, c.RateLimit.Max)
	assert.Equal(t, 5*time.Minute, c.RateLimit.Window)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, "text", c.Logging.Format)
	// untouched keys keep defaults
	assert.Equal(t, 24*time.Hour, c.Auth.AccessTTL)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [oops"), 0600))
	_, err = Load(bad)
	assert.Error(t, err)

	c, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5000, c.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STOREFRONT_JWT_SECRET", testAccessSecret)
	t.Setenv("STOREFRONT_JWT_REFRESH_SECRET", testRefreshSecret)
	t.Setenv("STOREFRONT_ALLOWED_EMAILS", " a@shop.test , ,@shop.test")
	t.Setenv("STOREFRONT_GOOGLE_CLIENT_ID", "web.apps.googleusercontent.com")
	t.Setenv("STOREFRONT_LOCKOUT_DURATION", "600")
	t.Setenv("STOREFRONT_AUDIT_RETENTION_DAYS", "30")
	t.Setenv("STOREFRONT_TRUST_PROXY", "yes")
	t.Setenv("STOREFRONT_PORT", "not-a-number")

	c := LoadFromEnv()
	require.NoError(t, c.Validate())
	assert.Equal(t, []string{"a@shop.test", "@shop.test"}, c.Auth.AllowedEmails)
	assert.True(t, c.OAuth.GoogleEnabled)
	assert.Equal(t, 10*time.Minute, c.Auth.LockoutDuration)
	assert.Equal(t, 30*24*time.Hour, c.Audit.Retention)
	assert.True(t, c.Server.TrustProxy)
	assert.Equal(t, 5000, c.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"valid", func(c *Config) {}, ""},
		{"same secrets", func(c *Config) { c.Auth.RefreshSecret = c.Auth.AccessSecret }, "must differ"},
		{"short secret", func(c *Config) { c.Auth.AccessSecret = "short" }, "at least 32 bytes"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"bad cost", func(c *Config) { c.Auth.BcryptCost = 2 }, "bcrypt cost"},
		{"google without client", func(c *Config) { c.OAuth.GoogleEnabled = true }, "google_client_ids"},
		{"bad window", func(c *Config) { c.RateLimit.Window = 0 }, "rate_limit"},
		{"bad counter store", func(c *Config) { c.RateLimit.Store = "redis" }, "rate_limit.store"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, "postgres_dsn"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	c := validConfig()
	c.Storage.PostgresDSN = "postgres://shop:hunter2@db:5432/shop"
	s := c.String()
	assert.NotContains(t, s, testAccessSecret)
	assert.NotContains(t, s, testRefreshSecret)
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "postgres://shop:****@db:5432/shop")
	assert.Contains(t, s, "0.0.0.0:5000")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storefront.yaml")
	c := validConfig()
	c.Auth.AllowedEmails = []string{"@shop.test"}
	require.NoError(t, c.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.Auth, loaded.Auth)
	assert.Equal(t, c.RateLimit, loaded.RateLimit)
}

func TestConversions(t *testing.T) {
	c := validConfig()
	c.OAuth.GoogleClientIDs = []string{"web"}

	tc := c.TokenConfig()
	assert.Equal(t, []byte(testAccessSecret), tc.AccessSecret)
	assert.Equal(t, 24*time.Hour, tc.AccessTTL)

	assert.Equal(t, 5, c.AuthPolicy().MaxFailedLogins)
	assert.Equal(t, "login", c.LimiterConfig().Scope)
	assert.Equal(t, 40, c.ThrottleConfig().Burst)
	assert.Equal(t, []string{"web"}, c.GoogleConfig().ClientIDs)
	assert.Equal(t, 90*24*time.Hour, c.AuditLoggerConfig().Retention)

	c.Metrics.Enabled = false
	hc := c.HTTPConfig()
	assert.Equal(t, 5000, hc.Port)
	assert.Empty(t, hc.MetricsPath)
	assert.Equal(t, int64(1<<20), hc.MaxRequestSize)

	assert.NotNil(t, c.ReadCache())
	c.Cache.Enabled = false
	assert.Nil(t, c.ReadCache())

	secret, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 64)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, `"msg":"shown"`))

	_, err = NewLogger(LoggingConfig{Level: "verbose"}, &buf)
	assert.Error(t, err)
}

func TestSetupLoggerFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "logs", "storefront.log")
	logger, closeFn, err := SetupLogger(LoggingConfig{Level: "info", Format: "text", Output: path})
	require.NoError(t, err)
	logger.Info("written to file")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
