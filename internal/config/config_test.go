package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONTACTDESK_CONFIG", "")
	t.Setenv("CONTACTDESK_ADMIN_EMAIL", " Admin@Example.com ")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "admin@example.com", cfg.AdminEmail)
	assert.Equal(t, 10*time.Minute, cfg.Security.OTPExpiry)
	assert.Equal(t, 3, cfg.Security.OTPMaxAttempts)
	assert.Equal(t, 60*time.Minute, cfg.Security.SessionTimeout)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 24*time.Hour, cfg.RateLimit.Retention)
	assert.Equal(t, 10, cfg.OTPExpiryMinutes())
	assert.Equal(t, 60, cfg.SessionTimeoutMinutes())
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contactdesk.yaml")
	yaml := `
environment: production
admin_email: owner@example.com
database_driver: pgx
database_url: postgres://localhost/contactdesk
security:
  otp_expiry: 5m
  session_timeout: 30m
rate_limit:
  requests: 10
  window: 1m
  retention: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("CONTACTDESK_ADMIN_EMAIL", "")
	t.Setenv("CONTACTDESK_RATE_LIMIT_REQUESTS", "20")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "owner@example.com", cfg.AdminEmail)
	assert.Equal(t, "pgx", cfg.DatabaseDriver)
	assert.Equal(t, 5*time.Minute, cfg.Security.OTPExpiry)
	assert.Equal(t, 30*time.Minute, cfg.Security.SessionTimeout)
	assert.Equal(t, 3, cfg.Security.OTPMaxAttempts, "unset file values keep defaults")
	assert.Equal(t, 20, cfg.RateLimit.Requests, "env overrides file")
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing admin", func(c *Config) { c.AdminEmail = "" }, true},
		{"bad admin", func(c *Config) { c.AdminEmail = "not-an-email" }, true},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }, true},
		{"zero attempts", func(c *Config) { c.Security.OTPMaxAttempts = 0 }, true},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, true},
		{"short retention", func(c *Config) { c.RateLimit.Retention = time.Minute }, true},
		{"bad audit key", func(c *Config) { c.Security.AuditKey = "zz" }, true},
		{"smtp without host", func(c *Config) { c.Notifier = "smtp"; c.SMTP.Host = "" }, true},
		{"smtp ok", func(c *Config) { c.Notifier = "smtp"; c.SMTP.FromEmail = "noreply@example.com" }, false},
		{"unknown notifier", func(c *Config) { c.Notifier = "pigeon" }, true},
		{"trusted proxies", func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.1"} }, false},
		{"bad trusted proxy", func(c *Config) { c.TrustedProxies = []string{"proxy.local"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.AdminEmail = "admin@example.com"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTrustedProxyPrefixes(t *testing.T) {
	t.Setenv("CONTACTDESK_CONFIG", "")
	t.Setenv("CONTACTDESK_ADMIN_EMAIL", "admin@example.com")
	t.Setenv("CONTACTDESK_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := Load("")
	require.NoError(t, err)

	prefixes, err := cfg.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.0.2.1/32", prefixes[1].String())
}
