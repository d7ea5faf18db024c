// Package config manages application configuration
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"` // "development" or "production"
	LogLevel    string `yaml:"log_level"`
	CORSOrigin  string `yaml:"cors_origin"`
	// Proxies (IPs or CIDRs) whose X-Forwarded-For and X-Real-IP headers are honoured
	TrustedProxies []string `yaml:"trusted_proxies"`

	// Database
	DatabaseDriver string `yaml:"database_driver"` // "sqlite3", "pgx" or "memory"
	DatabaseURL    string `yaml:"database_url"`

	// The single identity allowed into the dashboard
	AdminEmail string `yaml:"admin_email"`
	AdminName  string `yaml:"admin_name"`

	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Interval of the in-server storage sweep; zero disables it
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	Notifier string     `yaml:"notifier"` // "log" or "smtp"
	SMTP     SMTPConfig `yaml:"smtp"`
}

// SecurityConfig holds OTP and session settings
type SecurityConfig struct {
	OTPExpiry      time.Duration `yaml:"otp_expiry"`
	OTPMaxAttempts int           `yaml:"otp_max_attempts"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// Hex-encoded key for audit fingerprints; random per process when empty
	AuditKey string `yaml:"audit_key"`
}

// RateLimitConfig holds the fixed-window limiter settings
type RateLimitConfig struct {
	Requests  int           `yaml:"requests"`
	Window    time.Duration `yaml:"window"`
	Retention time.Duration `yaml:"retention"`
}

// SMTPConfig holds outbound mail settings
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Secure    string `yaml:"secure"` // "tls", "ssl" or "none"
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Port:           "8080",
		Environment:    "development",
		LogLevel:       "info",
		CORSOrigin:     "*",
		DatabaseDriver: "sqlite3",
		DatabaseURL:    "contactdesk.db",
		AdminName:      "Admin",
		Security: SecurityConfig{
			OTPExpiry:      10 * time.Minute,
			OTPMaxAttempts: 3,
			SessionTimeout: 60 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Requests:  5,
			Window:    15 * time.Minute,
			Retention: 24 * time.Hour,
		},
		MaintenanceInterval: time.Hour,
		Notifier:            "log",
		SMTP: SMTPConfig{
			Host:     "smtp.gmail.com",
			Port:     587,
			Secure:   "tls",
			FromName: "Contact Desk",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// CONTACTDESK_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONTACTDESK_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("CONTACTDESK_PORT", c.Port)
	c.Environment = getEnv("CONTACTDESK_ENV", c.Environment)
	c.LogLevel = getEnv("CONTACTDESK_LOG_LEVEL", c.LogLevel)
	c.CORSOrigin = getEnv("CONTACTDESK_CORS_ORIGIN", c.CORSOrigin)
	c.TrustedProxies = getListEnv("CONTACTDESK_TRUSTED_PROXIES", c.TrustedProxies)
	c.DatabaseDriver = getEnv("CONTACTDESK_DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseURL = getEnv("CONTACTDESK_DATABASE_URL", c.DatabaseURL)
	c.AdminEmail = getEnv("CONTACTDESK_ADMIN_EMAIL", c.AdminEmail)
	c.AdminName = getEnv("CONTACTDESK_ADMIN_NAME", c.AdminName)

	c.Security.OTPExpiry = getDurationEnv("CONTACTDESK_OTP_EXPIRY", c.Security.OTPExpiry)
	c.Security.OTPMaxAttempts = getIntEnv("CONTACTDESK_OTP_MAX_ATTEMPTS", c.Security.OTPMaxAttempts)
	c.Security.SessionTimeout = getDurationEnv("CONTACTDESK_SESSION_TIMEOUT", c.Security.SessionTimeout)
	c.Security.AuditKey = getEnv("CONTACTDESK_AUDIT_KEY", c.Security.AuditKey)

	c.RateLimit.Requests = getIntEnv("CONTACTDESK_RATE_LIMIT_REQUESTS", c.RateLimit.Requests)
	c.RateLimit.Window = getDurationEnv("CONTACTDESK_RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.RateLimit.Retention = getDurationEnv("CONTACTDESK_RATE_LIMIT_RETENTION", c.RateLimit.Retention)

	c.MaintenanceInterval = getDurationEnv("CONTACTDESK_MAINTENANCE_INTERVAL", c.MaintenanceInterval)

	c.Notifier = getEnv("CONTACTDESK_NOTIFIER", c.Notifier)
	c.SMTP.Host = getEnv("CONTACTDESK_SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getIntEnv("CONTACTDESK_SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getEnv("CONTACTDESK_SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = getEnv("CONTACTDESK_SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.Secure = getEnv("CONTACTDESK_SMTP_SECURE", c.SMTP.Secure)
	c.SMTP.FromEmail = getEnv("CONTACTDESK_SMTP_FROM_EMAIL", c.SMTP.FromEmail)
	c.SMTP.FromName = getEnv("CONTACTDESK_SMTP_FROM_NAME", c.SMTP.FromName)
}

// Validate checks the configuration for values the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	c.AdminEmail = strings.ToLower(strings.TrimSpace(c.AdminEmail))
	if c.AdminEmail == "" {
		errs = append(errs, errors.New("admin email is required"))
	} else if _, err := mail.ParseAddress(c.AdminEmail); err != nil {
		errs = append(errs, fmt.Errorf("admin email %q is invalid", c.AdminEmail))
	}

	switch c.DatabaseDriver {
	case "sqlite3", "pgx", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.DatabaseDriver))
	}

	if c.Security.OTPExpiry <= 0 {
		errs = append(errs, errors.New("otp expiry must be positive"))
	}
	if c.Security.OTPMaxAttempts <= 0 {
		errs = append(errs, errors.New("otp max attempts must be positive"))
	}
	if c.Security.SessionTimeout <= 0 {
		errs = append(errs, errors.New("session timeout must be positive"))
	}
	if c.Security.AuditKey != "" {
		if _, err := hex.DecodeString(c.Security.AuditKey); err != nil {
			errs = append(errs, errors.New("audit key must be hex encoded"))
		}
	}
	if c.RateLimit.Requests <= 0 {
		errs = append(errs, errors.New("rate limit requests must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	if c.RateLimit.Retention < c.RateLimit.Window {
		errs = append(errs, errors.New("rate limit retention must cover at least one window"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.MaintenanceInterval < 0 {
		errs = append(errs, errors.New("maintenance interval must not be negative"))
	}

	switch c.Notifier {
	case "log":
	case "smtp":
		if c.SMTP.Host == "" || c.SMTP.FromEmail == "" {
			errs = append(errs, errors.New("smtp notifier requires host and from address"))
		}
		switch c.SMTP.Secure {
		case "tls", "ssl", "none":
		default:
			errs = append(errs, fmt.Errorf("unknown smtp secure mode %q", c.SMTP.Secure))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier %q", c.Notifier))
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// OTPExpiryMinutes is the code lifetime as reported to callers
func (c *Config) OTPExpiryMinutes() int {
	return int(c.Security.OTPExpiry / time.Minute)
}

// SessionTimeoutMinutes is the session lifetime as reported to callers
func (c *Config) SessionTimeoutMinutes() int {
	return int(c.Security.SessionTimeout / time.Minute)
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", raw)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", raw)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
