// Package config loads the registry's settings from REGISTRY_* environment
// variables and the optional YAML role file.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "registry"

// Config holds server configuration.
type Config struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":5000"`
	DBDriver        string        `envconfig:"DB_DRIVER" default:"sqlite"`
	DatabaseURL     string        `envconfig:"DATABASE_URL" default:"file:registry.db?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"`
	JWTSecret       string        `envconfig:"JWT_SECRET"`
	TokenTTL        time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json"`
	RolesFile       string        `envconfig:"ROLES_FILE"`
	AuditStream     bool          `envconfig:"AUDIT_STREAM" default:"false"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	IdempotencyTTL  time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	// Per-user limits, shared across instances when RedisAddr is set.
	RateLimitRPM   int    `envconfig:"RATE_LIMIT_RPM" default:"300"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"60"`
	RedisAddr      string `envconfig:"REDIS_ADDR"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`

	// Per-IP limits in front of authentication.
	IPRateLimit float64 `envconfig:"IP_RATE_LIMIT" default:"20"`
	IPBurst     int     `envconfig:"IP_BURST" default:"40"`

	OTLPEnabled  bool   `envconfig:"OTLP_ENABLED" default:"false"`
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT" default:"localhost:4317"`
	OTLPInsecure bool   `envconfig:"OTLP_INSECURE" default:"true"`
	Environment  string `envconfig:"ENVIRONMENT" default:"development"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "pgx", "sqlite":
	default:
		return fmt.Errorf("config: REGISTRY_DB_DRIVER must be postgres, pgx or sqlite, got %q", c.DBDriver)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: REGISTRY_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: REGISTRY_TOKEN_TTL must be positive")
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: REGISTRY_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
