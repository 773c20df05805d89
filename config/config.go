// Package config loads process configuration from CLUB_* environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	auth "github.com/hbsportsdirector/rstse-sub000"
)

// Config holds all process configuration.
type Config struct {
	// Reconciliation
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	BaseDelay   time.Duration `env:"BASE_DELAY" envDefault:"250ms"`
	MaxDelay    time.Duration `env:"MAX_DELAY" envDefault:"4s"`
	SettleDelay time.Duration `env:"SETTLE_DELAY" envDefault:"500ms"`

	// Profile store
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"file:clubsession.db?cache=shared"`
	// StoreBackend selects "bun" or "pgx" for profile reads and writes.
	StoreBackend    string        `env:"STORE_BACKEND" envDefault:"bun"`
	ReplicationLag  time.Duration `env:"REPLICATION_LAG" envDefault:"0s"`
	RedisURL        string        `env:"REDIS_URL"`
	ProfileCacheTTL time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"10m"`

	// Local identity provider
	JWTSigningKey string        `env:"JWT_SIGNING_KEY" envDefault:"dev-only-signing-key"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"clubsession"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

var _ auth.Config = (*Config)(nil)

// Prefix is prepended to every variable name.
const Prefix = "CLUB_"

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%sMAX_ATTEMPTS must be positive, got %d", Prefix, c.MaxAttempts)
	}
	for _, delay := range []struct {
		name  string
		value time.Duration
	}{
		{"BASE_DELAY", c.BaseDelay},
		{"MAX_DELAY", c.MaxDelay},
		{"SETTLE_DELAY", c.SettleDelay},
	} {
		if delay.value < 0 {
			return fmt.Errorf("%s%s must not be negative, got %s", Prefix, delay.name, delay.value)
		}
	}
	switch strings.ToLower(c.StoreBackend) {
	case "bun", "pgx":
	default:
		return fmt.Errorf("%sSTORE_BACKEND must be bun or pgx, got %q", Prefix, c.StoreBackend)
	}
	if strings.EqualFold(c.StoreBackend, "pgx") && !strings.EqualFold(c.DatabaseDriver, "postgres") {
		return fmt.Errorf("%sSTORE_BACKEND=pgx requires %sDATABASE_DRIVER=postgres", Prefix, Prefix)
	}
	if strings.TrimSpace(c.JWTSigningKey) == "" {
		return fmt.Errorf("%sJWT_SIGNING_KEY is required", Prefix)
	}
	return nil
}

func (c *Config) GetMaxAttempts() int           { return c.MaxAttempts }
func (c *Config) GetBaseDelay() time.Duration   { return c.BaseDelay }
func (c *Config) GetMaxDelay() time.Duration    { return c.MaxDelay }
func (c *Config) GetSettleDelay() time.Duration { return c.SettleDelay }

// NewLogger builds the slog logger described by LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(c.LogLevel)}

	var h slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// ParseLogLevel converts a string log level to slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
