// Package config provides configuration loading using koanf.
// Environment variables override compiled defaults; Load reads no AWS source.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/authcore/internal/domain"
)

// Config holds all service configuration.
// In prod, an empty postgres.dsn or redis.addr fails Load (see validateRequired).
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// AuthD is the single composition-root service this module ships (cmd/authd).
	AuthD AuthDConfig `koanf:"authd"`

	// Token/session/OAuth policy, overriding internal/domain's compiled defaults.
	Token   TokenConfig   `koanf:"token"`
	Session SessionConfig `koanf:"session"`
	OAuth   OAuthConfig   `koanf:"oauth"`

	// Infrastructure configurations
	Postgres PostgresConfig `koanf:"postgres"`
	Redis    RedisConfig    `koanf:"redis"`
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	AWS      AWSConfig      `koanf:"aws"`
	SES      SESConfig      `koanf:"ses"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`
}

// AuthDConfig holds the authd composition root's HTTP configuration.
type AuthDConfig struct {
	HTTPPort int `koanf:"http_port"`
}

// TokenConfig holds per-token-type TTL overrides for the single-use token
// store (C2). Zero values fall back to internal/domain's compiled defaults.
type TokenConfig struct {
	OAuthStateTTL       time.Duration `koanf:"oauth_state_ttl"`
	MagicLinkTTL        time.Duration `koanf:"magic_link_ttl"`
	PasskeyChallengeTTL time.Duration `koanf:"passkey_challenge_ttl"`
}

// SessionConfig holds the session store's (C3) policy knobs.
type SessionConfig struct {
	DefaultTTL         time.Duration `koanf:"default_ttl"`
	IdleTimeout        time.Duration `koanf:"idle_timeout"`
	MaxConcurrent      int           `koanf:"max_concurrent"`
	ClockSkewTolerance time.Duration `koanf:"clock_skew_tolerance"`
}

// OAuthProviderConfig is one registered OAuth2/OIDC provider's client
// credentials and redirect target.
type OAuthProviderConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURL  string `koanf:"redirect_url"`
	// IssuerURL is the OIDC discovery issuer (e.g. "https://accounts.google.com").
	// Required for providers authenticated via internal/authadapter's OIDC
	// exchanger; left blank for plain OAuth2 providers with no ID token.
	IssuerURL string `koanf:"issuer_url"`
}

// OAuthConfig holds the OAuth reducer's (C6) provider registry and the
// base URL magic-link verification links are built against.
type OAuthConfig struct {
	Providers  map[string]OAuthProviderConfig `koanf:"providers"`
	BaseURL    string                         `koanf:"base_url"`
	VerifyPath string                         `koanf:"verify_path"`
	RPOrigin   string                         `koanf:"rp_origin"`
	RPID       string                         `koanf:"rp_id"`
}

// PostgresConfig holds the event store / passkey store (C4, C5) connection.
type PostgresConfig struct {
	DSN     string        `koanf:"dsn"` // Required in production
	Timeout time.Duration `koanf:"timeout"`
}

// RedisConfig holds the token/session store (C2, C3) connection.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Required
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// DynamoDBConfig holds the audit store (C8) connection.
type DynamoDBConfig struct {
	Endpoint string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout  time.Duration `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// SESConfig holds the magic-link email sender adapter's configuration.
type SESConfig struct {
	FromAddress string `koanf:"from_address"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values, taken from
// internal/domain's normative constants wherever one exists.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		AuthD: AuthDConfig{
			HTTPPort: 8080,
		},

		Token: TokenConfig{
			OAuthStateTTL:       domain.OAuthStateTTL,
			MagicLinkTTL:        domain.MagicLinkTokenTTL,
			PasskeyChallengeTTL: domain.PasskeyChallengeTTL,
		},
		Session: SessionConfig{
			DefaultTTL:         domain.DefaultSessionTTL,
			IdleTimeout:        domain.DefaultIdleTimeout,
			MaxConcurrent:      domain.DefaultMaxConcurrent,
			ClockSkewTolerance: domain.ClockSkewTolerance,
		},
		OAuth: OAuthConfig{
			VerifyPath: "/verify",
		},

		Postgres: PostgresConfig{
			Timeout: domain.PostgresTimeout,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		DynamoDB: DynamoDBConfig{
			Timeout: domain.DynamoDBTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. AWS SDK (Secrets Manager / SSM) - not wired into Load itself; cmd/authd
//    resolves provider secrets separately (see internal/authadapter).
// 3. Compiled defaults (lowest)
//
// Required keys missing in production → startup failure. Optional keys
// missing → fallback to defaults.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	// Start with compiled defaults
	cfg := defaults()

	// Load environment variables
	// Prefix: none (we use full names like REDIS_ADDR)
	// Delimiter: _ maps to . for nested config
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	// Unmarshal into config struct
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	// In local environment, most fields have sensible defaults
	if cfg.Environment == "local" {
		return nil
	}

	// In production, certain fields are required
	if cfg.Environment == "prod" {
		if cfg.Postgres.DSN == "" {
			return fmt.Errorf("%w: postgres.dsn", domain.ErrConfigRequired)
		}
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
