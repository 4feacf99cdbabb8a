package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	OIDC      OIDCConfig
	Admin     AdminConfig
	Upstream  UpstreamConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/storefront.db?_foreign_keys=on"`
}

// RedisConfig holds the counting store configuration. Without a URL the
// rate limiter counts in process.
type RedisConfig struct {
	URL       string `env:"REDIS_URL"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"storefront:"`
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	Algorithm     string `env:"RATE_LIMIT_ALGORITHM" envDefault:"minute"`
	WindowMinutes int    `env:"RATE_LIMIT_WINDOW_MINUTES" envDefault:"1"`
	FailurePolicy string `env:"RATE_LIMIT_FAILURE_POLICY" envDefault:"open"`
	// AdminLimit applies to admin keys without their own limit. Zero means
	// unlimited.
	AdminLimit int `env:"RATE_LIMIT_ADMIN" envDefault:"0"`
}

// AuthConfig holds customer token configuration.
type AuthConfig struct {
	JWTSecret string        `env:"AUTH_JWT_SECRET"`
	JWTIssuer string        `env:"AUTH_JWT_ISSUER"`
	JWTTTL    time.Duration `env:"AUTH_JWT_TTL" envDefault:"1h"`
}

// OIDCConfig holds OIDC customer authentication configuration.
type OIDCConfig struct {
	Enabled        bool   `env:"OIDC_ENABLED" envDefault:"false"`
	IssuerURL      string `env:"OIDC_ISSUER_URL"`
	ClientID       string `env:"OIDC_CLIENT_ID"`
	ClientSecret   string `env:"OIDC_CLIENT_SECRET"`
	Scopes         string `env:"OIDC_SCOPES" envDefault:"openid,email,profile"`
	AllowedDomains string `env:"OIDC_ALLOWED_DOMAINS"`
}

// GetScopes returns the OIDC scopes as a slice.
func (c *OIDCConfig) GetScopes() []string {
	if c.Scopes == "" {
		return []string{"openid", "email", "profile"}
	}
	return splitList(c.Scopes)
}

// GetAllowedDomains returns the allowed domains as a slice.
func (c *OIDCConfig) GetAllowedDomains() []string {
	if c.AllowedDomains == "" {
		return nil
	}
	return splitList(c.AllowedDomains)
}

// AdminConfig holds admin API configuration.
type AdminConfig struct {
	// BootstrapKey is accepted as an admin key while no admin keys exist.
	BootstrapKey string `env:"BOOTSTRAP_ADMIN_KEY"`
}

// UpstreamConfig names the commerce platform endpoints the gateway fronts.
type UpstreamConfig struct {
	// GraphQLURL enables /api/v1/shop/graphql when set.
	GraphQLURL string `env:"UPSTREAM_GRAPHQL_URL"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Redis); err != nil {
		return nil, fmt.Errorf("parsing redis config: %w", err)
	}
	if err := env.Parse(&cfg.RateLimit); err != nil {
		return nil, fmt.Errorf("parsing rate limit config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.OIDC); err != nil {
		return nil, fmt.Errorf("parsing oidc config: %w", err)
	}
	if err := env.Parse(&cfg.Admin); err != nil {
		return nil, fmt.Errorf("parsing admin config: %w", err)
	}
	if err := env.Parse(&cfg.Upstream); err != nil {
		return nil, fmt.Errorf("parsing upstream config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres")
	}

	switch c.RateLimit.Algorithm {
	case "minute", "hourly":
	default:
		return fmt.Errorf("RATE_LIMIT_ALGORITHM must be minute or hourly")
	}
	switch c.RateLimit.FailurePolicy {
	case "open", "closed":
	default:
		return fmt.Errorf("RATE_LIMIT_FAILURE_POLICY must be open or closed")
	}
	if c.RateLimit.WindowMinutes < 1 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_MINUTES must be at least 1")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters")
	}

	// Validate OIDC config when enabled
	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled")
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled")
		}
	}

	if c.Auth.JWTSecret == "" && !c.OIDC.Enabled {
		return fmt.Errorf("AUTH_JWT_SECRET or OIDC_ENABLED is required to authenticate customers")
	}

	if c.Upstream.GraphQLURL != "" {
		u, err := url.Parse(c.Upstream.GraphQLURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("UPSTREAM_GRAPHQL_URL must be an absolute http or https url")
		}
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}

	return nil
}

// UseRedis returns true if rate limit counters live in Redis.
func (c *Config) UseRedis() bool {
	return c.Redis.URL != ""
}
