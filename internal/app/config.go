package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL for the catalog mirror and saved users (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SQLitePath   string `default:"storefront.db" usage:"SQLite file for saved users when no database URL is set" flag:"sqlite-path"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	Catalog      CatalogConfig
	Session      SessionConfig
	Auth         AuthConfig
	Cookie       CookieConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CatalogConfig points at the upstream product catalog.
type CatalogConfig struct {
	BaseURL     string        `default:"https://dummyjson.com" usage:"Product catalog base URL" flag:"catalog-url"`
	PageSize    int           `default:"30" usage:"Products requested per catalog page"`
	Concurrency int           `default:"4" usage:"Concurrent catalog page requests"`
	Timeout     time.Duration `default:"10s" usage:"Catalog request timeout"`

	// MirrorRefresh bounds how often a listing is copied into the mirror.
	MirrorRefresh time.Duration `default:"5m" usage:"Minimum interval between mirror refreshes from listings"`
}

// SessionConfig controls how long idle visitor sessions are kept.
type SessionConfig struct {
	IdleTimeout   time.Duration `default:"30m" usage:"Evict sessions idle for longer than this"`
	SweepInterval time.Duration `default:"1m" usage:"How often idle sessions are swept"`
}

// AuthConfig controls which routes require a signed-in session.
type AuthConfig struct {
	ProtectDetail bool `default:"false" usage:"Require sign-in for product detail" flag:"protect-detail"`
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string `default:"sf_session" usage:"Session cookie name"`
	Secure bool   `default:"false" usage:"Mark the session cookie Secure" flag:"secure-cookie"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env (if present), then configuration from environment
// variables, flags and YAML config files, and applies platform-specific
// defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	return loadConfig(aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Catalog.BaseURL == "" {
		return errors.New("catalog base URL is required")
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return errors.New("either a database URL or a SQLite path is required")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.Errorf("invalid rate limit %d per %s", c.RateLimit.Max, c.RateLimit.Window)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
