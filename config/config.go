// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AuthMode selects the credential verifier.
type AuthMode string

const (
	// AuthModeGoTrue verifies against the hosted identity API and keeps the
	// admin directory in PostgreSQL.
	AuthModeGoTrue AuthMode = "gotrue"
	// AuthModeDev uses one configured credential and in-memory storage.
	AuthModeDev AuthMode = "dev"
)

// Config is the complete process configuration.
type Config struct {
	Addr        string   `env:"ADDR" envDefault:":8080"`
	WebDir      string   `env:"WEB_DIR" envDefault:"web"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string   `env:"DATABASE_URL"`
	AuthMode    AuthMode `env:"AUTH_MODE" envDefault:"gotrue"`

	GoTrue GoTrueConfig `envPrefix:"GOTRUE_"`
	Redis  RedisConfig  `envPrefix:"REDIS_"`
	Guard  GuardConfig
	HTTP   HTTPConfig
	Dev    DevConfig `envPrefix:"DEV_ADMIN_"`

	Bootstrap BootstrapConfig `envPrefix:"BOOTSTRAP_ADMIN_"`
}

// GoTrueConfig configures the identity API client. Access tokens are checked
// with JWTSecret (HS256) when set, otherwise against the key set at JWKSURL.
type GoTrueConfig struct {
	URL       string `env:"URL"`
	APIKey    string `env:"API_KEY"`
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"ISSUER"`
	JWKSURL   string `env:"JWKS_URL"`
}

// RedisConfig configures persisted session storage.
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	// SessionGrace keeps a session stored past its access token expiry so
	// its refresh token can still be used.
	SessionGrace time.Duration `env:"SESSION_GRACE" envDefault:"168h"`
}

// GuardConfig holds session guard timings.
type GuardConfig struct {
	RestoreTimeout time.Duration `env:"RESTORE_TIMEOUT" envDefault:"10s"`
	CheckTimeout   time.Duration `env:"CHECK_TIMEOUT" envDefault:"10s"`
	RefreshMargin  time.Duration `env:"REFRESH_MARGIN" envDefault:"1m"`
	IdleTTL        time.Duration `env:"GUARD_IDLE_TTL" envDefault:"30m"`
	MaxGuards      int           `env:"GUARD_MAX" envDefault:"10000"`
}

// HTTPConfig holds server settings.
type HTTPConfig struct {
	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"true"`
	// CookieSecret signs browser keys. When empty a random secret is used
	// and every browser is signed out on restart.
	CookieSecret string `env:"COOKIE_SECRET"`
	// TrustProxyHeaders takes client addresses from X-Forwarded-For.
	TrustProxyHeaders bool          `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	LoginRatePerMin   int           `env:"LOGIN_RATE_PER_MIN" envDefault:"10"`
	AllowedOrigins    []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// DevConfig is the single credential accepted in dev mode. It is also
// seeded into the in-memory admin directory.
type DevConfig struct {
	ID       string `env:"ID" envDefault:"00000000-0000-4000-8000-000000000001"`
	Email    string `env:"EMAIL"`
	Password string `env:"PASSWORD"`
}

// BootstrapConfig names the first admin to create when the directory is
// empty. ID must be the identity service's user ID.
type BootstrapConfig struct {
	ID    string `env:"ID"`
	Email string `env:"EMAIL"`
	Name  string `env:"NAME" envDefault:"Administrator"`
}

// Enabled reports whether a bootstrap admin is configured.
func (b BootstrapConfig) Enabled() bool { return b.ID != "" && b.Email != "" }

// Load reads an optional .env file, parses the environment and validates
// the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem with cfg at once.
func (c Config) Validate() error {
	var errs []error

	switch c.AuthMode {
	case AuthModeGoTrue:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required"))
		}
		if c.GoTrue.URL == "" {
			errs = append(errs, errors.New("GOTRUE_URL is required"))
		}
		if c.GoTrue.APIKey == "" {
			errs = append(errs, errors.New("GOTRUE_API_KEY is required"))
		}
		switch {
		case c.GoTrue.JWTSecret == "" && c.GoTrue.JWKSURL == "":
			errs = append(errs, errors.New("one of GOTRUE_JWT_SECRET or GOTRUE_JWKS_URL is required"))
		case c.GoTrue.JWTSecret != "" && len(c.GoTrue.JWTSecret) < 32:
			errs = append(errs, errors.New("GOTRUE_JWT_SECRET must be at least 32 characters"))
		}
	case AuthModeDev:
		if c.Dev.ID == "" || c.Dev.Email == "" {
			errs = append(errs, errors.New("DEV_ADMIN_ID and DEV_ADMIN_EMAIL are required in dev mode"))
		}
		if len(c.Dev.Password) < 8 {
			errs = append(errs, errors.New("DEV_ADMIN_PASSWORD must be at least 8 characters"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeGoTrue, AuthModeDev, c.AuthMode))
	}

	if c.Guard.RestoreTimeout <= 0 || c.Guard.CheckTimeout <= 0 {
		errs = append(errs, errors.New("RESTORE_TIMEOUT and CHECK_TIMEOUT must be positive"))
	}
	if c.Guard.RefreshMargin < 0 {
		errs = append(errs, errors.New("REFRESH_MARGIN must not be negative"))
	}
	if c.Guard.IdleTTL <= 0 {
		errs = append(errs, errors.New("GUARD_IDLE_TTL must be positive"))
	}
	if c.Guard.MaxGuards <= 0 {
		errs = append(errs, errors.New("GUARD_MAX must be positive"))
	}
	if c.HTTP.CookieSecret != "" && len(c.HTTP.CookieSecret) < 32 {
		errs = append(errs, errors.New("COOKIE_SECRET must be at least 32 characters"))
	}
	if c.HTTP.LoginRatePerMin <= 0 {
		errs = append(errs, errors.New("LOGIN_RATE_PER_MIN must be positive"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not a known level", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
