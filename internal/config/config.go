package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/alexjbarnes/crm-auth/internal/state"
)

// Code store backends selectable with OAUTH_CODE_STORE.
const (
	CodeStoreMemory = "memory"
	CodeStoreLRU    = "lru"
)

// Config holds all environment-based configuration for crm-auth.
type Config struct {
	// AuthSecret signs session assertions. It is checked by the session
	// codec when the server starts, not here, so commands that never
	// touch sessions can run without it.
	AuthSecret string `env:"AUTH_SECRET"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":3002"`

	// PublicURL is the externally visible base URL. It is the OAuth issuer
	// and the protected resource identifier.
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:3002"`

	// LoginURL receives unauthenticated authorize requests with a
	// return_to parameter. Defaults to PublicURL.
	LoginURL string `env:"LOGIN_URL"`

	// StatePath is the bbolt file holding opaque credentials. Defaults to
	// ~/.crm-auth/state.db.
	StatePath string `env:"STATE_PATH"`

	SessionCookie string `env:"SESSION_COOKIE" envDefault:"hcrm_session"`
	CookieDomain  string `env:"COOKIE_DOMAIN"`

	// Environment controls log format and cookie security.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// OAuthStrict binds authorize requests to registered clients and
	// their redirect URIs.
	OAuthStrict bool `env:"OAUTH_STRICT" envDefault:"true"`
	// OAuthRequirePKCE makes an S256 challenge mandatory at authorize and
	// the verifier mandatory at exchange. Off, PKCE is checked only when
	// a verifier is supplied.
	OAuthRequirePKCE bool `env:"OAUTH_REQUIRE_PKCE" envDefault:"false"`
	// OAuthStrictRegistration refuses registrations without redirect URIs
	// or with remote http, script-bearing or fragment URIs.
	OAuthStrictRegistration bool `env:"OAUTH_STRICT_REGISTRATION" envDefault:"false"`

	CodeStore     string `env:"OAUTH_CODE_STORE" envDefault:"memory"`
	CodeStoreSize int    `env:"OAUTH_CODE_STORE_SIZE" envDefault:"10000"`

	// CORSAllowedOrigins is a comma separated list. Empty reflects any
	// origin.
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if cfg.LoginURL == "" {
		cfg.LoginURL = cfg.PublicURL
	}

	cfg.LoginURL = strings.TrimRight(cfg.LoginURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		p, err := state.DefaultPath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = p
	}

	absPath, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	cfg.StatePath = absPath

	return cfg, nil
}

func (c *Config) validate() error {
	if err := validateBaseURL("PUBLIC_URL", c.PublicURL); err != nil {
		return err
	}

	if err := validateBaseURL("LOGIN_URL", c.LoginURL); err != nil {
		return err
	}

	if c.SessionCookie == "" {
		return fmt.Errorf("SESSION_COOKIE must not be empty")
	}

	switch c.CodeStore {
	case CodeStoreMemory, CodeStoreLRU:
	default:
		return fmt.Errorf("OAUTH_CODE_STORE must be %q or %q, got %q", CodeStoreMemory, CodeStoreLRU, c.CodeStore)
	}

	if c.CodeStoreSize <= 0 {
		return fmt.Errorf("OAUTH_CODE_STORE_SIZE must be positive, got %d", c.CodeStoreSize)
	}

	return nil
}

func validateBaseURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, raw)
	}

	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", name, raw)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AllowedOrigins parses CORS_ALLOWED_ORIGINS. Entries are trimmed and
// empty entries skipped. A nil result means any origin is allowed.
func (c *Config) AllowedOrigins() []string {
	if strings.TrimSpace(c.CORSAllowedOrigins) == "" {
		return nil
	}

	var origins []string

	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}

		origins = append(origins, o)
	}

	return origins
}
