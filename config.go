package goBFF

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override what differs.
type Config struct {
	Session   SessionConfig
	Crypto    CryptoConfig
	Redis     RedisConfig
	Refresh   RefreshConfig
	Identity  IdentityConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Cookie    CookieConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetimes and key layout.
type SessionConfig struct {
	KeyPrefix         string
	IdleTimeout       time.Duration
	AbsoluteTimeout   time.Duration
	TouchThrottle     time.Duration
	MaxTouchExtension time.Duration
	LockTTL           time.Duration
}

/*
====================================
CRYPTO CONFIG
====================================
*/

// CryptoConfig holds the token-encryption secret. PreviousSecrets are only
// used to decrypt, so the secret can be rotated without ending sessions.
type CryptoConfig struct {
	Secret          string
	PreviousSecrets []string
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig describes the shared store. URL takes precedence over Addr.
type RedisConfig struct {
	Addr           string
	URL            string
	Username       string
	Password       string
	DB             int
	TLS            bool
	PoolSize       int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig enables coordinated access-token refresh against the
// identity provider's token endpoint.
type RefreshConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthURL      string
	RedirectURL  string
	Scopes       []string
	Skew         time.Duration
	WaitAttempts int
	WaitInterval time.Duration
}

// IdentityConfig narrows which ID tokens identity fields are read from.
type IdentityConfig struct {
	Issuer   string
	Audience string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule is one fixed window.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig maps scopes (touch, status, clear, auth) to rules.
type RateLimitConfig struct {
	Enabled bool
	Rules   map[string]RateLimitRule
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the canonical public origin, e.g.
// "https://app.example.com". It drives the trusted-host check, the CSRF
// origin check and the Secure cookie attribute.
type SecurityConfig struct {
	CanonicalOrigin string
}

// CookieConfig names the session cookie. LegacyNames are recognized on
// read and expired on clear.
type CookieConfig struct {
	Name        string
	LegacyNames []string
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process metric collection.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Rate-limit scopes.
const (
	ScopeTouch  = "touch"
	ScopeStatus = "status"
	ScopeClear  = "clear"
	ScopeAuth   = "auth"
)

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Crypto.Secret and
// Security.CanonicalOrigin have no default and must be set.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			KeyPrefix:         "bff",
			IdleTimeout:       30 * time.Minute,
			AbsoluteTimeout:   8 * time.Hour,
			TouchThrottle:     60 * time.Second,
			MaxTouchExtension: 2 * time.Hour,
			LockTTL:           10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:           "127.0.0.1:6379",
			ConnectTimeout: 5 * time.Second,
			CommandTimeout: 3 * time.Second,
		},
		Refresh: RefreshConfig{
			Enabled:      false,
			Skew:         60 * time.Second,
			WaitAttempts: 5,
			WaitInterval: 200 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rules: map[string]RateLimitRule{
				ScopeTouch:  {Limit: 60, Window: time.Minute},
				ScopeStatus: {Limit: 120, Window: time.Minute},
				ScopeClear:  {Limit: 20, Window: time.Minute},
				ScopeAuth:   {Limit: 10, Window: time.Minute},
			},
		},
		Cookie: CookieConfig{
			Name: "bff_session",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Crypto.PreviousSecrets = append([]string(nil), cfg.Crypto.PreviousSecrets...)
	out.Refresh.Scopes = append([]string(nil), cfg.Refresh.Scopes...)
	out.Cookie.LegacyNames = append([]string(nil), cfg.Cookie.LegacyNames...)
	if cfg.RateLimit.Rules != nil {
		out.RateLimit.Rules = make(map[string]RateLimitRule, len(cfg.RateLimit.Rules))
		for k, v := range cfg.RateLimit.Rules {
			out.RateLimit.Rules[k] = v
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	// Session
	if strings.TrimSpace(c.Session.KeyPrefix) == "" {
		return errors.New("Session KeyPrefix must not be empty")
	}
	if strings.ContainsAny(c.Session.KeyPrefix, " \t\r\n") {
		return errors.New("Session KeyPrefix must not contain whitespace")
	}
	if c.Session.IdleTimeout <= 0 {
		return errors.New("Session IdleTimeout must be > 0")
	}
	if c.Session.AbsoluteTimeout <= 0 {
		return errors.New("Session AbsoluteTimeout must be > 0")
	}
	if c.Session.IdleTimeout > c.Session.AbsoluteTimeout {
		return errors.New("Session IdleTimeout must be <= AbsoluteTimeout")
	}
	if c.Session.TouchThrottle < 0 {
		return errors.New("Session TouchThrottle must be >= 0")
	}
	if c.Session.MaxTouchExtension <= 0 {
		return errors.New("Session MaxTouchExtension must be > 0")
	}
	if c.Session.LockTTL <= 0 {
		return errors.New("Session LockTTL must be > 0")
	}

	// Crypto
	if strings.TrimSpace(c.Crypto.Secret) == "" {
		return errors.New("Crypto Secret is required")
	}
	for i, s := range c.Crypto.PreviousSecrets {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("Crypto PreviousSecrets[%d] is empty", i)
		}
	}

	// Redis
	if c.Redis.URL == "" && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("Redis Addr or URL is required")
	}
	if c.Redis.DB < 0 {
		return errors.New("Redis DB must be >= 0")
	}
	if c.Redis.ConnectTimeout < 0 || c.Redis.CommandTimeout < 0 {
		return errors.New("Redis timeouts must be >= 0")
	}

	// Refresh
	if c.Refresh.Enabled {
		if strings.TrimSpace(c.Refresh.TokenURL) == "" {
			return errors.New("Refresh TokenURL is required when refresh is enabled")
		}
		if strings.TrimSpace(c.Refresh.ClientID) == "" {
			return errors.New("Refresh ClientID is required when refresh is enabled")
		}
	}
	if c.Refresh.Skew < 0 || c.Refresh.WaitAttempts < 0 || c.Refresh.WaitInterval < 0 {
		return errors.New("Refresh timing values must be >= 0")
	}
	if c.Refresh.WaitInterval*time.Duration(c.Refresh.WaitAttempts) > c.Session.LockTTL {
		return errors.New("Refresh wait budget must not exceed Session LockTTL")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		for scope, rule := range c.RateLimit.Rules {
			if rule.Limit <= 0 || rule.Window <= 0 {
				return fmt.Errorf("RateLimit rule %q must have Limit > 0 and Window > 0", scope)
			}
		}
	}

	// Security
	if _, err := c.canonicalURL(); err != nil {
		return err
	}

	// Cookie
	if !validCookieName(c.Cookie.Name) {
		return errors.New("Cookie Name is invalid")
	}
	for _, name := range c.Cookie.LegacyNames {
		if !validCookieName(name) {
			return fmt.Errorf("Cookie LegacyNames entry %q is invalid", name)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func (c *Config) canonicalURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.Security.CanonicalOrigin)
	if raw == "" {
		return nil, errors.New("Security CanonicalOrigin is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("Security CanonicalOrigin is invalid: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, errors.New("Security CanonicalOrigin must be http or https")
	}
	if u.Host == "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return nil, errors.New("Security CanonicalOrigin must be scheme://host[:port] only")
	}
	return u, nil
}

func validCookieName(name string) bool {
	if name == "" || strings.HasPrefix(name, "__Host-") || strings.HasPrefix(name, "__Secure-") {
		return false
	}
	for _, r := range name {
		if r <= ' ' || r >= 0x7f || strings.ContainsRune(`()<>@,;:\"/[]?={}`, r) {
			return false
		}
	}
	return true
}
