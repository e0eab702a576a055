// Package appconfig loads the bffd configuration from configs/config.yaml and
// BFF_* environment variables.
package appconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goBFF"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: session.idle_timeout is read
// from BFF_SESSION_IDLE_TIMEOUT.
const EnvPrefix = "BFF"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Logger    LoggerConfig    `mapstructure:"logger" validate:"required"`
	Session   SessionConfig   `mapstructure:"session"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Cookie    CookieConfig    `mapstructure:"cookie"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	LoginFlow       bool          `mapstructure:"login_flow"`
	// TrustedProxies lists the proxy IPs or CIDRs whose X-Forwarded-For is
	// believed. Empty means the peer address is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies" validate:"omitempty,dive,cidr|ip"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=console json"`
	OutputPath string `mapstructure:"output_path"`
}

type SessionConfig struct {
	KeyPrefix         string        `mapstructure:"key_prefix"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	AbsoluteTimeout   time.Duration `mapstructure:"absolute_timeout"`
	TouchThrottle     time.Duration `mapstructure:"touch_throttle"`
	MaxTouchExtension time.Duration `mapstructure:"max_touch_extension"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
}

type CryptoConfig struct {
	Secret          string   `mapstructure:"secret"`
	PreviousSecrets []string `mapstructure:"previous_secrets"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	URL            string        `mapstructure:"url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	TLS            bool          `mapstructure:"tls"`
	PoolSize       int           `mapstructure:"pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

type RefreshConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	TokenURL     string        `mapstructure:"token_url"`
	AuthURL      string        `mapstructure:"auth_url"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	Scopes       []string      `mapstructure:"scopes"`
	Skew         time.Duration `mapstructure:"skew"`
	WaitAttempts int           `mapstructure:"wait_attempts"`
	WaitInterval time.Duration `mapstructure:"wait_interval"`
}

type IdentityConfig struct {
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

type RateLimitRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Enabled bool                     `mapstructure:"enabled"`
	Rules   map[string]RateLimitRule `mapstructure:"rules"`
}

type SecurityConfig struct {
	CanonicalOrigin string `mapstructure:"canonical_origin"`
}

type CookieConfig struct {
	Name        string   `mapstructure:"name"`
	LegacyNames []string `mapstructure:"legacy_names"`
}

type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool   `mapstructure:"enabled"`
	EnableLatencyHistograms bool   `mapstructure:"enable_latency_histograms"`
	Path                    string `mapstructure:"path" validate:"omitempty,startswith=/"`
}

// Load reads the configuration. With path empty it looks for config.yaml in
// ./configs, ../configs and the working directory, and runs on defaults and
// environment alone when none is found.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// validate checks the server, logger and metrics sections. The session
// sections are checked by goBFF.Config.Validate when the engine is built.
var validate = validator.New(validator.WithRequiredStructEnabled())

// setDefaults mirrors goBFF.DefaultConfig so every key is known to viper and
// can be overridden from the environment.
func setDefaults(v *viper.Viper) {
	d := goBFF.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.login_flow", false)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output_path", "stdout")

	v.SetDefault("session.key_prefix", d.Session.KeyPrefix)
	v.SetDefault("session.idle_timeout", d.Session.IdleTimeout)
	v.SetDefault("session.absolute_timeout", d.Session.AbsoluteTimeout)
	v.SetDefault("session.touch_throttle", d.Session.TouchThrottle)
	v.SetDefault("session.max_touch_extension", d.Session.MaxTouchExtension)
	v.SetDefault("session.lock_ttl", d.Session.LockTTL)

	v.SetDefault("crypto.secret", "")
	v.SetDefault("crypto.previous_secrets", []string{})

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.tls", false)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.connect_timeout", d.Redis.ConnectTimeout)
	v.SetDefault("redis.command_timeout", d.Redis.CommandTimeout)

	v.SetDefault("refresh.enabled", d.Refresh.Enabled)
	v.SetDefault("refresh.client_id", "")
	v.SetDefault("refresh.client_secret", "")
	v.SetDefault("refresh.token_url", "")
	v.SetDefault("refresh.auth_url", "")
	v.SetDefault("refresh.redirect_url", "")
	v.SetDefault("refresh.scopes", []string{})
	v.SetDefault("refresh.skew", d.Refresh.Skew)
	v.SetDefault("refresh.wait_attempts", d.Refresh.WaitAttempts)
	v.SetDefault("refresh.wait_interval", d.Refresh.WaitInterval)

	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.audience", "")

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	for scope, rule := range d.RateLimit.Rules {
		v.SetDefault("rate_limit.rules."+scope+".limit", rule.Limit)
		v.SetDefault("rate_limit.rules."+scope+".window", rule.Window)
	}

	v.SetDefault("security.canonical_origin", "")

	v.SetDefault("cookie.name", d.Cookie.Name)
	v.SetDefault("cookie.legacy_names", []string{})

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.enable_latency_histograms", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Engine converts the file layout into the library configuration.
func (c *Config) Engine() goBFF.Config {
	rules := make(map[string]goBFF.RateLimitRule, len(c.RateLimit.Rules))
	for scope, r := range c.RateLimit.Rules {
		rules[scope] = goBFF.RateLimitRule{Limit: r.Limit, Window: r.Window}
	}

	return goBFF.Config{
		Session: goBFF.SessionConfig{
			KeyPrefix:         c.Session.KeyPrefix,
			IdleTimeout:       c.Session.IdleTimeout,
			AbsoluteTimeout:   c.Session.AbsoluteTimeout,
			TouchThrottle:     c.Session.TouchThrottle,
			MaxTouchExtension: c.Session.MaxTouchExtension,
			LockTTL:           c.Session.LockTTL,
		},
		Crypto: goBFF.CryptoConfig{
			Secret:          c.Crypto.Secret,
			PreviousSecrets: c.Crypto.PreviousSecrets,
		},
		Redis: goBFF.RedisConfig{
			Addr:           c.Redis.Addr,
			URL:            c.Redis.URL,
			Username:       c.Redis.Username,
			Password:       c.Redis.Password,
			DB:             c.Redis.DB,
			TLS:            c.Redis.TLS,
			PoolSize:       c.Redis.PoolSize,
			ConnectTimeout: c.Redis.ConnectTimeout,
			CommandTimeout: c.Redis.CommandTimeout,
		},
		Refresh: goBFF.RefreshConfig{
			Enabled:      c.Refresh.Enabled,
			ClientID:     c.Refresh.ClientID,
			ClientSecret: c.Refresh.ClientSecret,
			TokenURL:     c.Refresh.TokenURL,
			AuthURL:      c.Refresh.AuthURL,
			RedirectURL:  c.Refresh.RedirectURL,
			Scopes:       c.Refresh.Scopes,
			Skew:         c.Refresh.Skew,
			WaitAttempts: c.Refresh.WaitAttempts,
			WaitInterval: c.Refresh.WaitInterval,
		},
		Identity: goBFF.IdentityConfig{
			Issuer:   c.Identity.Issuer,
			Audience: c.Identity.Audience,
		},
		RateLimit: goBFF.RateLimitConfig{
			Enabled: c.RateLimit.Enabled,
			Rules:   rules,
		},
		Security: goBFF.SecurityConfig{
			CanonicalOrigin: c.Security.CanonicalOrigin,
		},
		Cookie: goBFF.CookieConfig{
			Name:        c.Cookie.Name,
			LegacyNames: c.Cookie.LegacyNames,
		},
		Audit: goBFF.AuditConfig{
			Enabled:    c.Audit.Enabled,
			BufferSize: c.Audit.BufferSize,
			DropIfFull: c.Audit.DropIfFull,
		},
		Metrics: goBFF.MetricsConfig{
			Enabled:                 c.Metrics.Enabled,
			EnableLatencyHistograms: c.Metrics.EnableLatencyHistograms,
		},
	}
}
