package goBFF

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goBFF/envelope"
	internalaudit "github.com/MrEthical07/goBFF/internal/audit"
	"github.com/MrEthical07/goBFF/internal/rate"
	"github.com/MrEthical07/goBFF/jwt"
	"github.com/MrEthical07/goBFF/kv"
	"github.com/MrEthical07/goBFF/refresh"
	"github.com/MrEthical07/goBFF/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	logger     *slog.Logger
	refresher  refresh.Refresher
	httpClient *http.Client
	auditSink  AuditSink
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis uses an existing client instead of dialing from Config.Redis.
// The engine never closes a client supplied this way.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the logger for the engine and every component it builds.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithRefresher replaces the OAuth 2.0 token-endpoint client used for
// coordinated refresh. Setting one enables refresh regardless of
// Config.Refresh.Enabled.
func (b *Builder) WithRefresher(r refresh.Refresher) *Builder {
	b.refresher = r
	return b
}

// WithHTTPClient sets the client used to reach the identity provider.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithAuditSink sets where audit events go. With audit enabled and no sink,
// events are logged through the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces the wall clock. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the session read latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, derives the token-encryption key and
// wires every component. It performs no network I/O: the shared-store
// connection is opened on first use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	canonical, err := cfg.canonicalURL()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- CRYPTO --------
	sealer, err := envelope.New(cfg.Crypto.Secret, cfg.Crypto.PreviousSecrets...)
	if err != nil {
		return nil, err
	}

	// -------- SHARED STORE --------
	var store *kv.Client
	if b.redis != nil {
		store = kv.FromClient(b.redis, kv.WithLogger(logger))
	} else {
		store = kv.New(kv.Config{
			Addr:           cfg.Redis.Addr,
			URL:            cfg.Redis.URL,
			Username:       cfg.Redis.Username,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			TLS:            cfg.Redis.TLS,
			PoolSize:       cfg.Redis.PoolSize,
			ConnectTimeout: cfg.Redis.ConnectTimeout,
			CommandTimeout: cfg.Redis.CommandTimeout,
		}, kv.WithLogger(logger))
	}

	engine := &Engine{
		config:    cfg,
		canonical: canonical,
		logger:    logger,
		now:       now,
		kv:        store,
		metrics:   NewMetrics(cfg.Metrics),
		identity: jwt.NewReader(jwt.Config{
			Issuer:   cfg.Identity.Issuer,
			Audience: cfg.Identity.Audience,
		}),
	}
	observer := engineObserver{e: engine}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = NewSlogAuditSink(logger, slog.LevelInfo)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	// -------- SESSION STORE --------
	engine.sessions = session.NewStore(store, sealer, session.Config{
		KeyPrefix:         cfg.Session.KeyPrefix,
		IdleTimeout:       cfg.Session.IdleTimeout,
		AbsoluteTimeout:   cfg.Session.AbsoluteTimeout,
		TouchThrottle:     cfg.Session.TouchThrottle,
		MaxTouchExtension: cfg.Session.MaxTouchExtension,
		LockTTL:           cfg.Session.LockTTL,
	},
		session.WithClock(now),
		session.WithObserver(observer),
		session.WithLogger(logger),
	)
	engine.rateLimiter = rate.New(store, cfg.Session.KeyPrefix)

	// -------- REFRESH --------
	if strings.TrimSpace(cfg.Refresh.TokenURL) != "" && strings.TrimSpace(cfg.Refresh.ClientID) != "" {
		client, err := refresh.NewOAuth2Client(refresh.OAuth2Config{
			ClientID:     cfg.Refresh.ClientID,
			ClientSecret: cfg.Refresh.ClientSecret,
			TokenURL:     cfg.Refresh.TokenURL,
			AuthURL:      cfg.Refresh.AuthURL,
			RedirectURL:  cfg.Refresh.RedirectURL,
			Scopes:       cfg.Refresh.Scopes,
		}, b.httpClient)
		if err != nil {
			return nil, err
		}
		engine.oauth = client
	}

	refresher := b.refresher
	if refresher == nil && cfg.Refresh.Enabled && engine.oauth != nil {
		refresher = engine.oauth
	}
	if refresher != nil {
		engine.coordinator = refresh.NewCoordinator(engine.sessions, refresher, refresh.Config{
			Skew:         cfg.Refresh.Skew,
			WaitAttempts: cfg.Refresh.WaitAttempts,
			WaitInterval: cfg.Refresh.WaitInterval,
		},
			refresh.WithObserver(observer),
			refresh.WithLogger(logger),
			refresh.WithClock(now),
		)
	}

	b.built = true

	return engine, nil
}
