package kv

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultConnectTimeout bounds dialing a new connection.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultCommandTimeout bounds a single command round trip.
	DefaultCommandTimeout = 3 * time.Second

	minReadyTimeout = 3 * time.Second
)

// Config describes how to reach the store. URL takes precedence over Addr.
type Config struct {
	Addr     string
	URL      string
	Username string
	Password string
	DB       int
	TLS      bool
	PoolSize int

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (c Config) commandTimeout() time.Duration {
	if c.CommandTimeout > 0 {
		return c.CommandTimeout
	}
	return DefaultCommandTimeout
}

// ReadyTimeout is how long a fresh connection may take to answer PING:
// connect + command timeout, never less than three seconds.
func (c Config) ReadyTimeout() time.Duration {
	d := c.connectTimeout() + c.commandTimeout()
	if d < minReadyTimeout {
		return minReadyTimeout
	}
	return d
}

// Runner executes store commands with the reconnect policy applied. [Client]
// is the production implementation.
type Runner interface {
	Run(ctx context.Context, fn func(context.Context, redis.UniversalClient) error) error
}

// Factory builds a new, not yet verified, go-redis client.
type Factory func(Config) (redis.UniversalClient, error)

// Option configures a [Client].
type Option func(*Client)

// WithLogger sets the logger used for reconnect warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFactory replaces the go-redis client constructor.
func WithFactory(f Factory) Option {
	return func(c *Client) {
		if f != nil {
			c.factory = f
		}
	}
}

// Client is the process-wide handle to the shared store. The zero value is
// not usable; construct with [New] or [FromClient].
type Client struct {
	cfg     Config
	factory Factory
	logger  *slog.Logger
	owned   bool

	mu     sync.Mutex
	conn   redis.UniversalClient
	closed bool

	reconnects atomic.Uint64
}

// New returns a Client that dials lazily on first use.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		factory: NewRedisClient,
		logger:  slog.Default(),
		owned:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromClient wraps a client owned by the caller. Transient failures are still
// retried once, but the wrapped client is never closed or replaced.
func FromClient(rdb redis.UniversalClient, opts ...Option) *Client {
	c := &Client{
		factory: func(Config) (redis.UniversalClient, error) { return rdb, nil },
		logger:  slog.Default(),
		conn:    rdb,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRedisClient is the default [Factory]. It never enables go-redis retries:
// a command either succeeds on the connection it was given or fails fast.
func NewRedisClient(cfg Config) (redis.UniversalClient, error) {
	var opts *redis.Options

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		opts = parsed
	} else {
		if strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("%w: empty address", ErrInvalidConfig)
		}
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.TLS {
			host, _, err := net.SplitHostPort(cfg.Addr)
			if err != nil {
				host = cfg.Addr
			}
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		}
	}

	opts.DialTimeout = cfg.connectTimeout()
	opts.ReadTimeout = cfg.commandTimeout()
	opts.WriteTimeout = cfg.commandTimeout()
	opts.PoolTimeout = cfg.commandTimeout()
	opts.MaxRetries = -1
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	return redis.NewClient(opts), nil
}

// Run executes fn on the current connection. A transient failure tears the
// connection down, recreates it, and runs fn exactly once more.
func (c *Client) Run(ctx context.Context, fn func(context.Context, redis.UniversalClient) error) error {
	conn, err := c.current(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, conn)
	if err == nil || !IsTransient(err) || ctx.Err() != nil {
		return err
	}

	c.reconnects.Add(1)
	c.logger.Warn("kv: transient store failure, reconnecting", "error", err)
	c.reset(conn)

	conn, err = c.current(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, conn)
}

// Ping reports store availability and round-trip latency.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := c.Run(ctx, func(ctx context.Context, rdb redis.UniversalClient) error {
		return rdb.Ping(ctx).Err()
	})
	return time.Since(start), err
}

// Reconnects returns how many times Run has recreated the connection.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// Stats is a point-in-time view of the connection behind a [Client].
type Stats struct {
	Connected    bool
	Reconnects   uint64
	TotalConns   uint32
	IdleConns    uint32
	PoolTimeouts uint32
}

// Stats reports connection and pool counters. It never dials.
func (c *Client) Stats() Stats {
	st := Stats{Reconnects: c.reconnects.Load()}

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return st
	}

	st.Connected = true
	if ps := conn.PoolStats(); ps != nil {
		st.TotalConns = ps.TotalConns
		st.IdleConns = ps.IdleConns
		st.PoolTimeouts = ps.Timeouts
	}
	return st
}

// Close releases an owned connection. Further Run calls return [ErrClosed].
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.owned && c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) current(ctx context.Context) (redis.UniversalClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := c.factory(c.cfg)
	if err != nil {
		return nil, err
	}

	readyCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadyTimeout())
	defer cancel()
	if err := conn.Ping(readyCtx).Err(); err != nil {
		if c.owned {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	c.conn = conn
	return conn, nil
}

// reset drops failed only if it is still the current connection, so that
// concurrent callers observing the same failure recreate it once.
func (c *Client) reset(failed redis.UniversalClient) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.owned || c.conn != failed {
		return
	}
	c.conn = nil
	_ = failed.Close()
}

var transientSignatures = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"broken pipe",
	"i/o timeout",
	"use of closed network connection",
	"client is closed",
	"connection pool timeout",
}

// IsTransient reports whether err looks like a broken or unreachable
// connection rather than a command-level failure.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}

	switch {
	case errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, redis.ErrClosed),
		errors.Is(err, redis.ErrPoolTimeout):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
