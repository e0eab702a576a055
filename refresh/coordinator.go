package refresh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goBFF/session"
)

// Defaults applied by [NewCoordinator] for zero-valued [Config] fields.
const (
	DefaultSkew         = 60 * time.Second
	DefaultWaitAttempts = 5
	DefaultWaitInterval = 200 * time.Millisecond
)

// ErrNoRefresher is returned by [Coordinator.Ensure] when a refresh is due but
// no upstream client was configured.
var ErrNoRefresher = errors.New("refresh: no refresher configured")

// Tokens is what an identity provider returns from a refresh grant.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}

// Refresher exchanges a refresh token for a new token set.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// Store is the subset of [session.Store] the coordinator needs.
type Store interface {
	Decode(ctx context.Context, sid string) (session.TokenSet, bool, error)
	Encode(ctx context.Context, token session.TokenSet) (string, error)
	AcquireLock(ctx context.Context, sid string) (string, bool, error)
	ReleaseLock(ctx context.Context, sid, token string) (bool, error)
}

// Observer receives refresh outcomes.
type Observer interface {
	RefreshSucceeded()
	RefreshFailed()
	RefreshContended()
}

// Config tunes refresh timing.
type Config struct {
	// Skew refreshes tokens this long before they expire.
	Skew time.Duration
	// WaitAttempts and WaitInterval bound how long a caller that lost the
	// lock waits for the winner's result.
	WaitAttempts int
	WaitInterval time.Duration
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithObserver registers an outcome hook.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator runs lock-guarded refreshes against a session store.
type Coordinator struct {
	store     Store
	refresher Refresher
	cfg       Config
	now       func() time.Time
	observer  Observer
	logger    *slog.Logger
}

// NewCoordinator builds a Coordinator. refresher may be nil, in which case
// due refreshes fail with [ErrNoRefresher].
func NewCoordinator(store Store, refresher Refresher, cfg Config, opts ...Option) *Coordinator {
	if cfg.Skew <= 0 {
		cfg.Skew = DefaultSkew
	}
	if cfg.WaitAttempts <= 0 {
		cfg.WaitAttempts = DefaultWaitAttempts
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = DefaultWaitInterval
	}
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Due reports whether token should be refreshed now. Bundles already flagged
// with a refresh error are not retried.
func (c *Coordinator) Due(token session.TokenSet) bool {
	if token.RefreshToken == "" || token.ExpiresAt <= 0 || token.Error != "" {
		return false
	}
	return c.now().Add(c.cfg.Skew).UnixMilli() >= token.ExpiresAt
}

// Ensure returns the token bundle for sid, refreshed first when its access
// token is about to expire. ok is false when the session does not exist.
//
// A failed upstream refresh is not an error: the returned bundle carries
// [session.RefreshErrorFlag] and the session is kept.
func (c *Coordinator) Ensure(ctx context.Context, sid string) (session.TokenSet, bool, error) {
	token, ok, err := c.store.Decode(ctx, sid)
	if err != nil || !ok {
		return session.TokenSet{}, false, err
	}
	if !c.Due(token) {
		return token, true, nil
	}

	lock, acquired, err := c.store.AcquireLock(ctx, sid)
	if err != nil {
		return session.TokenSet{}, false, err
	}
	if !acquired {
		if c.observer != nil {
			c.observer.RefreshContended()
		}
		return c.awaitWinner(ctx, sid, token)
	}
	defer func() {
		// The caller's context may already be done; release on a fresh one.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if _, err := c.store.ReleaseLock(relCtx, sid, lock); err != nil {
			c.logger.Warn("refresh: lock release failed", "error", err)
		}
	}()

	// Another holder may have finished between our read and the lock.
	token, ok, err = c.store.Decode(ctx, sid)
	if err != nil || !ok {
		return session.TokenSet{}, false, err
	}
	if !c.Due(token) {
		return token, true, nil
	}

	return c.refresh(ctx, token)
}

func (c *Coordinator) refresh(ctx context.Context, token session.TokenSet) (session.TokenSet, bool, error) {
	if c.refresher == nil {
		return session.TokenSet{}, false, ErrNoRefresher
	}

	fresh, err := c.refresher.Refresh(ctx, token.RefreshToken)
	if err != nil {
		c.logger.Warn("refresh: upstream refresh failed", "error", err)
		if c.observer != nil {
			c.observer.RefreshFailed()
		}
		token.Error = session.RefreshErrorFlag
		if _, encErr := c.store.Encode(ctx, token); encErr != nil {
			return session.TokenSet{}, false, encErr
		}
		return token, true, nil
	}

	token.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		token.RefreshToken = fresh.RefreshToken
	}
	if fresh.IDToken != "" {
		token.IDToken = fresh.IDToken
	}
	token.ExpiresAt = 0
	if !fresh.ExpiresAt.IsZero() {
		token.ExpiresAt = fresh.ExpiresAt.UnixMilli()
	}
	token.Error = ""

	if _, err := c.store.Encode(ctx, token); err != nil {
		return session.TokenSet{}, false, err
	}
	if c.observer != nil {
		c.observer.RefreshSucceeded()
	}
	return token, true, nil
}

// awaitWinner polls for the lock holder's result. After the last attempt the
// most recent bundle is returned as-is, even if still stale.
func (c *Coordinator) awaitWinner(ctx context.Context, sid string, stale session.TokenSet) (session.TokenSet, bool, error) {
	timer := time.NewTimer(c.cfg.WaitInterval)
	defer timer.Stop()

	for attempt := 0; attempt < c.cfg.WaitAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return session.TokenSet{}, false, ctx.Err()
		case <-timer.C:
		}

		token, ok, err := c.store.Decode(ctx, sid)
		if err != nil || !ok {
			return session.TokenSet{}, false, err
		}
		if !c.Due(token) {
			return token, true, nil
		}
		stale = token
		timer.Reset(c.cfg.WaitInterval)
	}
	return stale, true, nil
}
