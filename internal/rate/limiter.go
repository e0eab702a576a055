package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goBFF/kv"
	"github.com/redis/go-redis/v9"
)

const consumeScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`

var consumeLua = redis.NewScript(consumeScript)

// Result describes one consumed unit of a window.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Duration
}

// Limiter enforces per-(scope, identifier) fixed-window limits using Redis
// counters.
type Limiter struct {
	store  kv.Runner
	prefix string
}

// New creates a rate [Limiter] on the given store. prefix namespaces keys.
func New(store kv.Runner, prefix string) *Limiter {
	return &Limiter{
		store:  store,
		prefix: prefix,
	}
}

// Key returns the counter key for a scope and caller identifier.
func (l *Limiter) Key(scope, identifier string) string {
	return l.prefix + ":rl:" + scope + ":" + identifier
}

// Consume counts one request against key and reports whether it fits in the
// current window of length window.
func (l *Limiter) Consume(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 {
		return Result{}, fmt.Errorf("rate: limit must be > 0, got %d", limit)
	}
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	var current, ttl int64
	err := l.store.Run(ctx, func(ctx context.Context, rdb redis.UniversalClient) error {
		raw, err := consumeLua.Run(ctx, rdb, []string{key}, windowMs).Int64Slice()
		if err != nil {
			return err
		}
		if len(raw) != 2 {
			return errors.New("unexpected consume script reply")
		}
		current, ttl = raw[0], raw[1]
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	remaining := int64(limit) - current
	if remaining < 0 {
		remaining = 0
	}

	reset := time.Duration(ttl) * time.Millisecond
	if ttl <= 0 {
		reset = time.Duration(windowMs) * time.Millisecond
	}

	return Result{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: int(remaining),
		Reset:     reset,
	}, nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	err := l.store.Run(ctx, func(ctx context.Context, rdb redis.UniversalClient) error {
		return rdb.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
