package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goBFF/kv"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps every infrastructure failure. Callers must treat
// it as "session unavailable", never as "session absent".
var ErrStoreUnavailable = errors.New("session store unavailable")

// Default lifetimes applied by [NewStore] for zero-valued [Config] fields.
const (
	DefaultKeyPrefix         = "bff"
	DefaultIdleTimeout       = 30 * time.Minute
	DefaultAbsoluteTimeout   = 8 * time.Hour
	DefaultTouchThrottle     = 60 * time.Second
	DefaultMaxTouchExtension = 2 * time.Hour
	DefaultLockTTL           = 10 * time.Second
)

const sessionIDBytes = 32

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLockLua = redis.NewScript(releaseLockScript)

// Sealer encrypts token bundles at rest. *envelope.Sealer satisfies it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(envelope string) (string, bool)
}

// Option configures a [Store].
type Option func(*Store)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver registers a hook for self-healing deletions.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// WithLogger sets the logger used for eviction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is the Redis-backed session store. It holds no per-session state of
// its own; every call reads and writes the shared store.
//
//	Docs: docs/session.md
type Store struct {
	kv       kv.Runner
	sealer   Sealer
	cfg      Config
	now      func() time.Time
	observer Observer
	logger   *slog.Logger
}

// NewStore creates a session [Store]. Zero-valued config fields take the
// package defaults.
func NewStore(store kv.Runner, sealer Sealer, cfg Config, opts ...Option) *Store {
	s := &Store{
		kv:     store,
		sealer: sealer,
		cfg:    withDefaults(cfg),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func withDefaults(cfg Config) Config {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.AbsoluteTimeout <= 0 {
		cfg.AbsoluteTimeout = DefaultAbsoluteTimeout
	}
	if cfg.TouchThrottle < 0 {
		cfg.TouchThrottle = 0
	}
	if cfg.MaxTouchExtension <= 0 {
		cfg.MaxTouchExtension = DefaultMaxTouchExtension
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return cfg
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) key(sid string) string {
	return s.cfg.KeyPrefix + ":s:" + sid
}

func (s *Store) lockKey(sid string) string {
	return s.cfg.KeyPrefix + ":l:" + sid
}

// NewSessionID returns 32 random bytes, base64url encoded without padding.
func NewSessionID() (string, error) {
	var b [sessionIDBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// Encode persists token under its sid, or a freshly minted one when the token
// carries no well-formed sid, and returns the sid used.
//
// Lifetimes of an existing live record are preserved; otherwise the token's
// embedded markers are honored before falling back to the configured timeouts.
//
//	Performance: 2 Redis commands (GET + SET or DEL).
func (s *Store) Encode(ctx context.Context, token TokenSet) (string, error) {
	view, err := s.Save(ctx, token)
	if err != nil {
		return "", err
	}
	return view.SessionID, nil
}

// Save is [Store.Encode] returning the lifetimes that were written, so
// callers can align the cookie with the record.
func (s *Store) Save(ctx context.Context, token TokenSet) (View, error) {
	now := s.now()
	nowMs := now.UnixMilli()

	sid := token.SessionID
	if !ValidSessionID(sid) {
		fresh, err := NewSessionID()
		if err != nil {
			return View{}, err
		}
		sid = fresh
	}

	existing, found, err := s.loadRecord(ctx, sid, nowMs)
	if err != nil {
		return View{}, err
	}

	var rec Record
	switch {
	case found:
		rec = existing
		rec.LastSeenAtMs = max(existing.LastSeenAtMs, nowMs)
	default:
		createdAt := nowMs
		if token.CreatedAtMs > 0 && token.CreatedAtMs <= nowMs {
			createdAt = token.CreatedAtMs
		}
		absolute := now.Add(s.cfg.AbsoluteTimeout).UnixMilli()
		if token.AbsoluteExpiresAtMs > 0 {
			absolute = token.AbsoluteExpiresAtMs
		}
		rec = Record{
			CreatedAtMs:         createdAt,
			LastSeenAtMs:        nowMs,
			IdleExpiresAtMs:     min(now.Add(s.cfg.IdleTimeout).UnixMilli(), absolute),
			AbsoluteExpiresAtMs: absolute,
		}
	}

	token.SessionID = sid
	token.CreatedAtMs = rec.CreatedAtMs
	token.AbsoluteExpiresAtMs = rec.AbsoluteExpiresAtMs
	rec.UserID = optional(token.UserID)
	rec.UserEmail = optional(token.UserEmail)

	view := View{
		SessionID:         sid,
		Token:             token,
		CreatedAt:         time.UnixMilli(rec.CreatedAtMs),
		LastSeenAt:        time.UnixMilli(rec.LastSeenAtMs),
		IdleExpiresAt:     time.UnixMilli(rec.IdleExpiresAtMs),
		AbsoluteExpiresAt: time.UnixMilli(rec.AbsoluteExpiresAtMs),
	}

	ttl := time.Duration(rec.expiresAtMs()-nowMs) * time.Millisecond
	if ttl <= 0 {
		if err := s.del(ctx, s.key(sid)); err != nil {
			return View{}, err
		}
		return view, nil
	}

	plain, err := json.Marshal(token)
	if err != nil {
		return View{}, err
	}
	sealed, err := s.sealer.Seal(string(plain))
	if err != nil {
		return View{}, err
	}
	rec.TokenCiphertext = sealed

	data, err := EncodeRecord(rec)
	if err != nil {
		return View{}, err
	}
	err = s.kv.Run(ctx, func(ctx context.Context, rdb redis.UniversalClient) error {
		return rdb.Set(ctx, s.key(sid), data, ttl).Err()
	})
	if err != nil {
		return View{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return view, nil
}

// Decode resolves sid to its token bundle.
func (s *Store) Decode(ctx context.Context, sid string) (TokenSet, bool, error) {
	view, ok, err := s.Read(ctx, sid)
	if err != nil || !ok {
		return TokenSet{}, false, err
	}
	return view.Token, true, nil
}

// Read resolves sid to a full session view. Malformed identifiers are
// rejected without touching the store. Corrupt, expired and undecryptable
// records are deleted and reported as absent.
//
//	Performance: 1 Redis GET (+1 DEL on eviction).
func (s *Store) Read(ctx context.Context, sid string) (View, bool, error) {
	rec, token, ok, err := s.load(ctx, sid)
	if err != nil || !ok {
		return View{}, false, err
	}
	return View{
		SessionID:         sid,
		Token:             token,
		CreatedAt:         time.UnixMilli(rec.CreatedAtMs),
		LastSeenAt:        time.UnixMilli(rec.LastSeenAtMs),
		IdleExpiresAt:     time.UnixMilli(rec.IdleExpiresAtMs),
		AbsoluteExpiresAt: time.UnixMilli(rec.AbsoluteExpiresAtMs),
	}, true, nil
}

// Touch slides the idle expiry. A positive extend is an explicit request and
// is clamped to MaxTouchExtension; otherwise the idle timeout applies and
// calls inside the throttle window are answered without a write. The idle
// expiry never passes the absolute expiry.
//
//	Performance: 1 Redis GET (+1 SET XX when not throttled).
func (s *Store) Touch(ctx context.Context, sid string, extend time.Duration) (TouchResult, error) {
	rec, token, ok, err := s.load(ctx, sid)
	if err != nil || !ok {
		return TouchResult{}, err
	}

	now := s.now()
	nowMs := now.UnixMilli()

	explicit := extend > 0
	ext := s.cfg.IdleTimeout
	if explicit {
		ext = min(extend, s.cfg.MaxTouchExtension)
	}

	if !explicit && nowMs-rec.LastSeenAtMs < s.cfg.TouchThrottle.Milliseconds() {
		return TouchResult{
			Touched:           false,
			Token:             &token,
			IdleExpiresAt:     time.UnixMilli(rec.IdleExpiresAtMs),
			AbsoluteExpiresAt: time.UnixMilli(rec.AbsoluteExpiresAtMs),
		}, nil
	}

	rec.IdleExpiresAtMs = min(now.Add(ext).UnixMilli(), rec.AbsoluteExpiresAtMs)
	rec.LastSeenAtMs = max(rec.LastSeenAtMs, nowMs)

	ttl := time.Duration(rec.expiresAtMs()-nowMs) * time.Millisecond
	if ttl <= 0 {
		if err := s.del(ctx, s.key(sid)); err != nil {
			return TouchResult{}, err
		}
		return TouchResult{}, nil
	}

	data, err := EncodeRecord(rec)
	if err != nil {
		return TouchResult{}, err
	}

	// XX keeps a concurrent Destroy from being undone.
	var written bool
	err = s.kv.Run(ctx, func(ctx context.Context, rdb redis.UniversalClient) error {
		res, err := rdb.SetArgs(ctx, s.key(sid), data, redis.SetArgs{Mode: "XX", TTL: ttl}).Result()
		if errors.Is(err, redis.Nil) {
			written = false
			return nil
		}
		if err != nil {
			return err
		}
		written = res == "OK"
		return nil
	})
	if err != nil {
		return TouchResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !written {
		return TouchResult{}, nil
	}

	return TouchResult{
		Touched:           true,
		Token:             &token,
		IdleExpiresAt:     time.UnixMilli(rec.IdleExpiresAtMs),
		AbsoluteExpiresAt: time.UnixMilli(rec.AbsoluteExpiresAtMs),
	}, nil
}

// Destroy deletes the session. Deleting an absent session is not an error.
func (s *Store) Destroy(ctx context.Context, sid string) error {
	if !ValidSessionID(sid) {
		return nil
	}
	return s.del(ctx, s.key(sid))
}

// AcquireLock takes the refresh lock for sid. ok is false when another
// holder has it; the returned token is needed to release it.
func (s *Store) AcquireLock(ctx context.Context, sid string) (string, bool, error) {
	if !ValidSessionID(sid) {
		return "", false, nil
	}
	token := uuid.NewString()

	var acquired bool
	err := s.kv.Run(ctx, func(ctx context.Context, rdb redis.UniversalClient) error {
		ok, err := rdb.SetNX(ctx, s.lockKey(sid), token, s.cfg.LockTTL).Result()
		if err != nil {
			return err
		}
		acquired = ok
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock deletes the lock only if it is still held by token.
func (s *Store) ReleaseLock(ctx context.Context, sid, token string) (bool, error) {
	if !ValidSessionID(sid) || token == "" {
		return false, nil
	}

	var deleted int64
	err := s.kv.Run(ctx, func(ctx context.Context, rdb redis.UniversalClient) error {
		n, err := releaseLockLua.Run(ctx, rdb, []string{s.lockKey(sid)}, token).Int64()
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return deleted == 1, nil
}

// load fetches, validates and decrypts the record for sid, evicting anything
// that cannot be trusted.
func (s *Store) load(ctx context.Context, sid string) (Record, TokenSet, bool, error) {
	if !ValidSessionID(sid) {
		return Record{}, TokenSet{}, false, nil
	}
	key := s.key(sid)

	data, found, err := s.get(ctx, key)
	if err != nil || !found {
		return Record{}, TokenSet{}, false, err
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return Record{}, TokenSet{}, false, s.evict(ctx, sid, EvictCorrupt)
	}
	if rec.expired(s.now().UnixMilli()) {
		return Record{}, TokenSet{}, false, s.evict(ctx, sid, EvictExpired)
	}

	plain, ok := s.sealer.Open(rec.TokenCiphertext)
	if !ok {
		return Record{}, TokenSet{}, false, s.evict(ctx, sid, EvictUndecryptable)
	}
	var token TokenSet
	if err := json.Unmarshal([]byte(plain), &token); err != nil {
		return Record{}, TokenSet{}, false, s.evict(ctx, sid, EvictCorrupt)
	}
	token.SessionID = sid
	return rec, token, true, nil
}

// loadRecord returns the live record for sid without decrypting it. Anything
// unusable is treated as absent; Encode overwrites it anyway.
func (s *Store) loadRecord(ctx context.Context, sid string, nowMs int64) (Record, bool, error) {
	data, found, err := s.get(ctx, s.key(sid))
	if err != nil || !found {
		return Record{}, false, err
	}
	rec, err := DecodeRecord(data)
	if err != nil || rec.expired(nowMs) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.kv.Run(ctx, func(ctx context.Context, rdb redis.UniversalClient) error {
		b, err := rdb.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return data, true, nil
}

func (s *Store) del(ctx context.Context, key string) error {
	err := s.kv.Run(ctx, func(ctx context.Context, rdb redis.UniversalClient) error {
		return rdb.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) evict(ctx context.Context, sid string, reason EvictReason) error {
	s.logger.Debug("session: evicting record", "sid", shortID(sid), "reason", string(reason))
	if err := s.del(ctx, s.key(sid)); err != nil {
		return err
	}
	if s.observer != nil {
		s.observer.SessionEvicted(reason)
	}
	return nil
}

// shortID keeps session identifiers out of logs.
func shortID(sid string) string {
	if len(sid) <= 6 {
		return sid
	}
	return sid[:6] + "…"
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
