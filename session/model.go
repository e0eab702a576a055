package session

import "time"

// RefreshErrorFlag is stored in [TokenSet.Error] when an upstream refresh failed.
const RefreshErrorFlag = "RefreshAccessTokenError"

// TokenSet is the identity-provider token bundle held for a session. It is
// only ever persisted sealed.
type TokenSet struct {
	SessionID    string `json:"sid,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	// ExpiresAt is the access-token expiry in unix milliseconds.
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Error     string `json:"error,omitempty"`

	UserID    string `json:"userId,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`

	CreatedAtMs         int64 `json:"sessionCreatedAtMs,omitempty"`
	AbsoluteExpiresAtMs int64 `json:"sessionAbsoluteExpiresAtMs,omitempty"`
}

// AccessTokenExpiry returns ExpiresAt as a time, or the zero time when unknown.
func (t TokenSet) AccessTokenExpiry() time.Time {
	if t.ExpiresAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ExpiresAt)
}

// Record is the persisted unit, one per logged-in browser session.
type Record struct {
	Version             int     `json:"v"`
	CreatedAtMs         int64   `json:"createdAtMs"`
	LastSeenAtMs        int64   `json:"lastSeenAtMs"`
	IdleExpiresAtMs     int64   `json:"idleExpiresAtMs"`
	AbsoluteExpiresAtMs int64   `json:"absoluteExpiresAtMs"`
	UserID              *string `json:"userId"`
	UserEmail           *string `json:"userEmail"`
	TokenCiphertext     string  `json:"tokenCiphertext"`
}

func (r Record) expiresAtMs() int64 {
	return min(r.IdleExpiresAtMs, r.AbsoluteExpiresAtMs)
}

func (r Record) expired(nowMs int64) bool {
	return nowMs >= r.IdleExpiresAtMs || nowMs >= r.AbsoluteExpiresAtMs
}

// View is a fully reconstituted session as returned by [Store.Read].
type View struct {
	SessionID         string
	Token             TokenSet
	CreatedAt         time.Time
	LastSeenAt        time.Time
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
}

// TouchResult reports the outcome of [Store.Touch]. Token is nil when the
// session could not be resolved.
type TouchResult struct {
	Touched           bool
	Token             *TokenSet
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
}

// Config holds session lifetime tuning.
type Config struct {
	// KeyPrefix namespaces every key the store writes.
	KeyPrefix string
	// IdleTimeout is the sliding inactivity window.
	IdleTimeout time.Duration
	// AbsoluteTimeout caps total lifetime when the token carries no marker.
	AbsoluteTimeout time.Duration
	// TouchThrottle suppresses implicit touch writes closer together than this.
	TouchThrottle time.Duration
	// MaxTouchExtension clamps explicitly requested extensions.
	MaxTouchExtension time.Duration
	// LockTTL bounds how long a refresh lock may be held.
	LockTTL time.Duration
}

// EvictReason says why a record was deleted during a read.
type EvictReason string

const (
	EvictCorrupt       EvictReason = "corrupt"
	EvictExpired       EvictReason = "expired"
	EvictUndecryptable EvictReason = "undecryptable"
)

// Observer is notified of self-healing deletions. Implementations must be
// cheap and safe for concurrent use.
type Observer interface {
	SessionEvicted(reason EvictReason)
}
