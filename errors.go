package goBFF

import (
	"errors"

	"github.com/MrEthical07/goBFF/internal/rate"
	"github.com/MrEthical07/goBFF/session"
)

var (
	// ErrStoreUnavailable wraps every shared-store failure. Callers must treat
	// it as "session unavailable", never as "session absent".
	ErrStoreUnavailable = session.ErrStoreUnavailable
	// ErrRateLimitUnavailable is returned by [Engine.Allow] when the counter
	// store cannot be reached.
	ErrRateLimitUnavailable = rate.ErrStoreUnavailable
	// ErrRateLimited is returned by [RateDecision.Err] for a request denied
	// by [Engine.Allow].
	ErrRateLimited = rate.ErrRateLimited
	// ErrEngineNotReady is returned by methods called on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrOAuthDisabled is returned by authorization-code helpers when no
	// provider is configured.
	ErrOAuthDisabled = errors.New("oauth provider not configured")
	// ErrInvalidLogin is returned by [Engine.Login] for a bundle without an
	// access token.
	ErrInvalidLogin = errors.New("login requires an access token")
)
