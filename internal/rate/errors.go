package rate

import "errors"

var (
	// ErrRateLimited marks a denied request once it is turned into an error.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps shared-store failures.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
