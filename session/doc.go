// Package session provides the Redis-backed session store that maps an opaque
// browser session identifier (sid) to an encrypted identity-provider token bundle.
//
// # Record format
//
// Each session is one JSON record under "<prefix>:s:<sid>" holding a schema
// version, creation/last-seen timestamps, the sliding idle expiry, the immutable
// absolute expiry, denormalized identity fields, and the token bundle sealed by
// package envelope. Records that fail schema validation, are past either expiry,
// or cannot be opened are deleted on first sight and reported as absent.
//
// # Expiry
//
// The storage TTL is always min(idle, absolute) - now, so Redis cleans up on its
// own. Read-time expiry checks are authoritative regardless of TTL precision.
//
// # Refresh lock
//
// AcquireLock / ReleaseLock implement a per-sid mutual-exclusion key with SET NX
// and a Lua compare-and-delete, used to keep a single upstream token refresh in
// flight per session.
//
// # What this package must NOT do
//
//   - Talk to the identity provider.
//   - Return token material for a record it has not authenticated.
//   - Conflate "no session" with "store unavailable".
package session
