// Package refresh keeps a session's access token usable.
//
// # Coordination
//
// Many requests for one session may notice an expiring access token at the
// same time. Only the holder of the session's refresh lock calls the identity
// provider; everyone else waits briefly and re-reads the session, falling back
// to the token they already have.
//
// # Failure handling
//
// A failed upstream refresh never destroys the session. The token bundle is
// re-encoded with its error flag set so the frontend can decide to re-login.
//
// # What this package must NOT do
//
//   - Hold session state in memory between calls.
//   - Expose token material outside the returned bundle.
package refresh
