// Package middleware implements the request-level defenses in front of the
// session endpoints: trusted-host enforcement, same-origin CSRF checks and
// request correlation ids.
//
// # Layout
//
//   - Pure checks ([CheckTrustedHost], [CheckSameOrigin], [RequestID]) that
//     any router can call.
//   - net/http adapters ([RequestIDs], [TrustedHost], [SameOrigin],
//     [RequireSession]) built on those checks.
//
// # What this package must NOT do
//
//   - Decide session lifetimes (the session store owns them).
//   - Read or write token material beyond placing the resolved bundle in the
//     request context.
package middleware
