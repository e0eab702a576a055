// Package goBFF is the session core of a backend-for-frontend: the browser
// holds an opaque session id cookie, and the identity provider's tokens stay
// server-side, encrypted, in Redis.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goBFF is the public surface. It exposes [Engine], [Builder], [Config] and
// value types ([SessionStatus], [TouchOutcome], [RateDecision],
// [MetricsSnapshot]). Encoding, encryption, locking and rate limiting live in
// the session, envelope, refresh and internal packages. The HTTP surface is
// in httpapi.
//
// # What this package must NOT do
//
//   - Return access, refresh or ID tokens from any method a browser-facing
//     handler would serialize. [SessionStatus] carries no token material.
//   - Log or audit full session ids.
//   - Treat a store failure as an absent session. Absence is (zero, false,
//     nil); failure wraps [ErrStoreUnavailable].
//
// # Performance contract
//
// Session reads are one Redis GET plus one AES-GCM open. Touch adds one SET.
// Refresh is the only path that takes a lock, and at most one caller per
// session talks to the provider at a time.
package goBFF
