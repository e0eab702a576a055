// Package kv owns the single shared connection to the Redis-compatible store
// that holds sessions, refresh locks, and rate-limit counters.
//
// # Connection lifecycle
//
// The go-redis client is created lazily on first use and memoized inside the
// [Client]. Creation waits for a PING with a bounded timeout so a dead store
// fails fast instead of queueing commands.
//
// # Retry policy
//
// [Client.Run] retries a command at most once, and only when the failure looks
// like a broken connection (see [IsTransient]). Before the retry the current
// connection is torn down and recreated. go-redis internal retries are
// disabled so the policy lives in one place.
//
// # What this package must NOT do
//
//   - Interpret keys or values.
//   - Hold package-level clients.
package kv
