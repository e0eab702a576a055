// Package rate provides the fixed-window request counter used to bound abuse
// of session endpoints.
//
// # Window semantics
//
// Fixed-window counters: one Lua script performs INCR, sets PEXPIRE only on
// the first hit of a window, and reads back PTTL. Concurrent first requests
// therefore can neither reset nor skip the window expiry.
//
// Keys are "<prefix>:rl:<scope>:<identifier>".
//
// # What this package must NOT do
//
//   - Decide which scopes or identifiers to limit (the Engine does).
//   - Be imported outside the goBFF module.
package rate
