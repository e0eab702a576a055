// Package envelope seals short UTF-8 payloads into a versioned, URL-safe,
// authenticated envelope and opens them again.
//
// # Format
//
//	v1.<nonce>.<tag>.<ciphertext>
//
// Each part after the version is base64url without padding. The cipher is
// AES-256-GCM with a fresh 12-byte nonce per seal and a 16-byte tag.
//
// # Failure contract
//
// [Sealer.Open] never panics and never returns an error: every malformed,
// truncated, tampered, or foreign envelope is reported as absent (false).
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Keep key material in package-level state.
package envelope
