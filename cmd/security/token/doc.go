// Package token provides the hashing primitives used for secrets stored at rest:
// refresh tokens and OTP codes.
//
// Mode selection:
//   - FINTRACK_TOKEN_HMAC_KEY set: HMAC-SHA256(value, key).
//   - unset: plain SHA-256(value), acceptable for development only.
//
// Output is always 64-char lowercase hex so stored digests can be compared in
// constant time with Equal. When the app enforces HMAC (production) it calls
// HasherFromEnv with require=true and a minimum key size.
package token
