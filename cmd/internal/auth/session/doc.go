// Package session mints and rotates the token pair that represents a login.
//
// Access tokens are PASETO v4.public, short-lived and stateless: they carry
// the user id and a random token id, are never persisted, and name their
// signing key in the footer.
//
// Refresh tokens are HS256 JWTs. The hash of every outstanding refresh token
// is kept in its owner's refresh-token list (Store). A refresh token is
// single-use: Refresh removes the presented hash and appends the new one in a
// single conditional write, so a replayed or forged token fails with
// ErrInvalidToken. RevokeAll empties the list (password reset/change, account
// deletion); RevokeOne removes one entry (logout).
//
// Transport binding (cookies, headers) is out of scope here.
package session
