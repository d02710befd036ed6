// Package identity is the credential store: users, their linked external
// identities and their trusted devices.
//
// Invariants enforced at the store boundary:
//   - every user has at least one of email, phone or a linked identity;
//   - email, phone and (provider, external id) are unique across users;
//   - users are never hard-deleted; soft-deleted users are invisible to lookups.
//
// Refresh-token lists live next to the user row but are owned by the session
// package, which needs its own atomic rotate primitive.
package identity
