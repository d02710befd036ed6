package session

import (
	"context"
	"time"
)

// Store persists each user's list of outstanding refresh tokens.
//
// Tokens are stored by hash only. Rotate must be a single conditional write:
// concurrent rotations of the same token must leave exactly one winner.
type Store interface {
	// Add appends hash to userID's list. ErrUnknownUser if the user is absent;
	// MemoryStore checks this only when built WithUserCheck.
	Add(ctx context.Context, userID, hash string, expiresAt, now time.Time) error

	// Rotate removes oldHash from userID's list and appends newHash, atomically.
	// ErrInvalidToken if oldHash is not in the list (already rotated, revoked,
	// or never issued) or is past its expiry at now.
	Rotate(ctx context.Context, userID, oldHash, newHash string, expiresAt, now time.Time) error

	// Remove deletes one entry. Removing an absent entry is not an error.
	Remove(ctx context.Context, userID, hash string) error

	// Clear deletes every entry for userID.
	Clear(ctx context.Context, userID string) error

	// Count returns the number of unexpired entries for userID.
	Count(ctx context.Context, userID string, now time.Time) (int, error)

	// DeleteExpired purges entries whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
