package otp

import (
	"context"
	"time"
)

// Store persists challenges. Every method is atomic per Key.
type Store interface {
	// Replace installs ch for ch.Key unless the live challenge there was sent
	// less than cooldown ago, in which case it returns *RateLimitError.
	Replace(ctx context.Context, ch Challenge, cooldown time.Duration, now time.Time) error

	// Attempt applies one verification attempt (see evaluateAttempt) as a
	// single read-modify-write.
	Attempt(ctx context.Context, key Key, candidateHash string, p Policy, now time.Time) error

	// Get returns the live challenge for key. Expired records are purged and
	// reported as ErrExpired; missing ones as ErrNotFound.
	Get(ctx context.Context, key Key, now time.Time) (Challenge, error)

	// Delete removes the challenge for key, if any.
	Delete(ctx context.Context, key Key) error

	// DeleteExpired purges every record past expiry and reports how many.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
