// Package otp issues and verifies short numeric one-time codes.
//
// A challenge is keyed by (identifier, channel, purpose). At most one live
// challenge exists per key; requesting a new one inside the resend cooldown
// fails with a RateLimitError. Only a keyed hash of the code is stored.
//
// Verification is a state machine applied atomically per key by every Store:
//
//	missing             -> ErrNotFound
//	past expiry         -> ErrExpired (record purged)
//	lockout active      -> LockedError
//	code matches        -> nil (record deleted, replay yields ErrNotFound)
//	mismatch, n < max   -> InvalidCodeError{AttemptsRemaining}
//	mismatch, n == max  -> LockedError (lockout starts)
//
// Expiry is checked on every read; Sweeper additionally purges expired rows.
package otp
