package otp

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidInput is returned for a malformed identifier, channel, purpose or empty code.
	ErrInvalidInput = errors.New("otp: invalid input")

	// ErrNotFound is returned when no challenge exists for the key.
	ErrNotFound = errors.New("otp: challenge not found")

	// ErrExpired is returned (once) for a challenge past its expiry; the record is purged.
	ErrExpired = errors.New("otp: challenge expired")

	// ErrRateLimited is returned when a new code is requested inside the resend cooldown.
	ErrRateLimited = errors.New("otp: resend cooldown active")

	// ErrLocked is returned while the attempt lockout is active.
	ErrLocked = errors.New("otp: too many attempts")

	// ErrInvalidCode is returned for a wrong code below the attempt threshold.
	ErrInvalidCode = errors.New("otp: invalid code")

	// ErrConfig is returned for invalid policy configuration.
	ErrConfig = errors.New("otp: invalid config")
)

// RateLimitError carries the remaining resend cooldown.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// LockedError carries the remaining lockout.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrLocked, e.RetryAfter)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// InvalidCodeError reports how many guesses remain before lockout.
type InvalidCodeError struct {
	AttemptsRemaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrInvalidCode, e.AttemptsRemaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }

// CeilSeconds rounds d up to whole seconds, never below 1 for positive d.
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// CeilMinutes rounds d up to whole minutes, never below 1 for positive d.
func CeilMinutes(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Minutes()))
}
