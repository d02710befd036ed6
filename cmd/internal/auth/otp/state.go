package otp

import (
	"time"

	"fintrack/cmd/security/token"
)

// admitReplace decides whether a new challenge may replace cur.
// cur is nil when no record exists.
func admitReplace(cur *Challenge, cooldown time.Duration, now time.Time) error {
	if cur == nil || !cur.Live(now) {
		return nil
	}
	if elapsed := now.Sub(cur.LastSentAt); elapsed < cooldown {
		return &RateLimitError{RetryAfter: cooldown - elapsed}
	}
	return nil
}

// evaluateAttempt applies one verification attempt to cur.
// It returns the state to persist, whether to delete the record instead, and
// the caller-visible outcome. Stores must persist next/remove before returning err.
func evaluateAttempt(cur Challenge, candidateHash string, now time.Time, p Policy) (next Challenge, remove bool, err error) {
	if !cur.Live(now) {
		return cur, true, ErrExpired
	}
	if cur.LockedUntil != nil && now.Before(*cur.LockedUntil) {
		return cur, false, &LockedError{RetryAfter: cur.LockedUntil.Sub(now)}
	}
	if token.Equal(cur.CodeHash, candidateHash) {
		return cur, true, nil
	}

	next = cur
	next.Attempts++
	if next.Attempts >= p.MaxAttempts {
		until := now.Add(p.Lockout)
		next.LockedUntil = &until
		return next, false, &LockedError{RetryAfter: p.Lockout}
	}
	return next, false, &InvalidCodeError{AttemptsRemaining: p.MaxAttempts - next.Attempts}
}
