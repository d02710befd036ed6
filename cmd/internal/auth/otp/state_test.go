package otp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitReplace(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 30 * time.Second

	live := &Challenge{LastSentAt: now.Add(-10 * time.Second), ExpiresAt: now.Add(time.Minute)}
	err := admitReplace(live, cooldown, now)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 20*time.Second, rl.RetryAfter)

	assert.NoError(t, admitReplace(nil, cooldown, now))
	assert.NoError(t, admitReplace(&Challenge{LastSentAt: now.Add(-30 * time.Second), ExpiresAt: now.Add(time.Minute)}, cooldown, now))
	assert.NoError(t, admitReplace(&Challenge{LastSentAt: now, ExpiresAt: now}, cooldown, now), "expired challenge never blocks")
}

func TestEvaluateAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultPolicy()
	base := Challenge{CodeHash: "right", ExpiresAt: now.Add(time.Minute)}
	lockedUntil := now.Add(time.Minute)

	tests := []struct {
		name       string
		cur        Challenge
		candidate  string
		wantRemove bool
		wantErr    error
		wantCount  int
	}{
		{"match", base, "right", true, nil, 0},
		{"expired", Challenge{CodeHash: "right", ExpiresAt: now}, "right", true, ErrExpired, 0},
		{"first miss", base, "wrong", false, ErrInvalidCode, 1},
		{"fifth miss locks", Challenge{CodeHash: "right", ExpiresAt: now.Add(time.Minute), Attempts: 4}, "wrong", false, ErrLocked, 5},
		{"locked ignores correct code", Challenge{CodeHash: "right", ExpiresAt: now.Add(time.Minute), Attempts: 5, LockedUntil: &lockedUntil}, "right", false, ErrLocked, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, remove, err := evaluateAttempt(tc.cur, tc.candidate, now, p)
			assert.Equal(t, tc.wantRemove, remove)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			}
			assert.Equal(t, tc.wantCount, next.Attempts)
		})
	}
}

func TestEvaluateAttempt_RemainingCountdown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultPolicy()
	cur := Challenge{CodeHash: "right", ExpiresAt: now.Add(time.Minute), Attempts: 2}

	_, _, err := evaluateAttempt(cur, "wrong", now, p)
	var ic *InvalidCodeError
	require.ErrorAs(t, err, &ic)
	assert.Equal(t, 2, ic.AttemptsRemaining)

	cur.Attempts = 4
	next, _, err := evaluateAttempt(cur, "wrong", now, p)
	var le *LockedError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 15*time.Minute, le.RetryAfter)
	require.NotNil(t, next.LockedUntil)
	assert.Equal(t, now.Add(15*time.Minute), *next.LockedUntil)
}

func TestCeilHelpers(t *testing.T) {
	assert.Equal(t, int64(1), CeilSeconds(10*time.Millisecond))
	assert.Equal(t, int64(30), CeilSeconds(30*time.Second))
	assert.Equal(t, int64(0), CeilSeconds(0))
	assert.Equal(t, int64(15), CeilMinutes(15*time.Minute))
	assert.Equal(t, int64(1), CeilMinutes(time.Second))
}
