package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/cmd/identity"
)

// runStoreConformance checks the challenge life cycle against any Store.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	// Stores round timestamps differently (Postgres keeps microseconds).
	now := time.Now().UTC().Truncate(time.Second)

	newManager := func(t *testing.T) *Manager {
		m, err := NewManager(newStore(t))
		require.NoError(t, err)
		return m
	}

	t.Run("cooldown then success then replay", func(t *testing.T) {
		m := newManager(t)
		ctx := context.Background()

		iss, err := m.Request(ctx, "Alice@Example.com", identity.ChannelEmail, PurposeRegister, now)
		require.NoError(t, err)
		assert.Len(t, iss.Code, 6)
		assert.Equal(t, "alice@example.com", iss.Key.Identifier)

		_, err = m.Request(ctx, "alice@example.com", identity.ChannelEmail, PurposeRegister, now.Add(5*time.Second))
		var rl *RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.Equal(t, int64(25), CeilSeconds(rl.RetryAfter))

		require.NoError(t, m.Verify(ctx, "alice@example.com", identity.ChannelEmail, PurposeRegister, iss.Code, now.Add(10*time.Second)))
		err = m.Verify(ctx, "alice@example.com", identity.ChannelEmail, PurposeRegister, iss.Code, now.Add(11*time.Second))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("lockout", func(t *testing.T) {
		m := newManager(t)
		ctx := context.Background()

		iss, err := m.Request(ctx, "+15550102030", identity.ChannelPhone, PurposeLogin, now)
		require.NoError(t, err)
		wrong := "000000"
		if iss.Code == wrong {
			wrong = "111111"
		}

		for i := 1; i <= 4; i++ {
			err := m.Verify(ctx, "+15550102030", identity.ChannelPhone, PurposeLogin, wrong, now)
			var ic *InvalidCodeError
			require.ErrorAs(t, err, &ic, "attempt %d", i)
			assert.Equal(t, 5-i, ic.AttemptsRemaining)
		}
		err = m.Verify(ctx, "+15550102030", identity.ChannelPhone, PurposeLogin, wrong, now)
		var le *LockedError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, int64(15), CeilMinutes(le.RetryAfter))

		// Correct code is still refused while locked.
		err = m.Verify(ctx, "+15550102030", identity.ChannelPhone, PurposeLogin, iss.Code, now.Add(time.Minute))
		assert.ErrorIs(t, err, ErrLocked)
	})

	t.Run("new request supersedes and resets attempts", func(t *testing.T) {
		m := newManager(t)
		ctx := context.Background()

		first, err := m.Request(ctx, "bob@example.com", identity.ChannelEmail, PurposeLogin, now)
		require.NoError(t, err)
		wrong := "999999"
		if first.Code == wrong {
			wrong = "888888"
		}
		for i := 0; i < 3; i++ {
			_ = m.Verify(ctx, "bob@example.com", identity.ChannelEmail, PurposeLogin, wrong, now)
		}

		second, err := m.Request(ctx, "bob@example.com", identity.ChannelEmail, PurposeLogin, now.Add(31*time.Second))
		require.NoError(t, err)

		c, ok, err := m.Pending(ctx, second.Key, now.Add(32*time.Second))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Zero(t, c.Attempts)

		if first.Code != second.Code {
			err = m.Verify(ctx, "bob@example.com", identity.ChannelEmail, PurposeLogin, first.Code, now.Add(33*time.Second))
			assert.ErrorIs(t, err, ErrInvalidCode, "superseded code must not verify")
		}
		require.NoError(t, m.Verify(ctx, "bob@example.com", identity.ChannelEmail, PurposeLogin, second.Code, now.Add(34*time.Second)))
	})

	t.Run("expiry purges on read", func(t *testing.T) {
		m := newManager(t)
		ctx := context.Background()

		iss, err := m.Request(ctx, "carol@example.com", identity.ChannelEmail, PurposeForgotPassword, now)
		require.NoError(t, err)

		later := now.Add(5 * time.Minute)
		err = m.Verify(ctx, "carol@example.com", identity.ChannelEmail, PurposeForgotPassword, iss.Code, later)
		assert.ErrorIs(t, err, ErrExpired)

		err = m.Verify(ctx, "carol@example.com", identity.ChannelEmail, PurposeForgotPassword, iss.Code, later)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("purposes are independent", func(t *testing.T) {
		m := newManager(t)
		ctx := context.Background()

		_, err := m.Request(ctx, "dan@example.com", identity.ChannelEmail, PurposeLogin, now)
		require.NoError(t, err)
		_, err = m.Request(ctx, "dan@example.com", identity.ChannelEmail, PurposeRegister, now)
		require.NoError(t, err, "cooldown is per purpose")
	})

	t.Run("concurrent wrong guesses trip lockout once", func(t *testing.T) {
		m := newManager(t)
		ctx := context.Background()

		iss, err := m.Request(ctx, "eve@example.com", identity.ChannelEmail, PurposeLogin, now)
		require.NoError(t, err)
		wrong := "123456"
		if iss.Code == wrong {
			wrong = "654321"
		}

		const n = 20
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			invalid int
			locked  int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := m.Verify(ctx, "eve@example.com", identity.ChannelEmail, PurposeLogin, wrong, now)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case errors.Is(err, ErrInvalidCode):
					invalid++
				case errors.Is(err, ErrLocked):
					locked++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 4, invalid)
		assert.Equal(t, n-4, locked)
	})
}
