package device

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/cmd/identity"
)

func newUser(t *testing.T) (*identity.MemoryStore, string) {
	t.Helper()
	store := identity.NewMemoryStore()
	email := "dev@example.com"
	u, err := store.CreateUser(context.Background(), identity.CreateUserInput{Email: &email}, time.Now().UTC())
	require.NoError(t, err)
	return store, u.ID
}

func TestGate_TrustThenIsTrusted(t *testing.T) {
	store, uid := newUser(t)
	g := NewGate(store)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := g.IsTrusted(ctx, uid, "browser-1")
	require.NoError(t, err)
	assert.False(t, ok)

	d, err := g.Trust(ctx, uid, "browser-1", "  Work laptop ", now)
	require.NoError(t, err)
	assert.Equal(t, "browser-1", d.DeviceID)
	assert.Equal(t, "Work laptop", d.Label)

	ok, err = g.IsTrusted(ctx, uid, "browser-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsTrusted(ctx, uid, "browser-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_TrustMintsIDAndDefaultsLabel(t *testing.T) {
	store, uid := newUser(t)
	g := NewGate(store)

	d, err := g.Trust(context.Background(), uid, "", "", time.Now())
	require.NoError(t, err)
	_, err = uuid.Parse(d.DeviceID)
	assert.NoError(t, err)
	assert.Equal(t, DefaultLabel, d.Label)
}

func TestGate_EmptyOrMalformedNeverTrusted(t *testing.T) {
	store, uid := newUser(t)
	g := NewGate(store)
	ctx := context.Background()

	for _, id := range []string{"", "   ", "has space", strings.Repeat("x", 200), "naïve"} {
		ok, err := g.IsTrusted(ctx, uid, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}

	_, err := g.Trust(ctx, uid, "bad id", "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidDeviceID)
}

func TestGate_RevokeAndList(t *testing.T) {
	store, uid := newUser(t)
	g := NewGate(store)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := g.Trust(ctx, uid, "a", "A", now)
	require.NoError(t, err)
	_, err = g.Trust(ctx, uid, "b", "B", now.Add(time.Minute))
	require.NoError(t, err)

	list, err := g.List(ctx, uid)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].DeviceID)

	require.NoError(t, g.Revoke(ctx, uid, "a"))
	ok, err := g.IsTrusted(ctx, uid, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, identity.IsNotFound(g.Revoke(ctx, uid, "a")))
	assert.True(t, identity.IsNotFound(g.Revoke(ctx, uid, "")))
}

func TestGate_TrustUnknownUser(t *testing.T) {
	g := NewGate(identity.NewMemoryStore())
	_, err := g.Trust(context.Background(), "missing", "a", "", time.Now())
	assert.True(t, identity.IsNotFound(err))
}

func TestCleanLabel(t *testing.T) {
	assert.Equal(t, "Pho ne", cleanLabel("Pho\nne"))
	assert.Equal(t, "a b", cleanLabel("a\tb"))
	assert.Equal(t, 64, len([]rune(cleanLabel(strings.Repeat("é", 100)))))
}
