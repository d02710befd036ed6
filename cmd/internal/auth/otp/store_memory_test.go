package otp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/cmd/identity"
)

func TestMemoryStore_Conformance(t *testing.T) {
	runStoreConformance(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	s := NewMemoryStore()
	m, err := NewManager(s)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err = m.Request(ctx, "a@example.com", identity.ChannelEmail, PurposeLogin, now)
	require.NoError(t, err)
	_, err = m.Request(ctx, "b@example.com", identity.ChannelEmail, PurposeLogin, now.Add(4*time.Minute))
	require.NoError(t, err)

	n, err := m.Sweep(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	s := NewMemoryStore()
	m, err := NewManager(s)
	require.NoError(t, err)

	_, err = m.Request(context.Background(), "a@example.com", identity.ChannelEmail, PurposeLogin, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sw := NewSweeper(m, 5*time.Millisecond, nil)
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
