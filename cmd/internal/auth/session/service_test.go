package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fintrack/cmd/security/token"
)

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	h := token.NewHasher([]byte(strings.Repeat("h", token.MinHMACKeyBytes)))
	s, err := NewService(testConfig(t), store, WithHasher(h))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestService_IssueAndValidate(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	iss, err := s.Issue(ctx, "u1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if iss.AccessToken == "" || iss.RefreshToken == "" {
		t.Fatalf("empty tokens: %+v", iss)
	}
	if got := iss.AccessExp.Sub(now); got != 15*time.Minute {
		t.Fatalf("access ttl=%v", got)
	}
	if got := iss.RefreshExp.Sub(now); got < 7*24*time.Hour-time.Second || got > 7*24*time.Hour {
		t.Fatalf("refresh ttl=%v", got)
	}

	claims, err := s.ValidateAccessToken(iss.AccessToken, now)
	if err != nil || claims.UserID != "u1" {
		t.Fatalf("ValidateAccessToken: claims=%+v err=%v", claims, err)
	}

	n, err := s.ActiveCount(ctx, "u1", now)
	if err != nil || n != 1 {
		t.Fatalf("ActiveCount=%d err=%v", n, err)
	}
}

func TestService_RefreshIsSingleUse(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := s.Issue(ctx, "u1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	second, err := s.Refresh(ctx, first.RefreshToken, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	if _, err := s.Refresh(ctx, first.RefreshToken, now.Add(2*time.Minute)); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken on replay, got %v", err)
	}

	// The rotated token still works exactly once.
	if _, err := s.Refresh(ctx, second.RefreshToken, now.Add(3*time.Minute)); err != nil {
		t.Fatalf("Refresh rotated: %v", err)
	}
	if n, _ := s.ActiveCount(ctx, "u1", now.Add(3*time.Minute)); n != 1 {
		t.Fatalf("expected one live token after rotations, got %d", n)
	}
}

func TestService_RefreshConcurrentReplayHasOneWinner(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	iss, err := s.Issue(ctx, "u1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var ok, invalid atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Refresh(ctx, iss.RefreshToken, now)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInvalidToken):
				invalid.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || invalid.Load() != 15 {
		t.Fatalf("ok=%d invalid=%d", ok.Load(), invalid.Load())
	}
}

func TestService_RefreshExpired(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	iss, err := s.Issue(ctx, "u1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := s.Refresh(ctx, iss.RefreshToken, now.Add(8*24*time.Hour)); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestService_RefreshForgedOrGarbage(t *testing.T) {
	s := newTestService(t, nil)
	other := newTestService(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	forged, err := other.Issue(ctx, "u1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, tok := range []string{"", "garbage", forged.RefreshToken, forged.AccessToken, strings.Repeat("a", 5000)} {
		if _, err := s.Refresh(ctx, tok, now); err != ErrInvalidToken {
			t.Fatalf("token %.20q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestService_RevokeAllInvalidatesEveryToken(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	a, _ := s.Issue(ctx, "u1", now)
	b, _ := s.Issue(ctx, "u1", now)
	c, _ := s.Issue(ctx, "u2", now)

	if err := s.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	for _, tok := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := s.Refresh(ctx, tok, now); err != ErrInvalidToken {
			t.Fatalf("expected ErrInvalidToken after RevokeAll, got %v", err)
		}
	}
	if _, err := s.Refresh(ctx, c.RefreshToken, now); err != nil {
		t.Fatalf("other user's token must survive: %v", err)
	}
}

func TestService_RevokeOneAndPresented(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	a, _ := s.Issue(ctx, "u1", now)
	b, _ := s.Issue(ctx, "u1", now)

	if err := s.RevokeOne(ctx, "u1", a.RefreshToken); err != nil {
		t.Fatalf("RevokeOne: %v", err)
	}
	// Idempotent.
	if err := s.RevokeOne(ctx, "u1", a.RefreshToken); err != nil {
		t.Fatalf("RevokeOne again: %v", err)
	}
	if _, err := s.Refresh(ctx, a.RefreshToken, now); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	uid, err := s.RevokePresented(ctx, b.RefreshToken)
	if err != nil || uid != "u1" {
		t.Fatalf("RevokePresented uid=%q err=%v", uid, err)
	}
	if n, _ := s.ActiveCount(ctx, "u1", now); n != 0 {
		t.Fatalf("expected no live tokens, got %d", n)
	}

	if _, err := s.RevokePresented(ctx, "garbage"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_Sweep(t *testing.T) {
	store := NewMemoryStore()
	s := newTestService(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.Issue(ctx, "u1", now); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if n, err := s.Sweep(ctx, now); err != nil || n != 0 {
		t.Fatalf("Sweep early n=%d err=%v", n, err)
	}
	if n, err := s.Sweep(ctx, now.Add(8*24*time.Hour)); err != nil || n != 1 {
		t.Fatalf("Sweep late n=%d err=%v", n, err)
	}
}

func TestMemoryStore_UserCheck(t *testing.T) {
	known := map[string]bool{"u1": true}
	store := NewMemoryStore(WithUserCheck(func(_ context.Context, id string) (bool, error) {
		return known[id], nil
	}))
	s := newTestService(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.Issue(ctx, "ghost", now); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
	iss, err := s.Issue(ctx, "u1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	delete(known, "u1")
	if _, err := s.Refresh(ctx, iss.RefreshToken, now.Add(time.Minute)); err == nil {
		t.Fatalf("expected refresh for a removed user to fail")
	}

	// Without the option any id is accepted.
	if err := NewMemoryStore().Add(ctx, "ghost", "h", now.Add(time.Hour), now); err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func TestNewService_RejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RefreshSecret = []byte("short")
	if _, err := NewService(cfg, NewMemoryStore()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := NewService(testConfig(t), nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for nil store, got %v", err)
	}
}
