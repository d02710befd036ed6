package identity

import (
	"context"
	"sync"
	"testing"
	"time"
)

func strp(s string) *string { return &s }

func TestMemoryStore_CreateUser_Invariants(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if _, err := s.CreateUser(ctx, CreateUserInput{Name: "x"}, now); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input without identifiers, got %v", err)
	}
	if _, err := s.CreateUser(ctx, CreateUserInput{Email: strp("nope")}, now); !IsInvalidInput(err) {
		t.Fatalf("expected invalid email, got %v", err)
	}

	u, err := s.CreateUser(ctx, CreateUserInput{Name: " Alice ", Email: strp("Alice@Example.com"), PasswordHash: strp("h")}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Name != "Alice" || u.Email == nil || *u.Email != "alice@example.com" || u.Verified() {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(u.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", u.ID)
	}

	_, err = s.CreateUser(ctx, CreateUserInput{Email: strp("ALICE@example.com")}, now)
	if ConflictField(err) != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestMemoryStore_AuthLookups(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := s.CreateUser(ctx, CreateUserInput{Phone: strp("+1 555 010 2030"), PasswordHash: strp("h")}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ua, err := GetUserAuthByIdentifier(ctx, s, ChannelPhone, "+15550102030")
	if err != nil || ua.ID != u.ID || ua.PasswordHash == nil {
		t.Fatalf("lookup by phone: %+v err=%v", ua, err)
	}
	if _, err := s.GetUserAuthByEmail(ctx, "missing@example.com"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	// Returned values are copies.
	*ua.PasswordHash = "mutated"
	again, _ := s.GetUserAuthByID(ctx, u.ID)
	if *again.PasswordHash != "h" {
		t.Fatalf("store leaked internal pointer")
	}
}

func TestMemoryStore_SetEmailConflict(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	a, _ := s.CreateUser(ctx, CreateUserInput{Email: strp("a@example.com")}, now)
	b, _ := s.CreateUser(ctx, CreateUserInput{Email: strp("b@example.com")}, now)

	if err := s.SetEmail(ctx, b.ID, "A@example.com", now); ConflictField(err) != "email" {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := s.SetEmail(ctx, a.ID, "new@example.com", now); err != nil {
		t.Fatalf("set email: %v", err)
	}
	if _, err := s.GetUserAuthByEmail(ctx, "a@example.com"); !IsNotFound(err) {
		t.Fatalf("old email must be released, got %v", err)
	}
	if err := s.SetEmail(ctx, b.ID, "a@example.com", now); err != nil {
		t.Fatalf("released email must be reusable: %v", err)
	}
}

func TestMemoryStore_DevicesAndSoftDelete(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	u, _ := s.CreateUser(ctx, CreateUserInput{Email: strp("d@example.com")}, now)

	_ = s.AddTrustedDevice(ctx, u.ID, TrustedDevice{DeviceID: "late", AddedAt: now.Add(time.Minute)})
	_ = s.AddTrustedDevice(ctx, u.ID, TrustedDevice{DeviceID: "early", AddedAt: now})

	list, err := s.ListTrustedDevices(ctx, u.ID)
	if err != nil || len(list) != 2 || list[0].DeviceID != "early" {
		t.Fatalf("unexpected list %+v err=%v", list, err)
	}
	if err := s.RemoveTrustedDevice(ctx, u.ID, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.SoftDelete(ctx, u.ID, now); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := s.GetUserByID(ctx, u.ID); !IsNotFound(err) {
		t.Fatalf("deleted user must be hidden, got %v", err)
	}
	if _, err := s.CreateUser(ctx, CreateUserInput{Email: strp("d@example.com")}, now); !IsConflict(err) {
		t.Fatalf("deleted user's email stays reserved, got %v", err)
	}
}

func TestMemoryStore_ConcurrentCreateSameEmail(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateUser(ctx, CreateUserInput{Email: strp("race@example.com")}, now); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("created=%d want 1", created)
	}
}
