package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/cmd/internal/pgtest"
)

func newPGStore(t *testing.T) *PostgresStore {
	t.Helper()
	pool := pgtest.Open(t)
	name := pgtest.Schema(t, pool)
	s, err := NewPostgresStore(pool, WithSchema(name))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return s
}

func TestPostgresStore_CreateUser_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()

	s := newPGStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	now := time.Now().UTC()

	e1 := "User@Example.com"
	if _, err := s.CreateUser(ctx, CreateUserInput{Email: &e1}, now); err != nil {
		t.Fatalf("create user 1: %v", err)
	}

	e2 := "user@example.COM"
	_, err := s.CreateUser(ctx, CreateUserInput{Email: &e2}, now)
	if !IsConflict(err) || ConflictField(err) != "email" {
		t.Fatalf("expected email conflict, got: %v", err)
	}
}

func TestPostgresStore_CreateUser_RequiresIdentifier(t *testing.T) {
	t.Parallel()

	s := newPGStore(t)
	_, err := s.CreateUser(context.Background(), CreateUserInput{Name: "nobody"}, time.Now().UTC())
	if !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPostgresStore_LookupsAndVerification(t *testing.T) {
	t.Parallel()

	s := newPGStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	email, phone, hash := "alice@example.com", "+1 (555) 010-2030", "hash"
	u, err := s.CreateUser(ctx, CreateUserInput{Name: "Alice", Email: &email, Phone: &phone, PasswordHash: &hash}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Verified() {
		t.Fatalf("new user must be unverified")
	}

	ua, err := s.GetUserAuthByPhone(ctx, "+15550102030")
	if err != nil {
		t.Fatalf("by phone: %v", err)
	}
	if ua.ID != u.ID || ua.PasswordHash == nil || *ua.PasswordHash != hash {
		t.Fatalf("unexpected auth row: %+v", ua)
	}

	if err := s.MarkVerified(ctx, u.ID, now); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil || !got.Verified() {
		t.Fatalf("expected verified user, got %+v err=%v", got, err)
	}
}

func TestPostgresStore_TrustedDevices(t *testing.T) {
	t.Parallel()

	s := newPGStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	email := "dev@example.com"
	u, err := s.CreateUser(ctx, CreateUserInput{Email: &email}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.AddTrustedDevice(ctx, u.ID, TrustedDevice{DeviceID: "d1", Label: "laptop", AddedAt: now}); err != nil {
		t.Fatalf("add: %v", err)
	}
	ok, err := s.HasTrustedDevice(ctx, u.ID, "d1")
	if err != nil || !ok {
		t.Fatalf("expected trusted, ok=%v err=%v", ok, err)
	}

	if err := s.RemoveTrustedDevice(ctx, u.ID, "d1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveTrustedDevice(ctx, u.ID, "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestPostgresStore_SoftDeleteHidesUser(t *testing.T) {
	t.Parallel()

	s := newPGStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	email := "gone@example.com"
	u, err := s.CreateUser(ctx, CreateUserInput{Email: &email}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SoftDelete(ctx, u.ID, now); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := s.GetUserAuthByEmail(ctx, email); !IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.SoftDelete(ctx, u.ID, now); !IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestPostgresStore_LinkIdentity(t *testing.T) {
	t.Parallel()

	s := newPGStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := s.CreateUser(ctx, CreateUserInput{
		Name:     "G",
		Identity: &LinkedIdentity{Provider: "google", ExternalID: "g-1"},
		Verified: true,
	}, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetUserByIdentity(ctx, "google", "g-1")
	if err != nil || got.ID != u.ID {
		t.Fatalf("lookup by identity: %+v err=%v", got, err)
	}

	email := "other@example.com"
	other, err := s.CreateUser(ctx, CreateUserInput{Email: &email}, now)
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	if err := s.LinkIdentity(ctx, other.ID, LinkedIdentity{Provider: "google", ExternalID: "g-1"}, now); !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
