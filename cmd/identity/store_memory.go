package identity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured
// and in tests. One mutex guards every record, so each method is atomic.
type MemoryStore struct {
	mu sync.Mutex

	users    map[string]*memUser
	byEmail  map[string]string
	byPhone  map[string]string
	byExtern map[string]string
}

type memUser struct {
	user         User
	passwordHash *string
	devices      []TrustedDevice
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*memUser),
		byEmail:  make(map[string]string),
		byPhone:  make(map[string]string),
		byExtern: make(map[string]string),
	}
}

func externKey(provider, externalID string) string { return provider + "\x00" + externalID }

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput, now time.Time) (User, error) {
	const op = "identity.CreateUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, err := prepareCreate(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Email != nil {
		if _, ok := s.byEmail[*in.Email]; ok {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}
	if in.Phone != nil {
		if _, ok := s.byPhone[*in.Phone]; ok {
			return User{}, ConflictError{Op: op, Field: "phone"}
		}
	}
	if in.Identity != nil {
		if _, ok := s.byExtern[externKey(in.Identity.Provider, in.Identity.ExternalID)]; ok {
			return User{}, ConflictError{Op: op, Field: "identity"}
		}
	}

	u := User{
		ID:        id,
		Name:      strings.TrimSpace(in.Name),
		Email:     in.Email,
		Phone:     in.Phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Verified {
		u.VerifiedAt = &now
	}
	if in.Identity != nil {
		li := *in.Identity
		li.LinkedAt = now
		u.Identities = []LinkedIdentity{li}
		s.byExtern[externKey(li.Provider, li.ExternalID)] = id
	}
	if in.Email != nil {
		s.byEmail[*in.Email] = id
	}
	if in.Phone != nil {
		s.byPhone[*in.Phone] = id
	}
	s.users[id] = &memUser{user: u, passwordHash: in.PasswordHash}

	return cloneUser(u), nil
}

// live returns the record for id unless it is missing or soft-deleted.
// Callers hold s.mu.
func (s *MemoryStore) live(op, id string) (*memUser, error) {
	mu, ok := s.users[id]
	if !ok || mu.user.DeletedAt != nil {
		return nil, NotFoundError{Op: op, Resource: "user"}
	}
	return mu, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	ua, err := s.GetUserAuthByID(ctx, id)
	return ua.User, err
}

func (s *MemoryStore) GetUserAuthByID(ctx context.Context, id string) (UserAuth, error) {
	const op = "identity.GetUserAuthByID"
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, err := s.live(op, id)
	if err != nil {
		return UserAuth{}, err
	}
	return userAuthOf(mu), nil
}

func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	return s.authByIndex(ctx, "identity.GetUserAuthByEmail", s.byEmail, NormalizeEmail(email))
}

func (s *MemoryStore) GetUserAuthByPhone(ctx context.Context, phone string) (UserAuth, error) {
	return s.authByIndex(ctx, "identity.GetUserAuthByPhone", s.byPhone, NormalizePhone(phone))
}

func (s *MemoryStore) authByIndex(ctx context.Context, op string, idx map[string]string, key string) (UserAuth, error) {
	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := idx[key]
	if !ok || key == "" {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	mu, err := s.live(op, id)
	if err != nil {
		return UserAuth{}, err
	}
	return userAuthOf(mu), nil
}

func (s *MemoryStore) GetUserByIdentity(ctx context.Context, provider, externalID string) (User, error) {
	ua, err := s.authByIndex(ctx, "identity.GetUserByIdentity", s.byExtern, externKey(provider, externalID))
	return ua.User, err
}

func (s *MemoryStore) MarkVerified(ctx context.Context, userID string, now time.Time) error {
	return s.update(ctx, "identity.MarkVerified", userID, now, func(mu *memUser) error {
		if mu.user.VerifiedAt == nil {
			mu.user.VerifiedAt = &now
		}
		return nil
	})
}

func (s *MemoryStore) SetPasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.SetPasswordHash"
	if hash == "" {
		return invalid(op, "empty hash")
	}
	return s.update(ctx, op, userID, now, func(mu *memUser) error {
		mu.passwordHash = &hash
		return nil
	})
}

func (s *MemoryStore) SetEmail(ctx context.Context, userID, email string, now time.Time) error {
	const op = "identity.SetEmail"
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return invalid(op, "invalid email")
	}
	return s.update(ctx, op, userID, now, func(mu *memUser) error {
		if owner, ok := s.byEmail[email]; ok && owner != userID {
			return ConflictError{Op: op, Field: "email"}
		}
		if mu.user.Email != nil {
			delete(s.byEmail, *mu.user.Email)
		}
		mu.user.Email = &email
		s.byEmail[email] = userID
		return nil
	})
}

func (s *MemoryStore) SetPhone(ctx context.Context, userID, phone string, now time.Time) error {
	const op = "identity.SetPhone"
	phone = NormalizePhone(phone)
	if phone == "" {
		return invalid(op, "invalid phone")
	}
	return s.update(ctx, op, userID, now, func(mu *memUser) error {
		if owner, ok := s.byPhone[phone]; ok && owner != userID {
			return ConflictError{Op: op, Field: "phone"}
		}
		if mu.user.Phone != nil {
			delete(s.byPhone, *mu.user.Phone)
		}
		mu.user.Phone = &phone
		s.byPhone[phone] = userID
		return nil
	})
}

func (s *MemoryStore) LinkIdentity(ctx context.Context, userID string, li LinkedIdentity, now time.Time) error {
	const op = "identity.LinkIdentity"
	if li.Provider == "" || li.ExternalID == "" {
		return invalid(op, "incomplete identity")
	}
	return s.update(ctx, op, userID, now, func(mu *memUser) error {
		k := externKey(li.Provider, li.ExternalID)
		if owner, ok := s.byExtern[k]; ok {
			if owner == userID {
				return nil
			}
			return ConflictError{Op: op, Field: "identity"}
		}
		li.LinkedAt = now
		mu.user.Identities = append(mu.user.Identities, li)
		s.byExtern[k] = userID
		return nil
	})
}

func (s *MemoryStore) SoftDelete(ctx context.Context, userID string, now time.Time) error {
	return s.update(ctx, "identity.SoftDelete", userID, now, func(mu *memUser) error {
		mu.user.DeletedAt = &now
		mu.devices = nil
		return nil
	})
}

func (s *MemoryStore) AddTrustedDevice(ctx context.Context, userID string, d TrustedDevice) error {
	const op = "identity.AddTrustedDevice"
	if strings.TrimSpace(d.DeviceID) == "" {
		return invalid(op, "missing device_id")
	}
	return s.update(ctx, op, userID, d.AddedAt, func(mu *memUser) error {
		for i, cur := range mu.devices {
			if cur.DeviceID == d.DeviceID {
				mu.devices[i] = d
				return nil
			}
		}
		mu.devices = append(mu.devices, d)
		return nil
	})
}

func (s *MemoryStore) HasTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, err := s.live("identity.HasTrustedDevice", userID)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(mu.devices, func(d TrustedDevice) bool { return d.DeviceID == deviceID }), nil
}

func (s *MemoryStore) ListTrustedDevices(ctx context.Context, userID string) ([]TrustedDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, err := s.live("identity.ListTrustedDevices", userID)
	if err != nil {
		return nil, err
	}
	out := slices.Clone(mu.devices)
	slices.SortStableFunc(out, func(a, b TrustedDevice) int { return a.AddedAt.Compare(b.AddedAt) })
	return out, nil
}

func (s *MemoryStore) RemoveTrustedDevice(ctx context.Context, userID, deviceID string) error {
	const op = "identity.RemoveTrustedDevice"
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, err := s.live(op, userID)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(mu.devices, func(d TrustedDevice) bool { return d.DeviceID == deviceID })
	if i < 0 {
		return NotFoundError{Op: op, Resource: "device"}
	}
	mu.devices = slices.Delete(mu.devices, i, i+1)
	return nil
}

func (s *MemoryStore) update(ctx context.Context, op, userID string, now time.Time, fn func(*memUser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, err := s.live(op, userID)
	if err != nil {
		return err
	}
	if err := fn(mu); err != nil {
		return err
	}
	if !now.IsZero() {
		mu.user.UpdatedAt = now
	}
	return nil
}

func userAuthOf(mu *memUser) UserAuth {
	ua := UserAuth{User: cloneUser(mu.user)}
	if mu.passwordHash != nil {
		h := *mu.passwordHash
		ua.PasswordHash = &h
	}
	return ua
}

func cloneUser(u User) User {
	u.Identities = slices.Clone(u.Identities)
	return u
}
