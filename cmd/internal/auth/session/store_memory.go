package session

import (
	"context"
	"sync"
	"time"
)

// UserExists reports whether userID names a stored user.
type UserExists func(ctx context.Context, userID string) (bool, error)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	lists  map[string]map[string]time.Time // userID -> hash -> expiresAt
	exists UserExists
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithUserCheck makes Add and Rotate return ErrUnknownUser for users that
// exists does not know. Without it every id is accepted.
func WithUserCheck(exists UserExists) MemoryOption {
	return func(s *MemoryStore) { s.exists = exists }
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{lists: make(map[string]map[string]time.Time)}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) checkUser(ctx context.Context, userID string) error {
	if s.exists == nil {
		return nil
	}
	ok, err := s.exists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownUser
	}
	return nil
}

func (s *MemoryStore) Add(ctx context.Context, userID, hash string, expiresAt, _ time.Time) error {
	if err := s.checkUser(ctx, userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.lists[userID]
	if l == nil {
		l = make(map[string]time.Time)
		s.lists[userID] = l
	}
	l[hash] = expiresAt
	return nil
}

func (s *MemoryStore) Rotate(ctx context.Context, userID, oldHash, newHash string, expiresAt, now time.Time) error {
	if err := s.checkUser(ctx, userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.lists[userID]
	exp, ok := l[oldHash]
	if !ok || !exp.After(now) {
		return ErrInvalidToken
	}
	delete(l, oldHash)
	l[newHash] = expiresAt
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.lists[userID], hash)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.lists, userID)
	return nil
}

func (s *MemoryStore) Count(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, exp := range s.lists[userID] {
		if exp.After(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for uid, l := range s.lists {
		for h, exp := range l {
			if !exp.After(now) {
				delete(l, h)
				n++
			}
		}
		if len(l) == 0 {
			delete(s.lists, uid)
		}
	}
	return n, nil
}
