package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps challenges in process. A single mutex makes every
// operation atomic per key (and across keys).
type MemoryStore struct {
	mu   sync.Mutex
	data map[Key]Challenge
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Key]Challenge)}
}

func (s *MemoryStore) Replace(ctx context.Context, ch Challenge, cooldown time.Duration, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *Challenge
	if c, ok := s.data[ch.Key]; ok {
		cur = &c
	}
	if err := admitReplace(cur, cooldown, now); err != nil {
		return err
	}
	ch.Attempts = 0
	ch.LockedUntil = nil
	s.data[ch.Key] = ch
	return nil
}

func (s *MemoryStore) Attempt(ctx context.Context, key Key, candidateHash string, p Policy, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[key]
	if !ok {
		return ErrNotFound
	}
	next, remove, verr := evaluateAttempt(cur, candidateHash, now, p)
	if remove {
		delete(s.data, key)
	} else {
		s.data[key] = next
	}
	return verr
}

func (s *MemoryStore) Get(ctx context.Context, key Key, now time.Time) (Challenge, error) {
	if err := ctx.Err(); err != nil {
		return Challenge{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	if !c.Live(now) {
		delete(s.data, key)
		return Challenge{}, ErrExpired
	}
	return c, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, c := range s.data {
		if !c.Live(now) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
