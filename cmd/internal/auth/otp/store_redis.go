package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each challenge as a JSON value under one key.
//
// Read-modify-write runs inside WATCH/MULTI and retries when another client
// touched the key first. Keys carry a TTL slightly past expiry for physical
// deletion; reads still check expiry explicitly.
type RedisStore struct {
	rdb        redis.UniversalClient
	prefix     string
	maxRetries int
}

// RedisOption configures the store.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key namespace (default "fintrack:otp:").
func WithKeyPrefix(p string) RedisOption {
	return func(s *RedisStore) {
		if p != "" {
			s.prefix = p
		}
	}
}

// NewRedisStore returns a RedisStore. The client is owned by the caller.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("otp: nil redis client")
	}
	s := &RedisStore{rdb: rdb, prefix: "fintrack:otp:", maxRetries: 100}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// expiryGrace keeps records a little past expiry so a late read can still
// report ErrExpired instead of ErrNotFound.
const expiryGrace = time.Minute

type redisRecord struct {
	CodeHash    string     `json:"code_hash"`
	Attempts    int        `json:"attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LastSentAt  time.Time  `json:"last_sent_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (s *RedisStore) key(k Key) string { return s.prefix + k.String() }

func load(ctx context.Context, tx *redis.Tx, rk string, k Key) (*Challenge, error) {
	raw, err := tx.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return &Challenge{
		Key:         k,
		CodeHash:    rec.CodeHash,
		Attempts:    rec.Attempts,
		LockedUntil: rec.LockedUntil,
		LastSentAt:  rec.LastSentAt,
		ExpiresAt:   rec.ExpiresAt,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func encode(c Challenge) ([]byte, error) {
	return json.Marshal(redisRecord{
		CodeHash:    c.CodeHash,
		Attempts:    c.Attempts,
		LockedUntil: c.LockedUntil,
		LastSentAt:  c.LastSentAt,
		ExpiresAt:   c.ExpiresAt,
		CreatedAt:   c.CreatedAt,
	})
}

func ttlFor(c Challenge, now time.Time) time.Duration {
	ttl := c.ExpiresAt.Sub(now) + expiryGrace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// outcome carries a verification result out of a committed WATCH callback,
// keeping it apart from transport errors and redis.TxFailedErr.
type outcome struct{ err error }

func (o outcome) Error() string { return o.err.Error() }

// watch runs fn under WATCH rk, retrying on optimistic-lock failures.
func (s *RedisStore) watch(ctx context.Context, rk string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, rk)
		var o outcome
		switch {
		case err == nil:
			return nil
		case errors.As(err, &o):
			return o.err
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("otp: redis contention on %s", rk)
}

func (s *RedisStore) Replace(ctx context.Context, ch Challenge, cooldown time.Duration, now time.Time) error {
	rk := s.key(ch.Key)
	ch.Attempts = 0
	ch.LockedUntil = nil
	val, err := encode(ch)
	if err != nil {
		return err
	}

	return s.watch(ctx, rk, func(tx *redis.Tx) error {
		cur, err := load(ctx, tx, rk, ch.Key)
		if err != nil {
			return err
		}
		if rl := admitReplace(cur, cooldown, now); rl != nil {
			return outcome{rl}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, rk, val, ttlFor(ch, now))
			return nil
		})
		return err
	})
}

func (s *RedisStore) Attempt(ctx context.Context, key Key, candidateHash string, pol Policy, now time.Time) error {
	rk := s.key(key)

	return s.watch(ctx, rk, func(tx *redis.Tx) error {
		cur, err := load(ctx, tx, rk, key)
		if err != nil {
			return err
		}
		if cur == nil {
			return outcome{ErrNotFound}
		}

		next, remove, verr := evaluateAttempt(*cur, candidateHash, now, pol)
		switch {
		case remove:
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, rk)
				return nil
			})
		case next.Attempts != cur.Attempts:
			val, encErr := encode(next)
			if encErr != nil {
				return encErr
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, rk, val, ttlFor(next, now))
				return nil
			})
		}
		if err != nil || verr == nil {
			return err
		}
		return outcome{verr}
	})
}

func (s *RedisStore) Get(ctx context.Context, key Key, now time.Time) (Challenge, error) {
	rk := s.key(key)
	var out Challenge

	err := s.watch(ctx, rk, func(tx *redis.Tx) error {
		cur, err := load(ctx, tx, rk, key)
		if err != nil {
			return err
		}
		if cur == nil {
			return outcome{ErrNotFound}
		}
		if !cur.Live(now) {
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, rk)
				return nil
			})
			if err != nil {
				return err
			}
			return outcome{ErrExpired}
		}
		out = *cur
		return nil
	})
	if err != nil {
		return Challenge{}, err
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("otp.RedisStore.Delete: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: key TTLs already reclaim expired records.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
