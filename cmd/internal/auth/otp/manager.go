package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"fintrack/cmd/identity"
	"fintrack/cmd/security/token"
)

// Manager issues and verifies challenges over a Store.
type Manager struct {
	store  Store
	policy Policy
	hasher token.Hasher
	rand   io.Reader
	log    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option { return func(m *Manager) { m.policy = p } }

// WithHasher sets the code hasher (HMAC in production).
func WithHasher(h token.Hasher) Option { return func(m *Manager) { m.hasher = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager returns a Manager backed by store.
func NewManager(store Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:  store,
		policy: DefaultPolicy(),
		rand:   rand.Reader,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	if err := m.policy.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Policy returns the active policy.
func (m *Manager) Policy() Policy { return m.policy }

// NewKey validates and normalizes a challenge key.
func NewKey(identifier string, ch identity.Channel, purpose Purpose) (Key, error) {
	if !ch.Valid() || !purpose.Valid() {
		return Key{}, ErrInvalidInput
	}
	norm, ok := identity.NormalizeFor(ch, identifier)
	if !ok {
		return Key{}, ErrInvalidInput
	}
	return Key{Identifier: norm, Channel: ch, Purpose: purpose}, nil
}

func (m *Manager) hash(k Key, code string) string {
	return m.hasher.HexParts("otp", string(k.Purpose), string(k.Channel), k.Identifier, code)
}

// Request creates (or replaces) the challenge for the key and returns the
// plaintext code for delivery.
func (m *Manager) Request(ctx context.Context, identifier string, ch identity.Channel, purpose Purpose, now time.Time) (Issued, error) {
	const op = "otp.Request"

	key, err := NewKey(identifier, ch, purpose)
	if err != nil {
		return Issued{}, err
	}

	code, err := generateCode(m.rand, m.policy.CodeDigits)
	if err != nil {
		return Issued{}, err
	}

	c := Challenge{
		Key:        key,
		CodeHash:   m.hash(key, code),
		LastSentAt: now,
		ExpiresAt:  now.Add(m.policy.CodeTTL),
		CreatedAt:  now,
	}
	if err := m.store.Replace(ctx, c, m.policy.ResendCooldown, now); err != nil {
		var rl *RateLimitError
		if errors.As(err, &rl) {
			return Issued{}, err
		}
		return Issued{}, fmt.Errorf("%s: %w", op, err)
	}

	m.log.Debug("otp.challenge.issued", "purpose", key.Purpose, "channel", key.Channel)
	return Issued{Key: key, Code: code, ExpiresAt: c.ExpiresAt}, nil
}

// Verify checks candidate against the challenge for the key. On success the
// challenge is consumed.
func (m *Manager) Verify(ctx context.Context, identifier string, ch identity.Channel, purpose Purpose, candidate string, now time.Time) error {
	const op = "otp.Verify"

	key, err := NewKey(identifier, ch, purpose)
	if err != nil {
		return err
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return ErrInvalidInput
	}

	err = m.store.Attempt(ctx, key, m.hash(key, candidate), m.policy, now)
	switch {
	case err == nil:
		m.log.Debug("otp.challenge.verified", "purpose", key.Purpose, "channel", key.Channel)
		return nil
	case isOutcome(err):
		if errors.Is(err, ErrLocked) {
			m.log.Warn("otp.challenge.locked", "purpose", key.Purpose, "channel", key.Channel)
		}
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Pending returns the live challenge for key, if one exists.
func (m *Manager) Pending(ctx context.Context, key Key, now time.Time) (Challenge, bool, error) {
	c, err := m.store.Get(ctx, key, now)
	switch {
	case err == nil:
		return c, true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrExpired):
		return Challenge{}, false, nil
	default:
		return Challenge{}, false, fmt.Errorf("otp.Pending: %w", err)
	}
}

// Cancel drops the challenge for key.
func (m *Manager) Cancel(ctx context.Context, key Key) error {
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("otp.Cancel: %w", err)
	}
	return nil
}

// Sweep purges expired challenges.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("otp.Sweep: %w", err)
	}
	return n, nil
}

// isOutcome reports whether err is a verification result rather than a store failure.
func isOutcome(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrInvalidCode)
}
