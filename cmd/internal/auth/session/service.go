package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fintrack/cmd/security/token"
)

// Service issues, rotates and revokes session token pairs.
type Service struct {
	cfg     Config
	access  AccessTokenManager
	refresh *RefreshCodec
	store   Store
	hasher  token.Hasher
	log     *slog.Logger
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	UserID       string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHasher sets how refresh tokens are hashed before storage. A keyed
// hasher means a leaked table cannot be matched against guessed tokens.
func WithHasher(h token.Hasher) Option { return func(s *Service) { s.hasher = h } }

// WithAccessTokenManager replaces the PASETO access-token manager.
func WithAccessTokenManager(m AccessTokenManager) Option {
	return func(s *Service) {
		if m != nil {
			s.access = m
		}
	}
}

// NewService validates cfg and builds the token codecs.
func NewService(cfg Config, store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, store: store, log: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.access == nil {
		m, err := NewPasetoV4PublicManager(cfg)
		if err != nil {
			return nil, err
		}
		s.access = m
	}
	rc, err := NewRefreshCodec(cfg)
	if err != nil {
		return nil, err
	}
	s.refresh = rc
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Issue mints a fresh pair for userID and appends the refresh token to the
// user's list.
func (s *Service) Issue(ctx context.Context, userID string, now time.Time) (Issued, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Issued{}, ErrUnknownUser
	}

	rt, rexp, err := s.refresh.Mint(userID, now)
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.Add(ctx, userID, s.hasher.Hex(rt), rexp, now); err != nil {
		return Issued{}, err
	}

	at, aexp, err := s.access.Issue(userID, now)
	if err != nil {
		return Issued{}, err
	}

	s.log.Debug("session.issued", "user_id", userID)
	return Issued{UserID: userID, AccessToken: at, AccessExp: aexp, RefreshToken: rt, RefreshExp: rexp}, nil
}

// Refresh consumes presented and returns a new pair.
//
// Fails with ErrExpired for a well-formed token past its lifetime and with
// ErrInvalidToken for a bad signature or a token no longer in the owner's
// list (replay after rotation, logout, or global revocation).
func (s *Service) Refresh(ctx context.Context, presented string, now time.Time) (Issued, error) {
	claims, err := s.refresh.Parse(presented, now)
	if err != nil {
		return Issued{}, err
	}

	rt, rexp, err := s.refresh.Mint(claims.UserID, now)
	if err != nil {
		return Issued{}, err
	}

	oldHash := s.hasher.Hex(strings.TrimSpace(presented))
	if err := s.store.Rotate(ctx, claims.UserID, oldHash, s.hasher.Hex(rt), rexp, now); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			s.log.Warn("session.refresh_rejected", "user_id", claims.UserID, "reason", "not_in_list")
		}
		return Issued{}, err
	}

	at, aexp, err := s.access.Issue(claims.UserID, now)
	if err != nil {
		return Issued{}, err
	}

	s.log.Debug("session.rotated", "user_id", claims.UserID)
	return Issued{UserID: claims.UserID, AccessToken: at, AccessExp: aexp, RefreshToken: rt, RefreshExp: rexp}, nil
}

// RevokeOne removes presented from userID's list. An unknown token is not an
// error, so logout is idempotent.
func (s *Service) RevokeOne(ctx context.Context, userID, presented string) error {
	presented = strings.TrimSpace(presented)
	if userID == "" || presented == "" {
		return nil
	}
	return s.store.Remove(ctx, userID, s.hasher.Hex(presented))
}

// RevokePresented removes presented from its owner's list when only the token
// is known. Signature is checked; expiry is not, so an expired token can still
// be cleaned up. Returns the owning user id.
func (s *Service) RevokePresented(ctx context.Context, presented string) (string, error) {
	userID, err := s.refresh.Subject(presented)
	if err != nil {
		return "", err
	}
	return userID, s.RevokeOne(ctx, userID, presented)
}

// RevokeAll empties userID's list; every outstanding refresh token stops working.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	if err := s.store.Clear(ctx, userID); err != nil {
		return err
	}
	s.log.Info("session.revoked_all", "user_id", userID)
	return nil
}

// ValidateAccessToken verifies an access token. It is stateless: revocation
// takes effect for access tokens only when they expire.
func (s *Service) ValidateAccessToken(tok string, now time.Time) (AccessClaims, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return s.access.Verify(tok, now)
}

// ActiveCount returns the number of live refresh tokens for userID.
func (s *Service) ActiveCount(ctx context.Context, userID string, now time.Time) (int, error) {
	return s.store.Count(ctx, userID, now)
}

// Sweep purges expired refresh-token entries.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int64, error) {
	return s.store.DeleteExpired(ctx, now)
}
