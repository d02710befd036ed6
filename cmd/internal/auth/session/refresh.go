package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// maxRefreshTokenLen bounds presented refresh tokens before any parsing.
const maxRefreshTokenLen = 4096

// RefreshClaims is the verified content of a refresh token.
type RefreshClaims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// RefreshCodec signs and parses HS256 refresh tokens. Every token carries a
// random "jti" so two tokens minted for the same user in the same second
// still differ.
type RefreshCodec struct {
	issuer string
	ttl    time.Duration
	skew   time.Duration
	key    []byte
}

// NewRefreshCodec returns a codec using cfg's issuer, lifetime and secret.
func NewRefreshCodec(cfg Config) (*RefreshCodec, error) {
	if len(cfg.RefreshSecret) < MinRefreshSecretBytes {
		return nil, ErrConfig
	}
	key := make([]byte, len(cfg.RefreshSecret))
	copy(key, cfg.RefreshSecret)
	return &RefreshCodec{issuer: cfg.Issuer, ttl: cfg.RefreshTokenTTL, skew: cfg.ClockSkew, key: key}, nil
}

// Mint returns a signed refresh token for userID and its expiry.
func (c *RefreshCodec) Mint(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate truncates to seconds; report what the token actually says.
	return signed, claims.ExpiresAt.Time, nil
}

// Parse verifies signature, issuer and expiry at now.
// An expired but otherwise valid token yields ErrExpired; anything else that
// fails verification yields ErrInvalidToken.
func (c *RefreshCodec) Parse(raw string, now time.Time) (RefreshClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRefreshTokenLen {
		return RefreshClaims{}, ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return RefreshClaims{}, ErrExpired
		}
		return RefreshClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return RefreshClaims{}, ErrInvalidToken
	}

	return RefreshClaims{
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Subject returns the user id of a correctly signed token without checking
// its time claims.
func (c *RefreshCodec) Subject(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRefreshTokenLen {
		return "", ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || claims.Issuer != c.issuer || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
