package session

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// MinRefreshSecretBytes is the smallest accepted HS256 refresh signing key.
const MinRefreshSecretBytes = 32

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Issuer is set in the "iss" claim of both tokens.
	Issuer string

	// AccessTokenTTL is the lifetime of PASETO access tokens.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of refresh tokens.
	RefreshTokenTTL time.Duration

	// ClockSkew is tolerated during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// access tokens.
	PasetoV4SecretKeyHex string

	// RefreshSecret is the HS256 key used to sign refresh tokens.
	RefreshSecret []byte
}

// DefaultConfig returns the standard lifetimes without keys.
func DefaultConfig() Config {
	return Config{
		Issuer:          "fintrack",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// Validate checks lifetimes and key material.
func (c Config) Validate() error {
	switch {
	case c.Issuer == "":
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	case c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0:
		return fmt.Errorf("%w: ttl must be positive", ErrConfig)
	case c.AccessTokenTTL >= c.RefreshTokenTTL:
		return fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrConfig)
	case c.ClockSkew < 0:
		return fmt.Errorf("%w: negative clock skew", ErrConfig)
	case len(c.RefreshSecret) < MinRefreshSecretBytes:
		return fmt.Errorf("%w: refresh secret shorter than %d bytes", ErrConfig, MinRefreshSecretBytes)
	}
	if _, err := paseto.NewV4AsymmetricSecretKeyFromHex(c.PasetoV4SecretKeyHex); err != nil {
		return fmt.Errorf("%w: paseto secret key", ErrConfig)
	}
	return nil
}

// WithEphemeralKeys fills missing keys with random ones. Tokens signed with
// ephemeral keys do not survive a restart, so this is for development only.
func WithEphemeralKeys(c Config) Config {
	if c.PasetoV4SecretKeyHex == "" {
		c.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	}
	if len(c.RefreshSecret) == 0 {
		// The paseto secret key doubles as a convenient source of 64 random bytes.
		raw, _ := hex.DecodeString(paseto.NewV4AsymmetricSecretKey().ExportHex())
		c.RefreshSecret = raw[:MinRefreshSecretBytes]
	}
	return c
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Keys:
//   - FINTRACK_PASETO_V4_SECRET_KEY_HEX
//   - FINTRACK_REFRESH_TOKEN_SECRET (>= 32 bytes)
//
// Optional (Go duration strings):
//   - FINTRACK_AUTH_ISSUER
//   - FINTRACK_AUTH_ACCESS_TTL
//   - FINTRACK_AUTH_REFRESH_TTL
//   - FINTRACK_AUTH_CLOCK_SKEW
//
// Missing keys are left empty; callers decide between WithEphemeralKeys and
// failing. Invalid values return ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("FINTRACK_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key string
		dst *time.Duration
		min time.Duration
	}{
		{"FINTRACK_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, time.Second},
		{"FINTRACK_AUTH_REFRESH_TTL", &cfg.RefreshTokenTTL, time.Second},
		{"FINTRACK_AUTH_CLOCK_SKEW", &cfg.ClockSkew, 0},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < d.min {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("FINTRACK_PASETO_V4_SECRET_KEY_HEX")
	if v := os.Getenv("FINTRACK_REFRESH_TOKEN_SECRET"); v != "" {
		if len(v) < MinRefreshSecretBytes {
			return Config{}, ErrConfig
		}
		cfg.RefreshSecret = []byte(v)
	}

	if cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return Config{}, ErrConfig
	}
	return cfg, nil
}
