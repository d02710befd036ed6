package app

import (
	"errors"
	"fmt"

	"fintrack/cmd/security/token"
)

// securityHasher resolves the secret hasher shared by OTP and session storage
// and enforces the HMAC policy. With RequireTokenHMAC a missing or short key
// is fatal; otherwise a missing key falls back to SHA-256 and a short one is
// still rejected.
func securityHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, fmt.Errorf("security policy: FINTRACK_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
	default:
		return token.Hasher{}, err
	}

	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: token hasher is not in HMAC mode")
	}
	return h, nil
}

// ValidateSecurityConfig enforces the startup security policy.
func ValidateSecurityConfig(cfg Config) error {
	_, err := securityHasher(cfg)
	return err
}
