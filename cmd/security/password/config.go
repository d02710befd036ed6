package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB, as
// argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds what a user may choose as a password.
type Policy struct {
	MinLength             int
	MaxLength             int
	RequireLetterAndDigit bool
	RejectVeryWeak        bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline for account passwords: 64 MiB, three
// passes, one lane per CPU up to four.
func DefaultConfig() Config {
	lanes := min(max(runtime.NumCPU(), 1), 4)
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- within [1..4]
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:             8,
			MaxLength:             256,
			RequireLetterAndDigit: true,
		},
	}
}

// envUint describes one numeric knob and its accepted range.
type envUint struct {
	key      string
	min, max uint64
	set      func(*Config, uint64)
}

var numericKnobs = []envUint{
	{"FINTRACK_PASSWORD_MIN_LEN", 1, 1024, func(c *Config, v uint64) { c.Policy.MinLength = int(v) }},
	{"FINTRACK_PASSWORD_MAX_LEN", 1, 4096, func(c *Config, v uint64) { c.Policy.MaxLength = int(v) }},
	{"FINTRACK_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(c *Config, v uint64) { c.Params.MemoryKiB = uint32(v) }},
	{"FINTRACK_ARGON2_ITERATIONS", 1, 20, func(c *Config, v uint64) { c.Params.Iterations = uint32(v) }},
	{"FINTRACK_ARGON2_PARALLELISM", 1, 64, func(c *Config, v uint64) { c.Params.Parallelism = uint8(v) }},
	{"FINTRACK_ARGON2_SALT_LEN", 8, 64, func(c *Config, v uint64) { c.Params.SaltLength = uint32(v) }},
	{"FINTRACK_ARGON2_KEY_LEN", 16, 64, func(c *Config, v uint64) { c.Params.KeyLength = uint32(v) }},
}

// FromEnv overlays FINTRACK_PASSWORD_* and FINTRACK_ARGON2_* on DefaultConfig.
// Numeric values outside their range are rejected rather than clamped.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, k := range numericKnobs {
		raw, ok := os.LookupEnv(k.key)
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("%s: not an unsigned integer", k.key)
		}
		if v < k.min || v > k.max {
			return Config{}, fmt.Errorf("%s: out of range [%d..%d]", k.key, k.min, k.max)
		}
		k.set(&cfg, v)
	}

	flags := []struct {
		key string
		dst *bool
	}{
		{"FINTRACK_PASSWORD_REQUIRE_LETTER_DIGIT", &cfg.Policy.RequireLetterAndDigit},
		{"FINTRACK_PASSWORD_REJECT_VERY_WEAK", &cfg.Policy.RejectVeryWeak},
	}
	for _, f := range flags {
		raw, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			return Config{}, fmt.Errorf("%s: invalid boolean", f.key)
		}
		*f.dst = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}
