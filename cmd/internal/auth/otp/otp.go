package otp

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"fintrack/cmd/identity"
)

// Purpose scopes a challenge to one business flow.
type Purpose string

const (
	PurposeLogin          Purpose = "login"
	PurposeRegister       Purpose = "register"
	PurposeForgotPassword Purpose = "forgot-password"
	PurposeChangeEmail    Purpose = "change-email"
	PurposeChangePhone    Purpose = "change-phone"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeRegister, PurposeForgotPassword, PurposeChangeEmail, PurposeChangePhone:
		return true
	default:
		return false
	}
}

// Key identifies a challenge. Identifier is normalized for Channel.
type Key struct {
	Identifier string
	Channel    identity.Channel
	Purpose    Purpose
}

func (k Key) String() string {
	return string(k.Purpose) + ":" + string(k.Channel) + ":" + k.Identifier
}

// Challenge is one outstanding code. The plaintext code is never stored.
type Challenge struct {
	Key

	CodeHash    string
	Attempts    int
	LockedUntil *time.Time
	LastSentAt  time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Live reports whether the challenge can still be verified at now.
func (c Challenge) Live(now time.Time) bool { return now.Before(c.ExpiresAt) }

// Issued is the result of a successful Request. Code must only be handed to delivery.
type Issued struct {
	Key       Key
	Code      string
	ExpiresAt time.Time
}

// Policy holds the challenge timing and attempt limits.
type Policy struct {
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
	Lockout        time.Duration
	CodeDigits     int
}

// DefaultPolicy returns 6-digit codes valid for 5 minutes, a 30s resend
// cooldown and a 15 minute lockout after 5 wrong attempts.
func DefaultPolicy() Policy {
	return Policy{
		CodeTTL:        5 * time.Minute,
		ResendCooldown: 30 * time.Second,
		MaxAttempts:    5,
		Lockout:        15 * time.Minute,
		CodeDigits:     6,
	}
}

// Validate checks policy bounds.
func (p Policy) Validate() error {
	switch {
	case p.CodeTTL <= 0:
		return fmt.Errorf("%w: code ttl must be positive", ErrConfig)
	case p.ResendCooldown < 0 || p.ResendCooldown >= p.CodeTTL:
		return fmt.Errorf("%w: resend cooldown must be in [0, code ttl)", ErrConfig)
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be >= 1", ErrConfig)
	case p.Lockout <= 0:
		return fmt.Errorf("%w: lockout must be positive", ErrConfig)
	case p.CodeDigits < 4 || p.CodeDigits > 10:
		return fmt.Errorf("%w: code digits must be in [4, 10]", ErrConfig)
	}
	return nil
}

// PolicyFromEnv loads the policy from environment variables:
//   - FINTRACK_OTP_TTL
//   - FINTRACK_OTP_RESEND_COOLDOWN
//   - FINTRACK_OTP_MAX_ATTEMPTS
//   - FINTRACK_OTP_LOCKOUT
//   - FINTRACK_OTP_DIGITS
func PolicyFromEnv() (Policy, error) {
	p := DefaultPolicy()

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"FINTRACK_OTP_TTL", &p.CodeTTL},
		{"FINTRACK_OTP_RESEND_COOLDOWN", &p.ResendCooldown},
		{"FINTRACK_OTP_LOCKOUT", &p.Lockout},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return Policy{}, fmt.Errorf("%w: %s: %v", ErrConfig, d.key, err)
			}
			*d.dst = parsed
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"FINTRACK_OTP_MAX_ATTEMPTS", &p.MaxAttempts},
		{"FINTRACK_OTP_DIGITS", &p.CodeDigits},
	}
	for _, n := range ints {
		if v := os.Getenv(n.key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return Policy{}, fmt.Errorf("%w: %s: %v", ErrConfig, n.key, err)
			}
			*n.dst = parsed
		}
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
