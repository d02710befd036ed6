package login

import (
	"errors"
	"fmt"
	"time"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/otp"
	"fintrack/cmd/internal/auth/session"
)

// Kind is a stable, machine-readable failure class.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindInvalidCode        Kind = "invalid_code"
	KindRateLimited        Kind = "rate_limited"
	KindLocked             Kind = "locked"
	KindExpired            Kind = "expired"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindDeliveryFailed     Kind = "delivery_failed"
	KindInvalidToken       Kind = "invalid_token"
	KindInternal           Kind = "internal_error"
)

// Error is the only error type returned by Service methods.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfter is set for KindRateLimited and KindLocked.
	RetryAfter time.Duration

	// AttemptsRemaining is set for KindInvalidCode (and 0 for KindLocked).
	AttemptsRemaining *int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

func validation(msg string) *Error { return newError(KindValidation, msg) }

var (
	errInvalidCredentials = newError(KindInvalidCredentials, "invalid credentials")
	errInternal           = newError(KindInternal, "something went wrong, please try again")
)

func intPtr(n int) *int { return &n }

// otpError maps OTP outcomes; anything else is internal.
func otpError(err error) (*Error, bool) {
	var (
		rl  *otp.RateLimitError
		lk  *otp.LockedError
		inv *otp.InvalidCodeError
	)
	switch {
	case errors.As(err, &rl):
		return &Error{
			Kind:       KindRateLimited,
			Message:    fmt.Sprintf("please wait %ds before requesting a new code", otp.CeilSeconds(rl.RetryAfter)),
			RetryAfter: rl.RetryAfter,
		}, true
	case errors.As(err, &lk):
		return &Error{
			Kind:              KindLocked,
			Message:           fmt.Sprintf("too many attempts, try again in %d minute(s)", otp.CeilMinutes(lk.RetryAfter)),
			RetryAfter:        lk.RetryAfter,
			AttemptsRemaining: intPtr(0),
		}, true
	case errors.As(err, &inv):
		return &Error{
			Kind:              KindInvalidCode,
			Message:           fmt.Sprintf("invalid code, %d attempt(s) remaining", inv.AttemptsRemaining),
			AttemptsRemaining: intPtr(inv.AttemptsRemaining),
		}, true
	case errors.Is(err, otp.ErrExpired):
		return newError(KindExpired, "code expired, request a new one"), true
	case errors.Is(err, otp.ErrNotFound):
		return newError(KindNotFound, "no pending code, request a new one"), true
	case errors.Is(err, otp.ErrInvalidInput):
		return validation("invalid identifier or code"), true
	}
	return nil, false
}

// identityError maps identity outcomes the caller may see.
func identityError(err error) (*Error, bool) {
	switch {
	case identity.IsConflict(err):
		field := identity.ConflictField(err)
		if field == "" {
			field = "identifier"
		}
		return newError(KindConflict, field+" already registered"), true
	case identity.IsNotFound(err):
		return newError(KindNotFound, "not found"), true
	case identity.IsInvalidInput(err):
		return validation("invalid input"), true
	}
	return nil, false
}

func sessionError(err error) (*Error, bool) {
	switch {
	case errors.Is(err, session.ErrExpired):
		return newError(KindExpired, "session expired, please log in again"), true
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrUnknownUser):
		return newError(KindInvalidToken, "invalid or revoked session"), true
	}
	return nil, false
}
