package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	// ErrPasswordComposition means the password lacks a letter or a digit.
	ErrPasswordComposition = errors.New("password must contain a letter and a digit")
	ErrInvalidHash         = errors.New("invalid password hash")
)
