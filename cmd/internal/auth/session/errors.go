package session

import "errors"

var (
	// ErrInvalidToken is returned when a token fails verification, or when a
	// refresh token is not (or no longer) in its owner's list.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpired is returned when a refresh token is past its validity window.
	ErrExpired = errors.New("token expired")

	// ErrUnknownUser is returned when a token is issued for a missing user.
	ErrUnknownUser = errors.New("unknown user")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
