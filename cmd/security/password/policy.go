package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// trivialPasswords are rejected outright when RejectVeryWeak is set.
var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"11111111":    {},
	"qwerty":      {},
	"qwerty123":   {},
	"letmein1":    {},
	"welcome1":    {},
}

// shape summarises the character classes of a password.
type shape struct {
	runes    int
	letters  int
	digits   int
	distinct int
}

func shapeOf(s string) shape {
	seen := make(map[rune]struct{}, len(s))
	var sh shape
	for _, r := range s {
		sh.runes++
		switch {
		case unicode.IsLetter(r):
			sh.letters++
		case unicode.IsDigit(r):
			sh.digits++
		}
		seen[r] = struct{}{}
	}
	sh.distinct = len(seen)
	return sh
}

// Validate checks password against the policy. Lengths count runes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}

	sh := shapeOf(password)
	if c.Policy.RequireLetterAndDigit && (sh.letters == 0 || sh.digits == 0) {
		return ErrPasswordComposition
	}
	if c.Policy.RejectVeryWeak && veryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// veryWeak flags a repeated single character, short all-digit PINs and a
// small denylist. It is not a strength estimator.
func veryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	sh := shapeOf(s)
	if sh.distinct <= 1 {
		return true
	}
	if sh.digits == sh.runes && sh.runes < 12 {
		return true
	}
	_, trivial := trivialPasswords[strings.ToLower(s)]
	return trivial
}
