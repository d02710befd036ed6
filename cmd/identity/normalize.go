package identity

import (
	"net/mail"
	"regexp"
	"strings"
)

// Channel is the delivery medium an identifier belongs to.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool { return c == ChannelEmail || c == ChannelPhone }

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^\+?[\d\s\-()]{7,20}$`)
)

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s (already normalized or not) is a plausible address.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) > 254 || !emailRe.MatchString(s) {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// NormalizePhone strips formatting and returns "+<digits>".
// It returns "" when the input is not a phone number.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if !phoneRe.MatchString(s) {
		return ""
	}
	var b strings.Builder
	b.WriteByte('+')
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			n++
		}
	}
	if n < 7 || n > 15 {
		return ""
	}
	return b.String()
}

// ValidPhone reports whether s normalizes to a phone number.
func ValidPhone(s string) bool { return NormalizePhone(s) != "" }

// DetectChannel classifies a raw identifier and returns its normalized form.
// ok is false when the identifier is neither an email nor a phone number.
func DetectChannel(raw string) (ch Channel, normalized string, ok bool) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		e := NormalizeEmail(raw)
		if !ValidEmail(e) {
			return "", "", false
		}
		return ChannelEmail, e, true
	}
	if p := NormalizePhone(raw); p != "" {
		return ChannelPhone, p, true
	}
	return "", "", false
}

// NormalizeFor normalizes raw for a known channel; ok is false on mismatch.
func NormalizeFor(ch Channel, raw string) (string, bool) {
	switch ch {
	case ChannelEmail:
		e := NormalizeEmail(raw)
		return e, ValidEmail(e)
	case ChannelPhone:
		p := NormalizePhone(raw)
		return p, p != ""
	default:
		return "", false
	}
}

// Mask hides most of an identifier for display: "al***@example.com", "+91****3210".
func Mask(ch Channel, identifier string) string {
	switch ch {
	case ChannelEmail:
		at := strings.LastIndexByte(identifier, '@')
		if at <= 0 {
			return "***"
		}
		local, domain := []rune(identifier[:at]), identifier[at:]
		keep := 2
		if len(local) < 3 {
			keep = 1
		}
		return string(local[:keep]) + "***" + domain
	case ChannelPhone:
		if len(identifier) <= 7 {
			return "****" + identifier[max(0, len(identifier)-2):]
		}
		return identifier[:3] + "****" + identifier[len(identifier)-4:]
	default:
		return "***"
	}
}
