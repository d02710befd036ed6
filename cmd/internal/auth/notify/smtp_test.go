package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/otp"
)

func TestSMTPSender_BuildMessage(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "no-reply@example.com", FromName: "FinTrack"})
	s.now = func() time.Time { return now }

	m := emailMsg()
	m.Purpose = otp.PurposeForgotPassword
	m.ExpiresAt = now.Add(5 * time.Minute)

	raw := string(s.buildMessage(m))
	assert.Contains(t, raw, "From: FinTrack <no-reply@example.com>\r\n")
	assert.Contains(t, raw, "To: alice@example.com\r\n")
	assert.Contains(t, raw, "Subject: Reset your FinTrack password\r\n")
	assert.Contains(t, raw, "123456")
	assert.Contains(t, raw, "expires in 5 minute(s)")
	assert.True(t, strings.Contains(raw, "\r\n\r\n"), "headers and body must be separated")
}

func TestSMTPSender_Guards(t *testing.T) {
	assert.False(t, NewSMTPSender(SMTPConfig{}).Configured())
	assert.ErrorIs(t, NewSMTPSender(SMTPConfig{}).Send(context.Background(), emailMsg()), ErrNotConfigured)

	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Username: "bot@example.com"})
	assert.True(t, s.Configured())
	m := emailMsg()
	m.Channel = identity.ChannelPhone
	assert.ErrorIs(t, s.Send(context.Background(), m), ErrUnsupportedChannel)
}
