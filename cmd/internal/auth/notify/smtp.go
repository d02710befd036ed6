package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/otp"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string

	// DialTimeout bounds the TCP connect; SendTimeout bounds the whole
	// conversation.
	DialTimeout time.Duration
	SendTimeout time.Duration
}

// SMTPSender delivers email codes over SMTP with STARTTLS and PLAIN auth.
type SMTPSender struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPSender returns an SMTPSender. An empty Host yields an unconfigured sender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 8 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPSender{cfg: cfg, now: time.Now}
}

func (s *SMTPSender) Configured() bool { return s.cfg.Host != "" && s.cfg.From != "" }

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	if m.Channel != identity.ChannelEmail {
		return ErrUnsupportedChannel
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	d := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("notify.smtp: dial: %w", err)
	}

	deadline := s.now().Add(s.cfg.SendTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	// Bounds the whole conversation, not just the dial.
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("notify.smtp: client: %w", err)
	}
	defer func() { _ = c.Quit() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("notify.smtp: starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("notify.smtp: auth: %w", err)
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("notify.smtp: mail: %w", err)
	}
	if err := c.Rcpt(m.Identifier); err != nil {
		return fmt.Errorf("notify.smtp: rcpt: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("notify.smtp: data: %w", err)
	}
	if _, err := w.Write(s.buildMessage(m)); err != nil {
		_ = w.Close()
		return fmt.Errorf("notify.smtp: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify.smtp: close: %w", err)
	}
	return nil
}

func (s *SMTPSender) buildMessage(m Message) []byte {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}

	return []byte(strings.Join([]string{
		"From: " + from,
		"To: " + m.Identifier,
		"Subject: " + subjectFor(m.Purpose),
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		bodyFor(m, s.now()),
	}, "\r\n"))
}

func subjectFor(p otp.Purpose) string {
	switch p {
	case otp.PurposeRegister:
		return "Confirm your FinTrack account"
	case otp.PurposeForgotPassword:
		return "Reset your FinTrack password"
	case otp.PurposeChangeEmail, otp.PurposeChangePhone:
		return "Confirm your new FinTrack contact"
	default:
		return "Your FinTrack sign-in code"
	}
}

func bodyFor(m Message, now time.Time) string {
	mins := otp.CeilMinutes(m.ExpiresAt.Sub(now))
	if mins < 1 {
		mins = 1
	}
	return fmt.Sprintf(
		"Your verification code is %s.\r\n\r\nIt expires in %d minute(s). If you did not request it, you can ignore this email.\r\n",
		m.Code, mins,
	)
}
