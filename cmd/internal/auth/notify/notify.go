package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/otp"
)

var (
	// ErrNotConfigured is returned when no sender serves the channel.
	ErrNotConfigured = errors.New("notify: channel not configured")

	// ErrUnsupportedChannel is returned by a sender asked to deliver on a
	// channel it cannot reach (e.g. SMTP for a phone number).
	ErrUnsupportedChannel = errors.New("notify: unsupported channel")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("notify: invalid config")
)

// Message is one code delivery.
type Message struct {
	Identifier string
	Channel    identity.Channel
	Purpose    otp.Purpose
	Code       string
	ExpiresAt  time.Time
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, m Message) error
	// Configured reports whether the sender can deliver at all.
	Configured() bool
}

// LogSender writes the code to the log. Development only.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, m Message) error {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notify.dev.code",
		"identifier", m.Identifier,
		"channel", string(m.Channel),
		"purpose", string(m.Purpose),
		"code", m.Code,
		"expires_at", m.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

func (LogSender) Configured() bool { return true }

// Router dispatches on Message.Channel.
type Router struct {
	routes map[identity.Channel]Sender
}

// NewRouter returns a Router. Nil senders are treated as absent.
func NewRouter(routes map[identity.Channel]Sender) *Router {
	r := &Router{routes: make(map[identity.Channel]Sender, len(routes))}
	for ch, s := range routes {
		if s != nil {
			r.routes[ch] = s
		}
	}
	return r
}

func (r *Router) Send(ctx context.Context, m Message) error {
	s, ok := r.routes[m.Channel]
	if !ok || !s.Configured() {
		return fmt.Errorf("%w: %s", ErrNotConfigured, m.Channel)
	}
	return s.Send(ctx, m)
}

// Configured reports whether any channel has a configured sender.
func (r *Router) Configured() bool {
	for _, s := range r.routes {
		if s.Configured() {
			return true
		}
	}
	return false
}

// ConfiguredFor reports whether ch has a configured sender.
func (r *Router) ConfiguredFor(ch identity.Channel) bool {
	s, ok := r.routes[ch]
	return ok && s.Configured()
}

// Fallback delivers through Secondary when Primary fails or is absent.
type Fallback struct {
	Primary   Sender
	Secondary Sender
	Log       *slog.Logger
}

func (f Fallback) Send(ctx context.Context, m Message) error {
	err := ErrNotConfigured
	if f.Primary != nil && f.Primary.Configured() {
		if err = f.Primary.Send(ctx, m); err == nil {
			return nil
		}
	}
	if f.Secondary == nil || !f.Secondary.Configured() {
		return err
	}

	l := f.Log
	if l == nil {
		l = slog.Default()
	}
	l.WarnContext(ctx, "notify.fallback",
		"channel", string(m.Channel),
		"purpose", string(m.Purpose),
		"err", err,
	)
	return f.Secondary.Send(ctx, m)
}

func (f Fallback) Configured() bool {
	return (f.Primary != nil && f.Primary.Configured()) ||
		(f.Secondary != nil && f.Secondary.Configured())
}

// Timeout bounds every Send of Next by D.
type Timeout struct {
	Next Sender
	D    time.Duration
}

func (t Timeout) Send(ctx context.Context, m Message) error {
	if t.D <= 0 {
		return t.Next.Send(ctx, m)
	}
	ctx, cancel := context.WithTimeout(ctx, t.D)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- t.Next.Send(ctx, m) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("notify: send: %w", ctx.Err())
	}
}

func (t Timeout) Configured() bool { return t.Next != nil && t.Next.Configured() }

// Unconfigured is a Sender for an absent channel.
type Unconfigured struct{}

func (Unconfigured) Send(context.Context, Message) error { return ErrNotConfigured }
func (Unconfigured) Configured() bool                    { return false }
