package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/device"
	"fintrack/cmd/internal/auth/notify"
	"fintrack/cmd/internal/auth/otp"
	"fintrack/cmd/internal/auth/session"
	"fintrack/cmd/security/password"
)

const (
	maxNameLen = 100

	// defaultDeliveryTimeout bounds a send when the notifier has no bound of its own.
	defaultDeliveryTimeout = 10 * time.Second
)

// Deps are the collaborators of Service, constructed once at startup.
type Deps struct {
	Users     identity.Store
	OTP       *otp.Manager
	Sessions  *session.Service
	Devices   *device.Gate
	Notifier  notify.Sender
	Passwords password.Config
}

// Service runs the authentication flows.
type Service struct {
	users     identity.Store
	otps      *otp.Manager
	sessions  *session.Service
	devices   *device.Gate
	notifier  notify.Sender
	passwords password.Config

	metrics         *Metrics
	log             *slog.Logger
	now             func() time.Time
	deliveryTimeout time.Duration

	// dummyHash is verified against when no real hash exists so that unknown
	// and known identifiers cost the same.
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the counters (default: unregistered).
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDeliveryTimeout bounds each notification attempt.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.deliveryTimeout = d
		}
	}
}

// NewService validates d and returns a Service.
func NewService(d Deps, opts ...Option) (*Service, error) {
	if d.Users == nil || d.OTP == nil || d.Sessions == nil {
		return nil, errors.New("login: users, otp and sessions are required")
	}
	s := &Service{
		users:           d.Users,
		otps:            d.OTP,
		sessions:        d.Sessions,
		devices:         d.Devices,
		notifier:        d.Notifier,
		passwords:       d.Passwords,
		metrics:         NewMetrics(nil),
		log:             slog.Default(),
		now:             time.Now,
		deliveryTimeout: defaultDeliveryTimeout,
	}
	if s.devices == nil {
		s.devices = device.NewGate(d.Users)
	}
	if s.notifier == nil {
		s.notifier = notify.Unconfigured{}
	}
	if s.passwords.Params.KeyLength == 0 {
		s.passwords = password.DefaultConfig()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	h, err := s.passwords.Hash("timing-equalizer-0")
	if err != nil {
		return nil, fmt.Errorf("login: dummy hash: %w", err)
	}
	s.dummyHash = h

	if !s.notifier.Configured() {
		s.log.Warn("auth.notifier.absent", "msg", "no delivery channel configured; codes cannot reach users")
	}
	return s, nil
}

// Pending describes an outstanding OTP without revealing whether the account exists.
type Pending struct {
	Purpose          otp.Purpose
	Channel          identity.Channel
	MaskedIdentifier string
	ExpiresAt        time.Time
	ResendAfter      time.Duration
}

func (s *Service) pending(ch identity.Channel, id string, p otp.Purpose, exp time.Time) Pending {
	return Pending{
		Purpose:          p,
		Channel:          ch,
		MaskedIdentifier: identity.Mask(ch, id),
		ExpiresAt:        exp,
		ResendAfter:      s.otps.Policy().ResendCooldown,
	}
}

// genericPending is returned when no challenge was created, shaped exactly
// like a real one.
func (s *Service) genericPending(ch identity.Channel, id string, p otp.Purpose, now time.Time) Pending {
	return s.pending(ch, id, p, now.Add(s.otps.Policy().CodeTTL))
}

// hardDelivery reports whether a failed send must fail the request.
func hardDelivery(p otp.Purpose) bool {
	switch p {
	case otp.PurposeForgotPassword, otp.PurposeChangeEmail, otp.PurposeChangePhone:
		return true
	default:
		return false
	}
}

// issueAnonymous is issueAndDeliver for flows any caller can start for any
// identifier. A cooldown hit is answered like a fresh send, since unknown
// identifiers never reach the cooldown.
func (s *Service) issueAnonymous(ctx context.Context, ch identity.Channel, id string, p otp.Purpose, now time.Time) (Pending, error) {
	pending, err := s.issueAndDeliver(ctx, ch, id, p, now)
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		s.log.InfoContext(ctx, "auth.otp.cooldown",
			"purpose", p,
			"to", identity.Mask(ch, id),
			"retry_after_ms", e.RetryAfter.Milliseconds(),
		)
		return s.genericPending(ch, id, p, now), nil
	}
	return pending, err
}

// issueAndDeliver creates the challenge and sends the code. The challenge
// survives a failed send so the code can still be recovered out of band.
func (s *Service) issueAndDeliver(ctx context.Context, ch identity.Channel, id string, p otp.Purpose, now time.Time) (Pending, error) {
	const op = "login.issueAndDeliver"

	issued, err := s.otps.Request(ctx, id, ch, p, now)
	if err != nil {
		s.metrics.otpRequests.WithLabelValues(string(p), "error").Inc()
		if e, ok := otpError(err); ok {
			return Pending{}, e
		}
		return Pending{}, s.internal(ctx, op, err)
	}
	s.metrics.otpRequests.WithLabelValues(string(p), "ok").Inc()

	// Delivery is not tied to the caller's lifetime: a client that hangs up
	// must not stop a code it already asked for.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryTimeout)
	defer cancel()

	derr := s.notifier.Send(dctx, notify.Message{
		Identifier: issued.Key.Identifier,
		Channel:    ch,
		Purpose:    p,
		Code:       issued.Code,
		ExpiresAt:  issued.ExpiresAt,
	})
	if derr != nil {
		s.metrics.deliveryFailed.WithLabelValues(string(ch), string(p)).Inc()
		s.log.WarnContext(ctx, "auth.otp.delivery.fail",
			"channel", ch,
			"purpose", p,
			"to", identity.Mask(ch, issued.Key.Identifier),
			"hard", hardDelivery(p),
			"err", derr,
		)
		if hardDelivery(p) {
			return Pending{}, &Error{
				Kind:    KindDeliveryFailed,
				Message: "could not deliver the verification code, please try again shortly",
				cause:   derr,
			}
		}
	}

	return s.pending(ch, issued.Key.Identifier, p, issued.ExpiresAt), nil
}

// internal logs err with full detail and returns the generic error.
func (s *Service) internal(ctx context.Context, op string, err error) *Error {
	s.log.ErrorContext(ctx, "auth.internal_error", "op", op, "err", err)
	return &Error{Kind: KindInternal, Message: errInternal.Message, cause: err}
}

// burnPassword spends one verification to keep the failure path's timing
// in line with the success path.
func (s *Service) burnPassword(pw string) {
	_, _ = s.passwords.Verify(s.dummyHash, pw)
}

// checkPassword verifies pw against the account's hash. Accounts without a
// password never match. A match on a hash made with outdated parameters is
// upgraded in place; failing to do so is only logged.
func (s *Service) checkPassword(ctx context.Context, op string, ua identity.UserAuth, pw string) (bool, error) {
	if ua.PasswordHash == nil || *ua.PasswordHash == "" {
		s.burnPassword(pw)
		return false, nil
	}
	ok, err := s.passwords.Verify(*ua.PasswordHash, pw)
	if err != nil {
		return false, s.internal(ctx, op, err)
	}
	if ok && s.passwords.NeedsRehash(*ua.PasswordHash) {
		if h, err := s.passwords.Hash(pw); err == nil {
			err = s.users.SetPasswordHash(ctx, ua.ID, h, s.now().UTC())
			if err != nil {
				s.log.WarnContext(ctx, "auth.password.rehash.fail", "user_id", ua.ID, "err", err)
			}
		}
	}
	return ok, nil
}

func (s *Service) validatePassword(pw string) *Error {
	switch err := s.passwords.Validate(pw); {
	case err == nil:
		return nil
	case errors.Is(err, password.ErrPasswordTooShort):
		return validation(fmt.Sprintf("password must be at least %d characters", s.passwords.Policy.MinLength))
	case errors.Is(err, password.ErrPasswordTooLong):
		return validation(fmt.Sprintf("password must be at most %d characters", s.passwords.Policy.MaxLength))
	case errors.Is(err, password.ErrPasswordComposition):
		return validation("password must contain a letter and a digit")
	default:
		return validation("password is too weak")
	}
}

func detect(identifier string) (identity.Channel, string, *Error) {
	if strings.TrimSpace(identifier) == "" {
		return "", "", validation("identifier is required")
	}
	ch, id, ok := identity.DetectChannel(identifier)
	if !ok {
		return "", "", validation("identifier must be a valid email or phone number")
	}
	return ch, id, nil
}

func cleanName(name string) (string, *Error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", validation("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", validation(fmt.Sprintf("name must be at most %d characters", maxNameLen))
	}
	return name, nil
}

// lookup finds a live user by identifier; found is false for unknown or deleted.
func (s *Service) lookup(ctx context.Context, op string, ch identity.Channel, id string) (identity.UserAuth, bool, error) {
	ua, err := identity.GetUserAuthByIdentifier(ctx, s.users, ch, id)
	switch {
	case err == nil:
		return ua, true, nil
	case identity.IsNotFound(err):
		return identity.UserAuth{}, false, nil
	default:
		return identity.UserAuth{}, false, s.internal(ctx, op, err)
	}
}

func (s *Service) issueSession(ctx context.Context, op, userID string, now time.Time) (session.Issued, error) {
	iss, err := s.sessions.Issue(ctx, userID, now)
	if err != nil {
		return session.Issued{}, s.internal(ctx, op, err)
	}
	return iss, nil
}
