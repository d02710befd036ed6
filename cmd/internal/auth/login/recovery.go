package login

import (
	"context"
	"strings"

	"fintrack/cmd/internal/auth/otp"
)

// ForgotPassword sends a reset code if the account exists. Unknown
// identifiers get an identical response and no challenge is stored, and a
// repeat inside the resend cooldown answers the same way for both.
// A failed send is returned as delivery_failed; the code stays valid.
func (s *Service) ForgotPassword(ctx context.Context, identifier string) (Pending, error) {
	const op = "login.ForgotPassword"
	now := s.now()

	ch, id, verr := detect(identifier)
	if verr != nil {
		return Pending{}, verr
	}

	ua, found, err := s.lookup(ctx, op, ch, id)
	if err != nil {
		return Pending{}, err
	}
	if !found {
		s.log.DebugContext(ctx, "auth.password.forgot_unknown", "channel", ch)
		return s.genericPending(ch, id, otp.PurposeForgotPassword, now), nil
	}

	p, err := s.issueAnonymous(ctx, ch, id, otp.PurposeForgotPassword, now)
	if err != nil {
		return Pending{}, err
	}
	s.log.InfoContext(ctx, "auth.password.forgot", "user_id", ua.ID)
	return p, nil
}

// ResetPasswordInput completes a password reset.
type ResetPasswordInput struct {
	Identifier  string
	Code        string
	NewPassword string
}

// ResetPassword consumes a forgot-password code, sets the new password and
// revokes every session. The new password is validated before the code is
// touched, so a policy failure does not burn the code.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	const op = "login.ResetPassword"
	now := s.now()

	ch, id, verr := detect(in.Identifier)
	if verr != nil {
		return verr
	}
	if strings.TrimSpace(in.Code) == "" {
		return validation("code is required")
	}
	if verr := s.validatePassword(in.NewPassword); verr != nil {
		return verr
	}

	err := s.otps.Verify(ctx, id, ch, otp.PurposeForgotPassword, in.Code, now)
	s.metrics.otpVerification.WithLabelValues(string(otp.PurposeForgotPassword), otpOutcome(err)).Inc()
	if err != nil {
		if e, ok := otpError(err); ok {
			return e
		}
		return s.internal(ctx, op, err)
	}

	ua, found, err := s.lookup(ctx, op, ch, id)
	if err != nil {
		return err
	}
	if !found {
		return newError(KindNotFound, "account not found")
	}

	hash, err := s.passwords.Hash(in.NewPassword)
	if err != nil {
		return s.internal(ctx, op, err)
	}
	if err := s.users.SetPasswordHash(ctx, ua.ID, hash, now); err != nil {
		return s.internal(ctx, op, err)
	}
	// Receiving the code proves control of the identifier.
	if !ua.Verified() {
		if err := s.users.MarkVerified(ctx, ua.ID, now); err != nil {
			return s.internal(ctx, op, err)
		}
	}
	if err := s.sessions.RevokeAll(ctx, ua.ID); err != nil {
		return s.internal(ctx, op, err)
	}

	s.log.InfoContext(ctx, "auth.password.reset", "user_id", ua.ID)
	return nil
}
