package login

import (
	"context"
	"strings"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/otp"
)

// Me returns the account behind an access token.
func (s *Service) Me(ctx context.Context, userID string) (identity.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, newError(KindNotFound, "account not found")
		}
		return identity.User{}, s.internal(ctx, "login.Me", err)
	}
	return u, nil
}

// ListTrustedDevices returns the user's trusted devices, oldest first.
func (s *Service) ListTrustedDevices(ctx context.Context, userID string) ([]identity.TrustedDevice, error) {
	ds, err := s.devices.List(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, newError(KindNotFound, "account not found")
		}
		return nil, s.internal(ctx, "login.ListTrustedDevices", err)
	}
	return ds, nil
}

// RevokeTrustedDevice removes one device; that device needs a code again
// on its next login.
func (s *Service) RevokeTrustedDevice(ctx context.Context, userID, deviceID string) error {
	if err := s.devices.Revoke(ctx, userID, deviceID); err != nil {
		if identity.IsNotFound(err) {
			return newError(KindNotFound, "device not found")
		}
		return s.internal(ctx, "login.RevokeTrustedDevice", err)
	}
	s.log.InfoContext(ctx, "auth.device.revoked", "user_id", userID)
	return nil
}

// ChangePassword replaces the password after checking the current one and
// revokes every session.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	const op = "login.ChangePassword"
	now := s.now()

	ua, err := s.users.GetUserAuthByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return newError(KindNotFound, "account not found")
		}
		return s.internal(ctx, op, err)
	}
	if ua.PasswordHash == nil {
		return validation("no password is set for this account")
	}

	ok, err := s.checkPassword(ctx, op, ua, current)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindInvalidCredentials, "current password is incorrect")
	}
	if verr := s.validatePassword(next); verr != nil {
		return verr
	}

	hash, err := s.passwords.Hash(next)
	if err != nil {
		return s.internal(ctx, op, err)
	}
	if err := s.users.SetPasswordHash(ctx, userID, hash, now); err != nil {
		return s.internal(ctx, op, err)
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return s.internal(ctx, op, err)
	}

	s.log.InfoContext(ctx, "auth.password.changed", "user_id", userID)
	return nil
}

func changePurpose(ch identity.Channel) otp.Purpose {
	if ch == identity.ChannelPhone {
		return otp.PurposeChangePhone
	}
	return otp.PurposeChangeEmail
}

// RequestIdentifierChange sends a code to a new email or phone number.
func (s *Service) RequestIdentifierChange(ctx context.Context, userID, newIdentifier string) (Pending, error) {
	const op = "login.RequestIdentifierChange"
	now := s.now()

	ch, id, verr := detect(newIdentifier)
	if verr != nil {
		return Pending{}, verr
	}
	if _, err := s.Me(ctx, userID); err != nil {
		return Pending{}, err
	}

	_, taken, err := s.lookup(ctx, op, ch, id)
	if err != nil {
		return Pending{}, err
	}
	if taken {
		return Pending{}, newError(KindConflict, string(ch)+" already in use")
	}

	return s.issueAndDeliver(ctx, ch, id, changePurpose(ch), now)
}

// ConfirmIdentifierChange consumes the code sent to newIdentifier and sets it
// on the account.
func (s *Service) ConfirmIdentifierChange(ctx context.Context, userID, newIdentifier, code string) (identity.User, error) {
	const op = "login.ConfirmIdentifierChange"
	now := s.now()

	ch, id, verr := detect(newIdentifier)
	if verr != nil {
		return identity.User{}, verr
	}
	if strings.TrimSpace(code) == "" {
		return identity.User{}, validation("code is required")
	}

	p := changePurpose(ch)
	err := s.otps.Verify(ctx, id, ch, p, code, now)
	s.metrics.otpVerification.WithLabelValues(string(p), otpOutcome(err)).Inc()
	if err != nil {
		if e, ok := otpError(err); ok {
			return identity.User{}, e
		}
		return identity.User{}, s.internal(ctx, op, err)
	}

	if ch == identity.ChannelEmail {
		err = s.users.SetEmail(ctx, userID, id, now)
	} else {
		err = s.users.SetPhone(ctx, userID, id, now)
	}
	if err != nil {
		if e, ok := identityError(err); ok {
			if e.Kind == KindConflict {
				e.Message = string(ch) + " already in use"
			}
			return identity.User{}, e
		}
		return identity.User{}, s.internal(ctx, op, err)
	}

	s.log.InfoContext(ctx, "auth.identifier.changed", "user_id", userID, "channel", ch)
	return s.Me(ctx, userID)
}

// DeleteAccount soft-deletes the account and revokes every session.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	const op = "login.DeleteAccount"

	if err := s.users.SoftDelete(ctx, userID, s.now()); err != nil {
		if identity.IsNotFound(err) {
			return newError(KindNotFound, "account not found")
		}
		return s.internal(ctx, op, err)
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return s.internal(ctx, op, err)
	}
	s.log.InfoContext(ctx, "auth.account.deleted", "user_id", userID)
	return nil
}
