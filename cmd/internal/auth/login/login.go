package login

import (
	"context"
	"errors"
	"strings"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/device"
	"fintrack/cmd/internal/auth/otp"
	"fintrack/cmd/internal/auth/session"
)

// LoginInput is a password attempt. DeviceID is the client's persistent
// device token, if any.
type LoginInput struct {
	Identifier string
	Password   string
	DeviceID   string
}

// LoginResult holds exactly one of Pending or Session.
type LoginResult struct {
	Pending *Pending
	Session *session.Issued
	User    *identity.User
}

// Login checks the password. A trusted device gets a session; any other
// device gets a login code.
//
// Unknown identifiers, wrong passwords, deleted accounts and password-less
// accounts all fail with the same invalid_credentials error.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	const op = "login.Login"

	if in.Password == "" {
		return LoginResult{}, validation("identifier and password are required")
	}
	ch, id, verr := detect(in.Identifier)
	if verr != nil {
		return LoginResult{}, verr
	}

	res, err := s.login(ctx, op, ch, id, in)
	s.metrics.logins.WithLabelValues(loginOutcome(res, err)).Inc()
	return res, err
}

func (s *Service) login(ctx context.Context, op string, ch identity.Channel, id string, in LoginInput) (LoginResult, error) {
	now := s.now()

	ua, found, err := s.lookup(ctx, op, ch, id)
	if err != nil {
		return LoginResult{}, err
	}
	if !found {
		s.burnPassword(in.Password)
		return LoginResult{}, errInvalidCredentials
	}

	ok, err := s.checkPassword(ctx, op, ua, in.Password)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		s.log.InfoContext(ctx, "auth.login.bad_password", "user_id", ua.ID)
		return LoginResult{}, errInvalidCredentials
	}

	trusted, err := s.devices.IsTrusted(ctx, ua.ID, in.DeviceID)
	if err != nil {
		return LoginResult{}, s.internal(ctx, op, err)
	}
	if trusted {
		iss, err := s.issueSession(ctx, op, ua.ID, now)
		if err != nil {
			return LoginResult{}, err
		}
		u := ua.User
		s.log.InfoContext(ctx, "auth.login.trusted_device", "user_id", ua.ID)
		return LoginResult{Session: &iss, User: &u}, nil
	}

	p, err := s.issueAndDeliver(ctx, ch, id, otp.PurposeLogin, now)
	if err != nil {
		return LoginResult{}, err
	}
	s.log.InfoContext(ctx, "auth.login.otp_required", "user_id", ua.ID, "channel", ch)
	return LoginResult{Pending: &p}, nil
}

func loginOutcome(res LoginResult, err error) string {
	switch {
	case err != nil:
		return outcome(err)
	case res.Session != nil:
		return "session"
	default:
		return "otp_required"
	}
}

// VerifyInput completes a login or register flow with a code.
type VerifyInput struct {
	Identifier string
	Purpose    otp.Purpose
	Code       string

	// TrustDevice records the device after a successful login verification.
	// DeviceID is kept when the client already has one; otherwise one is minted.
	TrustDevice bool
	DeviceID    string
	DeviceLabel string
}

// VerifyResult is a completed login.
type VerifyResult struct {
	User          identity.User
	Session       session.Issued
	TrustedDevice *identity.TrustedDevice
}

// VerifyOTP consumes a login or register code, marks the account verified
// and issues a session. Password-reset codes are consumed by ResetPassword.
func (s *Service) VerifyOTP(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	const op = "login.VerifyOTP"
	now := s.now()

	if in.Purpose == "" {
		in.Purpose = otp.PurposeLogin
	}
	switch in.Purpose {
	case otp.PurposeLogin, otp.PurposeRegister:
	case otp.PurposeForgotPassword:
		return VerifyResult{}, validation("use reset-password to complete a password reset")
	case otp.PurposeChangeEmail, otp.PurposeChangePhone:
		return VerifyResult{}, validation("confirm identifier changes from your profile")
	default:
		return VerifyResult{}, validation("unknown purpose")
	}

	ch, id, verr := detect(in.Identifier)
	if verr != nil {
		return VerifyResult{}, verr
	}
	if strings.TrimSpace(in.Code) == "" {
		return VerifyResult{}, validation("code is required")
	}
	// Checked before the code is consumed.
	if in.TrustDevice && in.DeviceID != "" && !device.ValidID(in.DeviceID) {
		return VerifyResult{}, validation("invalid device id")
	}

	err := s.otps.Verify(ctx, id, ch, in.Purpose, in.Code, now)
	s.metrics.otpVerification.WithLabelValues(string(in.Purpose), otpOutcome(err)).Inc()
	if err != nil {
		if e, ok := otpError(err); ok {
			if e.Kind == KindLocked {
				s.log.WarnContext(ctx, "auth.otp.locked", "purpose", in.Purpose, "to", identity.Mask(ch, id))
			}
			return VerifyResult{}, e
		}
		return VerifyResult{}, s.internal(ctx, op, err)
	}

	ua, found, err := s.lookup(ctx, op, ch, id)
	if err != nil {
		return VerifyResult{}, err
	}
	if !found {
		return VerifyResult{}, newError(KindNotFound, "account not found")
	}

	if !ua.Verified() {
		if err := s.users.MarkVerified(ctx, ua.ID, now); err != nil {
			return VerifyResult{}, s.internal(ctx, op, err)
		}
		t := now
		ua.VerifiedAt = &t
		s.log.InfoContext(ctx, "auth.account.verified", "user_id", ua.ID)
	}

	res := VerifyResult{User: ua.User}
	if in.Purpose == otp.PurposeLogin && in.TrustDevice {
		d, err := s.devices.Trust(ctx, ua.ID, in.DeviceID, in.DeviceLabel, now)
		switch {
		case err == nil:
			res.TrustedDevice = &d
			s.log.InfoContext(ctx, "auth.device.trusted", "user_id", ua.ID)
		case errors.Is(err, device.ErrInvalidDeviceID):
			return VerifyResult{}, validation("invalid device id")
		default:
			return VerifyResult{}, s.internal(ctx, op, err)
		}
	}

	iss, err := s.issueSession(ctx, op, ua.ID, now)
	if err != nil {
		return VerifyResult{}, err
	}
	res.Session = iss
	return res, nil
}

func otpOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := otpError(err); ok {
		return string(e.Kind)
	}
	return string(KindInternal)
}

// RefreshSession rotates a refresh token.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (session.Issued, error) {
	const op = "login.RefreshSession"

	iss, err := s.sessions.Refresh(ctx, refreshToken, s.now())
	if err != nil {
		e, ok := sessionError(err)
		if !ok {
			e = s.internal(ctx, op, err)
		} else if e.Kind == KindInvalidToken {
			s.log.WarnContext(ctx, "auth.refresh.rejected")
		}
		s.metrics.refreshes.WithLabelValues(string(e.Kind)).Inc()
		return session.Issued{}, e
	}
	s.metrics.refreshes.WithLabelValues("ok").Inc()
	return iss, nil
}

// Logout revokes the presented refresh token. Invalid or unknown tokens
// succeed silently.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	const op = "login.Logout"

	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	uid, err := s.sessions.RevokePresented(ctx, refreshToken)
	if err != nil {
		if _, ok := sessionError(err); ok {
			return nil
		}
		return s.internal(ctx, op, err)
	}
	s.log.InfoContext(ctx, "auth.logout", "user_id", uid)
	return nil
}

// Authenticate validates an access token and returns its user id.
func (s *Service) Authenticate(accessToken string) (string, error) {
	claims, err := s.sessions.ValidateAccessToken(accessToken, s.now())
	if err != nil {
		return "", &Error{Kind: KindInvalidToken, Message: "invalid or expired access token", cause: err}
	}
	return claims.UserID, nil
}
