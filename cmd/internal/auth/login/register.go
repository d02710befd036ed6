package login

import (
	"context"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/otp"
)

// RegisterInput is a new local account.
type RegisterInput struct {
	Name       string
	Identifier string
	Password   string
}

// Register creates an unverified account and sends a register code.
// A failed send is logged; the account and challenge remain.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Pending, error) {
	const op = "login.Register"
	now := s.now()

	name, verr := cleanName(in.Name)
	if verr != nil {
		return Pending{}, verr
	}
	ch, id, verr := detect(in.Identifier)
	if verr != nil {
		return Pending{}, verr
	}
	if verr := s.validatePassword(in.Password); verr != nil {
		return Pending{}, verr
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return Pending{}, s.internal(ctx, op, err)
	}

	cu := identity.CreateUserInput{Name: name, PasswordHash: &hash}
	if ch == identity.ChannelEmail {
		cu.Email = &id
	} else {
		cu.Phone = &id
	}

	u, err := s.users.CreateUser(ctx, cu, now)
	if err != nil {
		if identity.IsConflict(err) {
			return Pending{}, newError(KindConflict, string(ch)+" already registered")
		}
		if identity.IsInvalidInput(err) {
			return Pending{}, validation("invalid registration details")
		}
		return Pending{}, s.internal(ctx, op, err)
	}
	s.log.InfoContext(ctx, "auth.register.created", "user_id", u.ID, "channel", ch)

	return s.issueAndDeliver(ctx, ch, id, otp.PurposeRegister, now)
}

// ResendInput asks for a fresh code for an outstanding flow.
type ResendInput struct {
	Identifier string
	Purpose    otp.Purpose
}

// ResendOTP replaces the code for an existing flow, subject to the cooldown.
//
//   - login: only while a login challenge is live; the password step is the
//     only way to start one.
//   - register: only for an existing unverified account.
//   - forgot-password: same as ForgotPassword.
//
// Unknown identifiers get the same response as known ones and create nothing.
// For register and forgot-password that includes repeats inside the cooldown.
func (s *Service) ResendOTP(ctx context.Context, in ResendInput) (Pending, error) {
	const op = "login.ResendOTP"
	now := s.now()

	ch, id, verr := detect(in.Identifier)
	if verr != nil {
		return Pending{}, verr
	}

	switch in.Purpose {
	case otp.PurposeLogin:
		key, err := otp.NewKey(id, ch, otp.PurposeLogin)
		if err != nil {
			return Pending{}, validation("invalid identifier")
		}
		_, live, err := s.otps.Pending(ctx, key, now)
		if err != nil {
			return Pending{}, s.internal(ctx, op, err)
		}
		if !live {
			return Pending{}, newError(KindNotFound, "no pending login, please log in again")
		}
		if _, found, err := s.lookup(ctx, op, ch, id); err != nil {
			return Pending{}, err
		} else if !found {
			_ = s.otps.Cancel(ctx, key)
			return Pending{}, newError(KindNotFound, "no pending login, please log in again")
		}
		return s.issueAndDeliver(ctx, ch, id, otp.PurposeLogin, now)

	case otp.PurposeRegister:
		ua, found, err := s.lookup(ctx, op, ch, id)
		if err != nil {
			return Pending{}, err
		}
		if !found || ua.Verified() {
			return s.genericPending(ch, id, otp.PurposeRegister, now), nil
		}
		return s.issueAnonymous(ctx, ch, id, otp.PurposeRegister, now)

	case otp.PurposeForgotPassword:
		return s.ForgotPassword(ctx, in.Identifier)

	case otp.PurposeChangeEmail, otp.PurposeChangePhone:
		return Pending{}, validation("request identifier changes from your profile")

	default:
		return Pending{}, validation("unknown purpose")
	}
}
