package login

import (
	"context"
	"strings"
	"time"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/session"
)

// ExternalProfile is an identity asserted by an external provider after its
// own authentication (e.g. an OAuth callback).
type ExternalProfile struct {
	Provider      string
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string
}

// ExternalResult is a session for an external identity.
type ExternalResult struct {
	User    identity.User
	Session session.Issued
	Created bool
}

// ExternalLogin signs in through a linked identity. It links to an existing
// account only when the provider vouches for the email; otherwise a
// duplicate email is a conflict. New accounts are created verified.
func (s *Service) ExternalLogin(ctx context.Context, p ExternalProfile) (ExternalResult, error) {
	const op = "login.ExternalLogin"
	now := s.now()

	p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	if p.Provider == "" || p.ExternalID == "" {
		return ExternalResult{}, validation("provider and external id are required")
	}

	u, err := s.users.GetUserByIdentity(ctx, p.Provider, p.ExternalID)
	switch {
	case err == nil:
		return s.externalSession(ctx, op, u, false, now)
	case !identity.IsNotFound(err):
		return ExternalResult{}, s.internal(ctx, op, err)
	}

	var email *string
	if e := identity.NormalizeEmail(p.Email); e != "" && identity.ValidEmail(e) {
		email = &e
	}
	li := identity.LinkedIdentity{Provider: p.Provider, ExternalID: p.ExternalID, LinkedAt: now}

	if email != nil {
		ua, found, err := s.lookup(ctx, op, identity.ChannelEmail, *email)
		if err != nil {
			return ExternalResult{}, err
		}
		if found {
			if !p.EmailVerified {
				return ExternalResult{}, newError(KindConflict, "email already registered")
			}
			if err := s.users.LinkIdentity(ctx, ua.ID, li, now); err != nil {
				if e, ok := identityError(err); ok {
					return ExternalResult{}, e
				}
				return ExternalResult{}, s.internal(ctx, op, err)
			}
			if !ua.Verified() {
				if err := s.users.MarkVerified(ctx, ua.ID, now); err != nil {
					return ExternalResult{}, s.internal(ctx, op, err)
				}
			}
			s.log.InfoContext(ctx, "auth.external.linked", "user_id", ua.ID, "provider", p.Provider)
			u, err := s.users.GetUserByID(ctx, ua.ID)
			if err != nil {
				return ExternalResult{}, s.internal(ctx, op, err)
			}
			return s.externalSession(ctx, op, u, false, now)
		}
	}

	name := strings.Join(strings.Fields(p.Name), " ")
	u, err = s.users.CreateUser(ctx, identity.CreateUserInput{
		Name:     name,
		Email:    email,
		Identity: &li,
		Verified: true,
	}, now)
	if err != nil {
		if e, ok := identityError(err); ok {
			return ExternalResult{}, e
		}
		return ExternalResult{}, s.internal(ctx, op, err)
	}
	s.log.InfoContext(ctx, "auth.external.created", "user_id", u.ID, "provider", p.Provider)
	return s.externalSession(ctx, op, u, true, now)
}

func (s *Service) externalSession(ctx context.Context, op string, u identity.User, created bool, now time.Time) (ExternalResult, error) {
	iss, err := s.issueSession(ctx, op, u.ID, now)
	if err != nil {
		return ExternalResult{}, err
	}
	return ExternalResult{User: u, Session: iss, Created: created}, nil
}
