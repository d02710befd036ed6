package identity

import (
	"context"
	"time"
)

// User is the canonical security principal.
// Email and Phone are stored normalized (see NormalizeEmail, NormalizePhone).
type User struct {
	ID    string
	Name  string
	Email *string
	Phone *string

	VerifiedAt *time.Time
	DeletedAt  *time.Time

	Identities []LinkedIdentity

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Verified reports whether the user proved control of a channel.
func (u User) Verified() bool { return u.VerifiedAt != nil }

// Deleted reports whether the user was soft-deleted.
func (u User) Deleted() bool { return u.DeletedAt != nil }

// HasExternalIdentity reports whether a linked identity exists for provider.
func (u User) HasExternalIdentity(provider string) bool {
	for _, li := range u.Identities {
		if li.Provider == provider {
			return true
		}
	}
	return false
}

// UserAuth is a User plus its password hash, returned only by auth lookups.
// PasswordHash is nil for external-identity-only accounts.
type UserAuth struct {
	User
	PasswordHash *string
}

// LinkedIdentity ties an external provider account (e.g. "google") to a user.
type LinkedIdentity struct {
	Provider   string
	ExternalID string
	LinkedAt   time.Time
}

// TrustedDevice lets a device skip OTP on password login.
type TrustedDevice struct {
	DeviceID string
	Label    string
	AddedAt  time.Time
}

// CreateUserInput describes a new account.
// At least one of Email, Phone or Identity must be set.
type CreateUserInput struct {
	Name         string
	Email        *string
	Phone        *string
	PasswordHash *string
	Identity     *LinkedIdentity
	Verified     bool
}

// Store is the credential persistence boundary.
//
// Mutations take now explicitly so callers and tests control time.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput, now time.Time) (User, error)

	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByID(ctx context.Context, id string) (UserAuth, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
	GetUserAuthByPhone(ctx context.Context, phone string) (UserAuth, error)
	GetUserByIdentity(ctx context.Context, provider, externalID string) (User, error)

	MarkVerified(ctx context.Context, userID string, now time.Time) error
	SetPasswordHash(ctx context.Context, userID, hash string, now time.Time) error
	SetEmail(ctx context.Context, userID, email string, now time.Time) error
	SetPhone(ctx context.Context, userID, phone string, now time.Time) error
	LinkIdentity(ctx context.Context, userID string, li LinkedIdentity, now time.Time) error
	SoftDelete(ctx context.Context, userID string, now time.Time) error

	AddTrustedDevice(ctx context.Context, userID string, d TrustedDevice) error
	HasTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error)
	ListTrustedDevices(ctx context.Context, userID string) ([]TrustedDevice, error)
	RemoveTrustedDevice(ctx context.Context, userID, deviceID string) error
}

// GetUserAuthByIdentifier dispatches an auth lookup on channel.
func GetUserAuthByIdentifier(ctx context.Context, s Store, ch Channel, identifier string) (UserAuth, error) {
	switch ch {
	case ChannelEmail:
		return s.GetUserAuthByEmail(ctx, identifier)
	case ChannelPhone:
		return s.GetUserAuthByPhone(ctx, identifier)
	default:
		return UserAuth{}, invalid("identity.GetUserAuthByIdentifier", "unknown channel")
	}
}

// prepareCreate validates and normalizes CreateUserInput for both stores.
func prepareCreate(op string, in CreateUserInput) (CreateUserInput, error) {
	out := in
	out.Email, out.Phone = nil, nil

	if in.Email != nil && *in.Email != "" {
		e := NormalizeEmail(*in.Email)
		if !ValidEmail(e) {
			return CreateUserInput{}, invalid(op, "invalid email")
		}
		out.Email = &e
	}
	if in.Phone != nil && *in.Phone != "" {
		p := NormalizePhone(*in.Phone)
		if p == "" {
			return CreateUserInput{}, invalid(op, "invalid phone")
		}
		out.Phone = &p
	}
	if in.Identity != nil && (in.Identity.Provider == "" || in.Identity.ExternalID == "") {
		return CreateUserInput{}, invalid(op, "incomplete identity")
	}
	if out.Email == nil && out.Phone == nil && in.Identity == nil {
		return CreateUserInput{}, invalid(op, "email, phone or external identity is required")
	}
	if in.PasswordHash != nil && *in.PasswordHash == "" {
		out.PasswordHash = nil
	}
	return out, nil
}
