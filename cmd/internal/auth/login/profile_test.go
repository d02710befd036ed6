package login

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/cmd/internal/auth/otp"
)

// signedIn logs in through a login code and returns the verification result.
func (h *harness) signedIn(t *testing.T, identifier, pw string, trust bool) VerifyResult {
	t.Helper()
	ctx := context.Background()

	_, err := h.svc.Login(ctx, LoginInput{Identifier: identifier, Password: pw})
	require.NoError(t, err)
	v, err := h.svc.VerifyOTP(ctx, VerifyInput{Identifier: identifier, Code: h.inbox.last(t).Code, TrustDevice: trust})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	return v
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registered(t, "alice@example.com", "Password123")
	v := h.signedIn(t, "alice@example.com", "Password123", false)

	err := h.svc.ChangePassword(ctx, u.ID, "Password999", "Brandnew99")
	requireKind(t, err, KindInvalidCredentials)

	err = h.svc.ChangePassword(ctx, u.ID, "Password123", "weak")
	requireKind(t, err, KindValidation)

	// Neither failure touched the session.
	next, err := h.svc.RefreshSession(ctx, v.Session.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, h.svc.ChangePassword(ctx, u.ID, "Password123", "Brandnew99"))

	_, err = h.svc.RefreshSession(ctx, next.RefreshToken)
	requireKind(t, err, KindInvalidToken)

	_, err = h.svc.Login(ctx, LoginInput{Identifier: "alice@example.com", Password: "Brandnew99"})
	require.NoError(t, err)
}

func TestChangePassword_ExternalAccountHasNoPassword(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.ExternalLogin(context.Background(), ExternalProfile{Provider: "google", ExternalID: "g-7", Email: "ext@example.com", EmailVerified: true})
	require.NoError(t, err)

	err = h.svc.ChangePassword(context.Background(), res.User.ID, "anything1", "Brandnew99")
	requireKind(t, err, KindValidation)
}

func TestIdentifierChange_Email(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registered(t, "alice@example.com", "Password123")
	h.registered(t, "bob@example.com", "Password123")

	_, err := h.svc.RequestIdentifierChange(ctx, u.ID, "BOB@example.com")
	requireKind(t, err, KindConflict)

	p, err := h.svc.RequestIdentifierChange(ctx, u.ID, "alice.new@example.com")
	require.NoError(t, err)
	assert.Equal(t, otp.PurposeChangeEmail, p.Purpose)
	msg := h.inbox.last(t)
	assert.Equal(t, "alice.new@example.com", msg.Identifier)

	_, err = h.svc.ConfirmIdentifierChange(ctx, u.ID, "alice.new@example.com", wrongCode(msg.Code))
	requireKind(t, err, KindInvalidCode)

	got, err := h.svc.ConfirmIdentifierChange(ctx, u.ID, "alice.new@example.com", msg.Code)
	require.NoError(t, err)
	require.NotNil(t, got.Email)
	assert.Equal(t, "alice.new@example.com", *got.Email)

	_, err = h.svc.Login(ctx, LoginInput{Identifier: "alice@example.com", Password: "Password123"})
	requireKind(t, err, KindInvalidCredentials)
	_, err = h.svc.Login(ctx, LoginInput{Identifier: "alice.new@example.com", Password: "Password123"})
	require.NoError(t, err)
}

func TestIdentifierChange_PhoneAndRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.registered(t, "alice@example.com", "Password123")
	bob := h.registered(t, "bob@example.com", "Password123")

	p, err := h.svc.RequestIdentifierChange(ctx, alice.ID, "+15550100001")
	require.NoError(t, err)
	assert.Equal(t, otp.PurposeChangePhone, p.Purpose)
	aliceCode := h.inbox.last(t).Code

	h.clock.Advance(time.Minute)
	_, err = h.svc.RequestIdentifierChange(ctx, bob.ID, "+15550100001")
	require.NoError(t, err)
	bobCode := h.inbox.last(t).Code

	// Bob's request replaced Alice's challenge; whoever holds the live code wins.
	got, err := h.svc.ConfirmIdentifierChange(ctx, bob.ID, "+15550100001", bobCode)
	require.NoError(t, err)
	require.NotNil(t, got.Phone)
	assert.Equal(t, "+15550100001", *got.Phone)

	_, err = h.svc.ConfirmIdentifierChange(ctx, alice.ID, "+15550100001", aliceCode)
	require.Error(t, err)
}

func TestIdentifierChange_HardDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	u := h.registered(t, "alice@example.com", "Password123")

	h.inbox.setFail(errors.New("sms gateway down"))
	_, err := h.svc.RequestIdentifierChange(context.Background(), u.ID, "new@example.com")
	requireKind(t, err, KindDeliveryFailed)
}

func TestDeleteAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registered(t, "alice@example.com", "Password123")
	v := h.signedIn(t, "alice@example.com", "Password123", false)

	require.NoError(t, h.svc.DeleteAccount(ctx, u.ID))

	_, err := h.svc.RefreshSession(ctx, v.Session.RefreshToken)
	requireKind(t, err, KindInvalidToken)

	_, err = h.svc.Login(ctx, LoginInput{Identifier: "alice@example.com", Password: "Password123"})
	requireKind(t, err, KindInvalidCredentials)

	// Nothing is sent for a deleted account.
	sent := h.inbox.count()
	_, err = h.svc.ForgotPassword(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, sent, h.inbox.count())
}

func TestTrustedDevices_ListAndRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registered(t, "alice@example.com", "Password123")
	v := h.signedIn(t, "alice@example.com", "Password123", true)
	require.NotNil(t, v.TrustedDevice)
	assert.Equal(t, "Trusted device", v.TrustedDevice.Label)

	ds, err := h.svc.ListTrustedDevices(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, v.TrustedDevice.DeviceID, ds[0].DeviceID)

	require.NoError(t, h.svc.RevokeTrustedDevice(ctx, u.ID, v.TrustedDevice.DeviceID))
	err = h.svc.RevokeTrustedDevice(ctx, u.ID, v.TrustedDevice.DeviceID)
	requireKind(t, err, KindNotFound)

	res, err := h.svc.Login(ctx, LoginInput{Identifier: "alice@example.com", Password: "Password123", DeviceID: v.TrustedDevice.DeviceID})
	require.NoError(t, err)
	assert.NotNil(t, res.Pending, "revoked device must need a code again")
}

func TestVerifyOTP_KeepsPresentedDeviceID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registered(t, "alice@example.com", "Password123")

	_, err := h.svc.Login(ctx, LoginInput{Identifier: "alice@example.com", Password: "Password123"})
	require.NoError(t, err)
	code := h.inbox.last(t).Code

	// A bad device id is refused without consuming the code.
	_, err = h.svc.VerifyOTP(ctx, VerifyInput{Identifier: "alice@example.com", Code: code, TrustDevice: true, DeviceID: "has space"})
	requireKind(t, err, KindValidation)

	v, err := h.svc.VerifyOTP(ctx, VerifyInput{Identifier: "alice@example.com", Code: code, TrustDevice: true, DeviceID: "browser-42"})
	require.NoError(t, err)
	require.NotNil(t, v.TrustedDevice)
	assert.Equal(t, "browser-42", v.TrustedDevice.DeviceID)
}

func TestExternalLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.ExternalLogin(ctx, ExternalProfile{Provider: " ", ExternalID: "x"})
	requireKind(t, err, KindValidation)

	first, err := h.svc.ExternalLogin(ctx, ExternalProfile{Provider: "Google", ExternalID: "g-1", Email: "Carol@Example.com", EmailVerified: true, Name: "Carol"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.True(t, first.User.Verified())
	assert.NotEmpty(t, first.Session.AccessToken)

	again, err := h.svc.ExternalLogin(ctx, ExternalProfile{Provider: "google", ExternalID: "g-1"})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.User.ID, again.User.ID)
}

func TestExternalLogin_LinksOnlyVouchedEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.registered(t, "dave@example.com", "Password123")

	_, err := h.svc.ExternalLogin(ctx, ExternalProfile{Provider: "github", ExternalID: "gh-1", Email: "dave@example.com"})
	requireKind(t, err, KindConflict)

	res, err := h.svc.ExternalLogin(ctx, ExternalProfile{Provider: "github", ExternalID: "gh-1", Email: "dave@example.com", EmailVerified: true})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, u.ID, res.User.ID)
	require.Len(t, res.User.Identities, 1)
	assert.Equal(t, "github", res.User.Identities[0].Provider)

	// The password still works alongside the link.
	_, err = h.svc.Login(ctx, LoginInput{Identifier: "dave@example.com", Password: "Password123"})
	require.NoError(t, err)
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	u := h.registered(t, "alice@example.com", "Password123")

	got, err := h.svc.Me(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	_, err = h.svc.Me(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	requireKind(t, err, KindNotFound)
}
