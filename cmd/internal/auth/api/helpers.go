package api

import (
	"time"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/login"
	"fintrack/cmd/internal/auth/session"
)

const (
	statusOTPRequired   = "otp_required"
	statusAuthenticated = "authenticated"
)

func toUserResponse(u identity.User) userResponse {
	out := userResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Phone:      u.Phone,
		Verified:   u.Verified(),
		VerifiedAt: u.VerifiedAt,
		CreatedAt:  u.CreatedAt,
	}
	for _, li := range u.Identities {
		out.Providers = append(out.Providers, li.Provider)
	}
	return out
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
	}
}

func toPendingResponse(p login.Pending) otpRequiredResponse {
	return otpRequiredResponse{
		Status: statusOTPRequired,
		OTP: pendingResponse{
			Purpose:            string(p.Purpose),
			Channel:            string(p.Channel),
			SentTo:             p.MaskedIdentifier,
			ExpiresAt:          p.ExpiresAt,
			ResendAfterSeconds: int64(p.ResendAfter / time.Second),
		},
	}
}

func toDeviceResponse(d identity.TrustedDevice) deviceResponse {
	return deviceResponse{DeviceID: d.DeviceID, Label: d.Label, AddedAt: d.AddedAt}
}
