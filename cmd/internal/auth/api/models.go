package api

import "time"

type registerRequest struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Platform   string `json:"platform"`
}

type verifyOTPRequest struct {
	Identifier  string `json:"identifier"`
	Purpose     string `json:"purpose"`
	Code        string `json:"code"`
	TrustDevice bool   `json:"trust_device"`
	DeviceLabel string `json:"device_label"`
	Platform    string `json:"platform"`
}

type resendOTPRequest struct {
	Identifier string `json:"identifier"`
	Purpose    string `json:"purpose"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Platform     string `json:"platform"`
}

type forgotPasswordRequest struct {
	Identifier string `json:"identifier"`
}

type resetPasswordRequest struct {
	Identifier  string `json:"identifier"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type identifierChangeRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

type userResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      *string    `json:"email"`
	Phone      *string    `json:"phone"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	Providers  []string   `json:"providers,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type sessionResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type pendingResponse struct {
	Purpose            string    `json:"purpose"`
	Channel            string    `json:"channel"`
	SentTo             string    `json:"sent_to"`
	ExpiresAt          time.Time `json:"expires_at"`
	ResendAfterSeconds int64     `json:"resend_after_seconds"`
}

type deviceResponse struct {
	DeviceID string    `json:"device_id"`
	Label    string    `json:"label"`
	AddedAt  time.Time `json:"added_at"`
}

type otpRequiredResponse struct {
	Status string          `json:"status"`
	OTP    pendingResponse `json:"otp"`
}

type authenticatedResponse struct {
	Status        string          `json:"status"`
	User          userResponse    `json:"user"`
	Session       sessionResponse `json:"session"`
	TrustedDevice *deviceResponse `json:"trusted_device,omitempty"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type devicesResponse struct {
	Devices []deviceResponse `json:"devices"`
}
