package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls transport behaviour: body limits, throttles and cookies.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP sliding windows.
	OTPSendMax      int
	OTPSendWindow   time.Duration
	OTPVerifyMax    int
	OTPVerifyWindow time.Duration
	LoginMax        int
	LoginWindow     time.Duration

	// Web clients keep the refresh token in an HttpOnly cookie and echo the
	// CSRF cookie in CSRFHeaderName.
	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	DeviceCookieName        string
	DeviceHeaderName        string
	CookiePath              string
	CookieDomain            string
	CookieSecure            bool
	CookieSameSite          http.SameSite
	DeviceCookieTTL         time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:            64 << 10,
		OTPSendMax:              5,
		OTPSendWindow:           10 * time.Minute,
		OTPVerifyMax:            10,
		OTPVerifyWindow:         15 * time.Minute,
		LoginMax:                10,
		LoginWindow:             15 * time.Minute,
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "fintrack_refresh",
		CSRFCookieName:          "fintrack_csrf",
		CSRFHeaderName:          "X-CSRF-Token",
		DeviceCookieName:        "fintrack_device",
		DeviceHeaderName:        "X-Device-ID",
		CookiePath:              "/",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteLaxMode,
		DeviceCookieTTL:         365 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv overlays FINTRACK_HTTP_* / FINTRACK_AUTH_* variables on
// DefaultConfig. Invalid values keep the default.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	cfg := Config{
		TrustProxy:              envBool("FINTRACK_HTTP_TRUST_PROXY", d.TrustProxy),
		MaxBodyBytes:            envInt64("FINTRACK_HTTP_MAX_BODY_BYTES", d.MaxBodyBytes),
		OTPSendMax:              envInt("FINTRACK_AUTH_OTP_SEND_IP_MAX", d.OTPSendMax),
		OTPSendWindow:           envDuration("FINTRACK_AUTH_OTP_SEND_IP_WINDOW", d.OTPSendWindow),
		OTPVerifyMax:            envInt("FINTRACK_AUTH_OTP_VERIFY_IP_MAX", d.OTPVerifyMax),
		OTPVerifyWindow:         envDuration("FINTRACK_AUTH_OTP_VERIFY_IP_WINDOW", d.OTPVerifyWindow),
		LoginMax:                envInt("FINTRACK_AUTH_LOGIN_IP_MAX", d.LoginMax),
		LoginWindow:             envDuration("FINTRACK_AUTH_LOGIN_IP_WINDOW", d.LoginWindow),
		WebRefreshCookieEnabled: envBool("FINTRACK_AUTH_WEB_COOKIE", d.WebRefreshCookieEnabled),
		RefreshCookieName:       envString("FINTRACK_AUTH_REFRESH_COOKIE_NAME", d.RefreshCookieName),
		CSRFCookieName:          envString("FINTRACK_AUTH_CSRF_COOKIE_NAME", d.CSRFCookieName),
		CSRFHeaderName:          envString("FINTRACK_AUTH_CSRF_HEADER_NAME", d.CSRFHeaderName),
		DeviceCookieName:        envString("FINTRACK_AUTH_DEVICE_COOKIE_NAME", d.DeviceCookieName),
		DeviceHeaderName:        envString("FINTRACK_AUTH_DEVICE_HEADER_NAME", d.DeviceHeaderName),
		CookiePath:              envString("FINTRACK_AUTH_COOKIE_PATH", d.CookiePath),
		CookieDomain:            envString("FINTRACK_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:            envBool("FINTRACK_AUTH_COOKIE_SECURE", d.CookieSecure),
		CookieSameSite:          parseSameSite(envString("FINTRACK_AUTH_COOKIE_SAMESITE", "lax")),
		DeviceCookieTTL:         envDuration("FINTRACK_AUTH_DEVICE_COOKIE_TTL", d.DeviceCookieTTL),
	}

	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		cfg.CSRFCookieName = cfg.RefreshCookieName + "_csrf"
	}
	return cfg
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
