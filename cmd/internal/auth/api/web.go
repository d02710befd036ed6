package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// csrfTokenBytes is the entropy of the double-submit token.
const csrfTokenBytes = 32

// cookie builds a cookie carrying the configured scope and security attributes.
// A zero exp yields a deletion cookie.
func (h *Handler) cookie(name, value string, exp time.Time, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
	if exp.IsZero() {
		c.Expires = time.Unix(0, 0).UTC()
		c.MaxAge = -1
	}
	return c
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	if h == nil || w == nil || strings.TrimSpace(name) == "" {
		return
	}
	http.SetCookie(w, h.cookie(name, "", time.Time{}, httpOnly))
}

// shouldUseWebCookieTransport reports whether tokens for this platform travel
// in cookies instead of the response body.
func (h *Handler) shouldUseWebCookieTransport(platform string) bool {
	if h == nil || !h.cfg.WebRefreshCookieEnabled {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(platform), "web")
}

// setWebSessionCookies stores the refresh token in an HttpOnly cookie and
// pairs it with a script-readable CSRF token, returned for the response body.
func (h *Handler) setWebSessionCookies(w http.ResponseWriter, refreshToken string, refreshExp time.Time) (string, error) {
	raw := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	csrf := base64.RawURLEncoding.EncodeToString(raw)

	http.SetCookie(w, h.cookie(h.cfg.RefreshCookieName, refreshToken, refreshExp, true))
	http.SetCookie(w, h.cookie(h.cfg.CSRFCookieName, csrf, refreshExp, false))
	return csrf, nil
}

func (h *Handler) clearWebSessionCookies(w http.ResponseWriter) {
	if h == nil || !h.cfg.WebRefreshCookieEnabled {
		return
	}
	h.expireCookie(w, h.cfg.RefreshCookieName, true)
	h.expireCookie(w, h.cfg.CSRFCookieName, false)
}

// cookieValue returns the trimmed value of the named cookie, or "".
func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// csrfDoubleSubmitValid checks that the CSRF header echoes the CSRF cookie.
func (h *Handler) csrfDoubleSubmitValid(r *http.Request) bool {
	if h == nil || r == nil || !h.cfg.WebRefreshCookieEnabled {
		return false
	}
	fromCookie := cookieValue(r, h.cfg.CSRFCookieName)
	fromHeader := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	if fromCookie == "" || len(fromCookie) != len(fromHeader) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(fromCookie), []byte(fromHeader)) == 1
}

// presentedRefreshToken returns the body token, falling back to the cookie.
// fromCookie is true whenever the refresh cookie was sent, which obliges the
// caller to check CSRF.
func (h *Handler) presentedRefreshToken(r *http.Request, body string) (token string, fromCookie bool) {
	token = strings.TrimSpace(body)
	if !h.cfg.WebRefreshCookieEnabled {
		return token, false
	}
	c := cookieValue(r, h.cfg.RefreshCookieName)
	if c == "" {
		return token, false
	}
	if token == "" {
		token = c
	}
	return token, true
}

// deviceID reads the client's device token from the header, then the cookie.
func (h *Handler) deviceID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(h.cfg.DeviceHeaderName)); v != "" {
		return v
	}
	return cookieValue(r, h.cfg.DeviceCookieName)
}

func (h *Handler) setDeviceCookie(w http.ResponseWriter, deviceID string, now time.Time) {
	http.SetCookie(w, h.cookie(h.cfg.DeviceCookieName, deviceID, now.Add(h.cfg.DeviceCookieTTL), true))
}
