package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShouldUseWebCookieTransport(t *testing.T) {
	h := &Handler{cfg: Config{WebRefreshCookieEnabled: true}}
	if !h.shouldUseWebCookieTransport("Web") {
		t.Fatalf("expected web cookie transport enabled for web platform")
	}
	if h.shouldUseWebCookieTransport("ios") {
		t.Fatalf("expected web cookie transport disabled for non-web platform")
	}
	h.cfg.WebRefreshCookieEnabled = false
	if h.shouldUseWebCookieTransport("web") {
		t.Fatalf("expected web cookie transport disabled by config")
	}
}

func TestSetWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}

	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(30 * time.Minute)
	csrf, err := h.setWebSessionCookies(rr, "refresh-token-123", exp)
	if err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		switch c.Name {
		case "fintrack_refresh":
			if !c.HttpOnly || c.Value != "refresh-token-123" {
				t.Fatalf("refresh cookie = %+v", c)
			}
		case "fintrack_csrf":
			if c.HttpOnly || c.Value != csrf {
				t.Fatalf("csrf cookie must be readable by scripts: %+v", c)
			}
		default:
			t.Fatalf("unexpected cookie %q", c.Name)
		}
	}
}

func TestCSRFDoubleSubmitValidation(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "fintrack_csrf", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")

	if !h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation success")
	}

	req.Header.Set("X-CSRF-Token", "csrf-def")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure on mismatch")
	}

	req.Header.Del("X-CSRF-Token")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure without header")
	}
}

func TestPresentedRefreshToken(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "fintrack_refresh", Value: "tok-123"})

	tok, fromCookie := h.presentedRefreshToken(req, "")
	if tok != "tok-123" || !fromCookie {
		t.Fatalf("got (%q, %v), want cookie token", tok, fromCookie)
	}

	tok, fromCookie = h.presentedRefreshToken(req, " body-tok ")
	if tok != "body-tok" || !fromCookie {
		t.Fatalf("body token should win but cookie presence still counts: (%q, %v)", tok, fromCookie)
	}

	bare := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	tok, fromCookie = h.presentedRefreshToken(bare, "body-tok")
	if tok != "body-tok" || fromCookie {
		t.Fatalf("got (%q, %v)", tok, fromCookie)
	}
}

func TestDeviceID_HeaderThenCookie(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	if got := h.deviceID(req); got != "" {
		t.Fatalf("deviceID = %q, want empty", got)
	}

	req.AddCookie(&http.Cookie{Name: "fintrack_device", Value: "cookie-dev"})
	if got := h.deviceID(req); got != "cookie-dev" {
		t.Fatalf("deviceID = %q, want cookie-dev", got)
	}

	req.Header.Set("X-Device-ID", "header-dev")
	if got := h.deviceID(req); got != "header-dev" {
		t.Fatalf("deviceID = %q, want header-dev", got)
	}
}
