package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestApp builds an in-memory App with cheap password hashing and log
// delivery.
func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()

	for _, k := range []string{
		"FINTRACK_TOKEN_HMAC_KEY",
		"FINTRACK_PASETO_V4_SECRET_KEY_HEX",
		"FINTRACK_REFRESH_TOKEN_SECRET",
		"FINTRACK_NOTIFY_EMAIL",
		"FINTRACK_NOTIFY_PHONE",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("FINTRACK_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("FINTRACK_ARGON2_ITERATIONS", "1")

	if cfg.Env == "" {
		cfg.Env = "test"
	}
	if cfg.DBSchema == "" {
		cfg.DBSchema = "fintrack"
	}
	cfg.SweepInterval = time.Minute

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.close)
	return a
}

func serve(a *App, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "198.51.100.7:4000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	return rr
}

func TestApp_HealthAndReadiness(t *testing.T) {
	a := newTestApp(t, Config{})

	if rr := serve(a, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
	if rr := serve(a, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rr.Code)
	}

	rr := serve(a, http.MethodGet, "/healthz", "")
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers not applied: %q", got)
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	a := newTestApp(t, Config{ReadinessRequireDB: true})

	if rr := serve(a, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db: %d", rr.Code)
	}
}

func TestApp_AuthRoutesAndMetrics(t *testing.T) {
	a := newTestApp(t, Config{})

	rr := serve(a, http.MethodPost, "/auth/login", `{"identifier":"nobody@example.com","password":"wrong-pass-1"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("login unknown account: %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(a, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `fintrack_auth_logins_total{outcome="invalid_credentials"} 1`) {
		t.Fatalf("login counter missing from metrics:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("runtime collectors missing from metrics")
	}
}

func TestApp_CORSPreflightOnAuthRoute(t *testing.T) {
	a := newTestApp(t, Config{CORSAllowedOrigins: []string{"https://app.example.com"}, CORSAllowCredentials: true})

	req := httptest.NewRequest(http.MethodOptions, "/auth/refresh", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("allow-credentials=%q", got)
	}
}

func TestApp_ProductionNeedsDatabase(t *testing.T) {
	t.Setenv("FINTRACK_TOKEN_HMAC_KEY", strings.Repeat("p", 32))

	_, err := New(Config{Env: "production", RequireTokenHMAC: true, DBSchema: "fintrack"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "FINTRACK_DATABASE_URL") {
		t.Fatalf("expected database requirement error, got %v", err)
	}
}
