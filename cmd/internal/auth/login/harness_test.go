package login

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/auth/notify"
	"fintrack/cmd/internal/auth/otp"
	"fintrack/cmd/internal/auth/session"
	"fintrack/cmd/security/password"
	"fintrack/cmd/security/token"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// inbox records every message, even ones it then fails to deliver.
type inbox struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail error
}

func (b *inbox) Send(_ context.Context, m notify.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
	return b.fail
}

func (b *inbox) Configured() bool { return true }

func (b *inbox) setFail(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

func (b *inbox) last(t *testing.T) notify.Message {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.msgs, "no message sent")
	return b.msgs[len(b.msgs)-1]
}

func (b *inbox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

type harness struct {
	svc      *Service
	users    *identity.MemoryStore
	otpStore *otp.MemoryStore
	sessions *session.Service
	inbox    *inbox
	clock    *clock
	metrics  *Metrics
}

func cheapPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	hasher := token.NewHasher([]byte(strings.Repeat("k", token.MinHMACKeyBytes)))

	users := identity.NewMemoryStore()
	otpStore := otp.NewMemoryStore()
	otps, err := otp.NewManager(otpStore, otp.WithHasher(hasher))
	require.NoError(t, err)

	scfg := session.DefaultConfig()
	scfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	scfg.RefreshSecret = []byte(strings.Repeat("r", session.MinRefreshSecretBytes))
	sessions, err := session.NewService(scfg, session.NewMemoryStore(), session.WithHasher(hasher))
	require.NoError(t, err)

	box := &inbox{}
	metrics := NewMetrics(prometheus.NewRegistry())
	svc, err := NewService(Deps{
		Users:     users,
		OTP:       otps,
		Sessions:  sessions,
		Notifier:  box,
		Passwords: cheapPasswords(),
	}, WithClock(clk.Now), WithMetrics(metrics))
	require.NoError(t, err)

	return &harness{svc: svc, users: users, otpStore: otpStore, sessions: sessions, inbox: box, clock: clk, metrics: metrics}
}

// registered creates a verified account with the given password.
func (h *harness) registered(t *testing.T, identifier, pw string) identity.User {
	t.Helper()
	ctx := context.Background()

	_, err := h.svc.Register(ctx, RegisterInput{Name: "Alice", Identifier: identifier, Password: pw})
	require.NoError(t, err)
	res, err := h.svc.VerifyOTP(ctx, VerifyInput{Identifier: identifier, Purpose: otp.PurposeRegister, Code: h.inbox.last(t).Code})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	return res.User
}

func requireKind(t *testing.T, err error, k Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e), "not a *login.Error: %v", err)
	require.Equal(t, k, e.Kind, "error: %v", err)
	return e
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
