// Package pgtest provides opt-in Postgres fixtures for integration tests.
//
// Tests are skipped unless FINTRACK_DATABASE_URL is set. Outside CI an
// unreachable server also skips, to keep local runs fast.
package pgtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fintrack/cmd/identity/ids"
	"fintrack/cmd/internal/schema"
)

// EnvURL names the connection string variable.
const EnvURL = "FINTRACK_DATABASE_URL"

// Open connects to the test database or skips the test.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvURL))
	if raw == "" {
		t.Skipf("integration test skipped: %s not set", EnvURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvURL, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if unreachable(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

// Schema creates a throwaway schema with all tables applied and drops it on cleanup.
func Schema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	name := "fintrack_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := schema.Apply(ctx, pool, name); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{name}.Sanitize()+` CASCADE`)
	})
	return name
}

// unreachable reports whether err looks like a missing local server. In CI
// every failure is fatal.
func unreachable(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection refused", "dial tcp", "no such host", "timeout"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
