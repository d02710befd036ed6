package app

import (
	"context"
	"fmt"
	"time"

	"fintrack/cmd/internal/schema"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbConnectTimeout = 3 * time.Second

// NewDBPool opens the Postgres pool, checks it can hand out a connection and,
// with AutoMigrate, applies the auth tables to cfg.DBSchema.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	const op = "app.NewDBPool"

	if !schema.ValidIdent(cfg.DBSchema) {
		return nil, fmt.Errorf("%s: invalid FINTRACK_DB_SCHEMA %q", op, cfg.DBSchema)
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse url: %w", op, err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	setup := func() error {
		if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
			return fmt.Errorf("%s: ping: %w", op, err)
		}
		if !cfg.AutoMigrate {
			return nil
		}
		if err := schema.Apply(ctx, pool, cfg.DBSchema); err != nil {
			return fmt.Errorf("%s: migrate: %w", op, err)
		}
		return nil
	}
	if err := setup(); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB reports whether a connection can be acquired and pinged within
// timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
