package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fintrack/cmd/identity"
	"fintrack/cmd/internal/schema"
)

// PostgresStore keeps challenges in the otp_challenges table.
//
// Replace is one conditional upsert; Attempt locks the row with
// SELECT ... FOR UPDATE so concurrent guesses serialize on the counter.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "fintrack").
func WithSchema(name string) PostgresOption {
	return func(s *PostgresStore) error {
		name = strings.TrimSpace(name)
		if !schema.ValidIdent(name) {
			return fmt.Errorf("otp: invalid schema identifier")
		}
		s.schema = name
		return nil
	}
}

// NewPostgresStore returns a PostgresStore. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, schema: schema.Default}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, fmt.Errorf("otp: nil pool")
	}
	return s, nil
}

func (s *PostgresStore) table() string { return schema.Table(s.schema, "otp_challenges") }

func (s *PostgresStore) Replace(ctx context.Context, ch Challenge, cooldown time.Duration, now time.Time) error {
	const op = "otp.PostgresStore.Replace"

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` AS c (
		     identifier, channel, purpose, code_hash, attempts, locked_until, last_sent_at, expires_at, created_at
		   ) VALUES ($1, $2, $3, $4, 0, NULL, $5, $6, $7)
		 ON CONFLICT (identifier, channel, purpose) DO UPDATE
		   SET code_hash = EXCLUDED.code_hash,
		       attempts = 0,
		       locked_until = NULL,
		       last_sent_at = EXCLUDED.last_sent_at,
		       expires_at = EXCLUDED.expires_at,
		       created_at = EXCLUDED.created_at
		 WHERE c.expires_at <= $8 OR c.last_sent_at <= $9`,
		ch.Identifier, string(ch.Channel), string(ch.Purpose), ch.CodeHash,
		ch.LastSentAt, ch.ExpiresAt, ch.CreatedAt,
		now, now.Add(-cooldown),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// The live row is inside its cooldown; report how long is left.
	var lastSent time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT last_sent_at FROM `+s.table()+` WHERE identifier = $1 AND channel = $2 AND purpose = $3`,
		ch.Identifier, string(ch.Channel), string(ch.Purpose),
	).Scan(&lastSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &RateLimitError{RetryAfter: cooldown}
		}
		return fmt.Errorf("%s: cooldown: %w", op, err)
	}
	retry := cooldown - now.Sub(lastSent)
	if retry <= 0 {
		retry = time.Second
	}
	return &RateLimitError{RetryAfter: retry}
}

func (s *PostgresStore) Attempt(ctx context.Context, key Key, candidateHash string, p Policy, now time.Time) error {
	const op = "otp.PostgresStore.Attempt"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanChallenge(tx.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM `+s.table()+`
		  WHERE identifier = $1 AND channel = $2 AND purpose = $3
		  FOR UPDATE`,
		key.Identifier, string(key.Channel), string(key.Purpose),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%s: select: %w", op, err)
	}

	next, remove, verr := evaluateAttempt(cur, candidateHash, now, p)
	if remove {
		_, err = tx.Exec(ctx,
			`DELETE FROM `+s.table()+` WHERE identifier = $1 AND channel = $2 AND purpose = $3`,
			key.Identifier, string(key.Channel), string(key.Purpose),
		)
	} else if next.Attempts != cur.Attempts {
		_, err = tx.Exec(ctx,
			`UPDATE `+s.table()+` SET attempts = $4, locked_until = $5
			  WHERE identifier = $1 AND channel = $2 AND purpose = $3`,
			key.Identifier, string(key.Channel), string(key.Purpose), next.Attempts, next.LockedUntil,
		)
	}
	if err != nil {
		return fmt.Errorf("%s: write: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return verr
}

func (s *PostgresStore) Get(ctx context.Context, key Key, now time.Time) (Challenge, error) {
	const op = "otp.PostgresStore.Get"

	c, err := scanChallenge(s.pool.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM `+s.table()+`
		  WHERE identifier = $1 AND channel = $2 AND purpose = $3`,
		key.Identifier, string(key.Channel), string(key.Purpose),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, fmt.Errorf("%s: %w", op, err)
	}
	if !c.Live(now) {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM `+s.table()+`
			  WHERE identifier = $1 AND channel = $2 AND purpose = $3 AND expires_at <= $4`,
			key.Identifier, string(key.Channel), string(key.Purpose), now,
		)
		if err != nil {
			return Challenge{}, fmt.Errorf("%s: purge: %w", op, err)
		}
		return Challenge{}, ErrExpired
	}
	return c, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE identifier = $1 AND channel = $2 AND purpose = $3`,
		key.Identifier, string(key.Channel), string(key.Purpose),
	)
	if err != nil {
		return fmt.Errorf("otp.PostgresStore.Delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("otp.PostgresStore.DeleteExpired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const challengeColumns = `identifier, channel, purpose, code_hash, attempts, locked_until, last_sent_at, expires_at, created_at`

func scanChallenge(row pgx.Row) (Challenge, error) {
	var (
		c       Challenge
		channel string
		purpose string
	)
	err := row.Scan(
		&c.Identifier, &channel, &purpose, &c.CodeHash, &c.Attempts,
		&c.LockedUntil, &c.LastSentAt, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return Challenge{}, err
	}
	c.Channel = identity.Channel(channel)
	c.Purpose = Purpose(purpose)
	return c, nil
}
