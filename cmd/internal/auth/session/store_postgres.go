package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fintrack/cmd/internal/schema"
)

// PostgresStore keeps refresh-token hashes in user_refresh_tokens.
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
			return fmt.Errorf("session: invalid schema identifier")
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
		return nil, fmt.Errorf("session: nil pool")
	}
	return s, nil
}

func (s *PostgresStore) table() string { return schema.Table(s.schema, "user_refresh_tokens") }

func (s *PostgresStore) Add(ctx context.Context, userID, hash string, expiresAt, now time.Time) error {
	const op = "session.PostgresStore.Add"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (token_hash, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		hash, userID, now, expiresAt,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return ErrUnknownUser
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Rotate deletes the old row only if it belongs to userID and is unexpired;
// the insert happens in the same transaction only when that delete matched.
// The delete takes the row lock, so a concurrent rotation of the same hash
// sees zero rows once the winner commits.
func (s *PostgresStore) Rotate(ctx context.Context, userID, oldHash, newHash string, expiresAt, now time.Time) error {
	const op = "session.PostgresStore.Rotate"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE token_hash = $1 AND user_id = $2 AND expires_at > $3`,
		oldHash, userID, now,
	)
	if err != nil {
		return fmt.Errorf("%s: delete: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidToken
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table()+` (token_hash, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		newHash, userID, now, expiresAt,
	); err != nil {
		if pgIsForeignKeyViolation(err) {
			return ErrUnknownUser
		}
		return fmt.Errorf("%s: insert: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, userID, hash string) error {
	const op = "session.PostgresStore.Remove"

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE token_hash = $1 AND user_id = $2`, hash, userID,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, userID string) error {
	const op = "session.PostgresStore.Clear"

	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, userID string, now time.Time) (int, error) {
	const op = "session.PostgresStore.Count"

	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.table()+` WHERE user_id = $1 AND expires_at > $2`, userID, now,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "session.PostgresStore.DeleteExpired"

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}
