package identity

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

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are quoted via pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the store (default "fintrack").
func WithSchema(name string) PostgresOption {
	return func(s *PostgresStore) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !schema.ValidIdent(name) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = name
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: schema.Default,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) tbl(name string) string { return schema.Table(s.schema, name) }

// CreateUser inserts the user and its optional linked identity in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput, now time.Time) (User, error) {
	const op = "identity.CreateUser"

	in, err := prepareCreate(op, in)
	if err != nil {
		return User{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var verifiedAt *time.Time
	if in.Verified {
		verifiedAt = &now
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.tbl("users")+` (
		     id, name, email, phone, password_hash, verified_at, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		userID, strings.TrimSpace(in.Name), in.Email, in.Phone, in.PasswordHash, verifiedAt, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: insert user: %w", op, err)
	}

	u := User{
		ID:         userID,
		Name:       strings.TrimSpace(in.Name),
		Email:      in.Email,
		Phone:      in.Phone,
		VerifiedAt: verifiedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if in.Identity != nil {
		li := *in.Identity
		li.LinkedAt = now
		if err := s.insertIdentity(ctx, tx, userID, li); err != nil {
			return User{}, err
		}
		u.Identities = []LinkedIdentity{li}
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) insertIdentity(ctx context.Context, tx pgx.Tx, userID string, li LinkedIdentity) error {
	const op = "identity.LinkIdentity"
	_, err := tx.Exec(ctx,
		`INSERT INTO `+s.tbl("user_identities")+` (user_id, provider, external_id, linked_at)
		 VALUES ($1, $2, $3, $4)`,
		userID, li.Provider, li.ExternalID, li.LinkedAt,
	)
	if err != nil {
		if _, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: "identity"}
		}
		if pgIsForeignKeyViolation(err) {
			return NotFoundError{Op: op, Resource: "user"}
		}
		return fmt.Errorf("%s: insert: %w", op, err)
	}
	return nil
}

const userColumns = `id, name, email, phone, password_hash, verified_at, deleted_at, created_at, updated_at`

func (s *PostgresStore) getAuth(ctx context.Context, op, where string, arg any) (UserAuth, error) {
	var ua UserAuth
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.tbl("users")+` WHERE `+where+` AND deleted_at IS NULL`,
		arg,
	).Scan(
		&ua.ID, &ua.Name, &ua.Email, &ua.Phone, &ua.PasswordHash,
		&ua.VerifiedAt, &ua.DeletedAt, &ua.CreatedAt, &ua.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
		}
		return UserAuth{}, fmt.Errorf("%s: %w", op, err)
	}

	ids, err := s.identities(ctx, ua.ID)
	if err != nil {
		return UserAuth{}, fmt.Errorf("%s: %w", op, err)
	}
	ua.Identities = ids
	return ua, nil
}

func (s *PostgresStore) identities(ctx context.Context, userID string) ([]LinkedIdentity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, external_id, linked_at FROM `+s.tbl("user_identities")+`
		  WHERE user_id = $1 ORDER BY linked_at`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (LinkedIdentity, error) {
		var li LinkedIdentity
		err := r.Scan(&li.Provider, &li.ExternalID, &li.LinkedAt)
		return li, err
	})
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	ua, err := s.getAuth(ctx, "identity.GetUserByID", "id = $1", id)
	return ua.User, err
}

func (s *PostgresStore) GetUserAuthByID(ctx context.Context, id string) (UserAuth, error) {
	return s.getAuth(ctx, "identity.GetUserAuthByID", "id = $1", id)
}

func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	return s.getAuth(ctx, "identity.GetUserAuthByEmail", "email = $1", NormalizeEmail(email))
}

func (s *PostgresStore) GetUserAuthByPhone(ctx context.Context, phone string) (UserAuth, error) {
	return s.getAuth(ctx, "identity.GetUserAuthByPhone", "phone = $1", NormalizePhone(phone))
}

func (s *PostgresStore) GetUserByIdentity(ctx context.Context, provider, externalID string) (User, error) {
	const op = "identity.GetUserByIdentity"
	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM `+s.tbl("user_identities")+` WHERE provider = $1 AND external_id = $2`,
		provider, externalID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "identity"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	ua, err := s.getAuth(ctx, op, "id = $1", userID)
	return ua.User, err
}

// execUser runs an UPDATE against a live user row and maps "no row" to NotFound.
func (s *PostgresStore) execUser(ctx context.Context, op, set string, args ...any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.tbl("users")+` SET `+set+` WHERE id = $1 AND deleted_at IS NULL`,
		args...,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) MarkVerified(ctx context.Context, userID string, now time.Time) error {
	return s.execUser(ctx, "identity.MarkVerified",
		`verified_at = COALESCE(verified_at, $2), updated_at = $2`, userID, now)
}

func (s *PostgresStore) SetPasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.SetPasswordHash"
	if hash == "" {
		return invalid(op, "empty hash")
	}
	return s.execUser(ctx, op, `password_hash = $2, updated_at = $3`, userID, hash, now)
}

func (s *PostgresStore) SetEmail(ctx context.Context, userID, email string, now time.Time) error {
	const op = "identity.SetEmail"
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return invalid(op, "invalid email")
	}
	return s.execUser(ctx, op, `email = $2, updated_at = $3`, userID, email, now)
}

func (s *PostgresStore) SetPhone(ctx context.Context, userID, phone string, now time.Time) error {
	const op = "identity.SetPhone"
	phone = NormalizePhone(phone)
	if phone == "" {
		return invalid(op, "invalid phone")
	}
	return s.execUser(ctx, op, `phone = $2, updated_at = $3`, userID, phone, now)
}

func (s *PostgresStore) LinkIdentity(ctx context.Context, userID string, li LinkedIdentity, now time.Time) error {
	const op = "identity.LinkIdentity"
	if li.Provider == "" || li.ExternalID == "" {
		return invalid(op, "incomplete identity")
	}
	existing, err := s.GetUserByIdentity(ctx, li.Provider, li.ExternalID)
	switch {
	case err == nil && existing.ID == userID:
		return nil
	case err == nil:
		return ConflictError{Op: op, Field: "identity"}
	case !IsNotFound(err):
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	li.LinkedAt = now
	if err := s.insertIdentity(ctx, tx, userID, li); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE `+s.tbl("users")+` SET updated_at = $2 WHERE id = $1`, userID, now); err != nil {
		return fmt.Errorf("%s: touch: %w", op, err)
	}
	return tx.Commit(ctx)
}

// SoftDelete flags the user and drops trusted devices in one transaction.
func (s *PostgresStore) SoftDelete(ctx context.Context, userID string, now time.Time) error {
	const op = "identity.SoftDelete"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE `+s.tbl("users")+` SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		userID, now,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.tbl("user_trusted_devices")+` WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: devices: %w", op, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AddTrustedDevice(ctx context.Context, userID string, d TrustedDevice) error {
	const op = "identity.AddTrustedDevice"
	if strings.TrimSpace(d.DeviceID) == "" {
		return invalid(op, "missing device_id")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.tbl("user_trusted_devices")+` (user_id, device_id, label, added_at)
		 SELECT id, $2, $3, $4 FROM `+s.tbl("users")+` WHERE id = $1 AND deleted_at IS NULL
		 ON CONFLICT (user_id, device_id) DO UPDATE SET label = EXCLUDED.label, added_at = EXCLUDED.added_at`,
		userID, d.DeviceID, d.Label, d.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) HasTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	const op = "identity.HasTrustedDevice"
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.tbl("user_trusted_devices")+` WHERE user_id = $1 AND device_id = $2)`,
		userID, deviceID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

func (s *PostgresStore) ListTrustedDevices(ctx context.Context, userID string) ([]TrustedDevice, error) {
	const op = "identity.ListTrustedDevices"
	rows, err := s.pool.Query(ctx,
		`SELECT device_id, label, added_at FROM `+s.tbl("user_trusted_devices")+`
		  WHERE user_id = $1 ORDER BY added_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (TrustedDevice, error) {
		var d TrustedDevice
		err := r.Scan(&d.DeviceID, &d.Label, &d.AddedAt)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) RemoveTrustedDevice(ctx context.Context, userID, deviceID string) error {
	const op = "identity.RemoveTrustedDevice"
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.tbl("user_trusted_devices")+` WHERE user_id = $1 AND device_id = $2`,
		userID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "device"}
	}
	return nil
}

// ---- helpers ----

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_users_email":
		return "email", true
	case "uq_users_phone":
		return "phone", true
	case "uq_user_identities_external":
		return "identity", true
	default:
		switch {
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "phone"):
			return "phone", true
		default:
			return "unique", true
		}
	}
}
