// Package schema owns the Postgres DDL for the auth core and applies it into a
// named schema. Statements are idempotent (IF NOT EXISTS).
package schema

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Default is the schema used when none is configured.
const Default = "fintrack"

//go:embed schema.sql
var ddl string

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ValidIdent reports whether s is a plain Postgres identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Table returns the quoted "schema"."name" reference.
func Table(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// SQL renders the DDL for schema.
func SQL(schema string) (string, error) {
	if !ValidIdent(schema) {
		return "", fmt.Errorf("schema: invalid identifier %q", schema)
	}
	return strings.ReplaceAll(ddl, "{{schema}}", pgx.Identifier{schema}.Sanitize()), nil
}

// Apply creates the schema (if missing) and all tables inside it.
func Apply(ctx context.Context, db Execer, schema string) error {
	sql, err := SQL(schema)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("schema: create: %w", err)
	}
	if _, err := db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("schema: apply: %w", err)
	}
	return nil
}
