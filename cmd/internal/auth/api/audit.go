package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fintrack/cmd/internal/schema"
)

// AuditEvent is one security-relevant action. Meta never carries secrets.
type AuditEvent struct {
	Action    string
	UserID    string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// AuditSink persists audit events.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// PostgresAudit writes events to the audit_log table.
type PostgresAudit struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresAudit returns a sink writing into schemaName.audit_log.
func NewPostgresAudit(pool *pgxpool.Pool, schemaName string) (*PostgresAudit, error) {
	if pool == nil {
		return nil, fmt.Errorf("api.NewPostgresAudit: nil pool")
	}
	if schemaName == "" {
		schemaName = schema.Default
	}
	if !schema.ValidIdent(schemaName) {
		return nil, fmt.Errorf("api.NewPostgresAudit: invalid schema %q", schemaName)
	}
	return &PostgresAudit{pool: pool, schema: schemaName}, nil
}

func (a *PostgresAudit) Record(ctx context.Context, ev AuditEvent) error {
	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+schema.Table(a.schema, "audit_log")+` (
			user_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, trimOrNil(ev.UserID), ev.Action, ev.At, ipVal, trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		return fmt.Errorf("api.PostgresAudit.Record: %w", err)
	}
	return nil
}

// audit logs the event and hands it to the sink, if any. A sink failure is
// logged and never fails the request.
func (h *Handler) audit(ctx context.Context, ev AuditEvent) {
	if h == nil {
		return
	}
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = h.now()
	}

	attrs := []any{"action", ev.Action}
	if ev.UserID != "" {
		attrs = append(attrs, "user_id", ev.UserID)
	}
	if ev.IP != nil {
		attrs = append(attrs, "ip", ev.IP.String())
	}
	for k, v := range ev.Meta {
		attrs = append(attrs, k, v)
	}
	h.log.InfoContext(ctx, "audit", attrs...)

	if h.sink == nil {
		return
	}
	if err := h.sink.Record(context.WithoutCancel(ctx), ev); err != nil {
		h.log.ErrorContext(ctx, "auth.audit.insert.fail", "err", err, "action", ev.Action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
