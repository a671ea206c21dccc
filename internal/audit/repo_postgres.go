package audit

import (
	"context"
	"database/sql"
	"fmt"

	"nawra-portal/pkg/utils"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_audit_events (
  id         uuid PRIMARY KEY,
  session_id text NOT NULL,
  type       text NOT NULL,
  user_id    text,
  email      text,
  ip_address text,
  resource   text,
  message    text,
  created_at timestamptz NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS session_audit_events_session_idx
  ON session_audit_events (session_id, created_at)`,
}

// EnsureSchema creates the audit table and its index in one transaction.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	return utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("audit: ensure schema: %w", err)
			}
		}
		return nil
	})
}

// PostgresRepo appends events to session_audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const insertEvent = `INSERT INTO session_audit_events
  (id, session_id, type, user_id, email, ip_address, resource, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, insertEvent,
		e.ID,
		e.SessionID,
		string(e.Type),
		nullable(e.UserID),
		nullable(e.Email),
		nullable(e.IPAddress),
		nullable(e.Resource),
		nullable(e.Message),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
