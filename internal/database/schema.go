package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id          UUID PRIMARY KEY,
	session_id  TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL,
	role        TEXT NOT NULL DEFAULT '',
	details     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_session_events_session_id ON session_events (session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_session_events_created_at ON session_events (created_at);
`

// EnsureSchema creates the audit tables if they do not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
