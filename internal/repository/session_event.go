package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/support-relay-go/internal/database"
	"github.com/openclaw/support-relay-go/internal/model"
)

// SessionEventRepository stores the relay's session lifecycle audit trail.
// Rows are never read back into the live registry.
type SessionEventRepository interface {
	Create(ctx context.Context, params model.CreateSessionEventParams) (*model.SessionEvent, error)
	FindBySessionID(ctx context.Context, sessionID string, limit int) ([]model.SessionEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type sessionEventRepo struct {
	db database.DBTX
}

func NewSessionEventRepository(db *sqlx.DB) SessionEventRepository {
	return &sessionEventRepo{db: db}
}

func (r *sessionEventRepo) Create(ctx context.Context, params model.CreateSessionEventParams) (*model.SessionEvent, error) {
	var event model.SessionEvent
	err := r.db.GetContext(ctx, &event, `
		INSERT INTO session_events (id, session_id, event_type, role, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING *
	`, params.ID, params.SessionID, params.Type, params.Role, params.Details, params.CreatedAt)
	return optionalRow(&event, err)
}

func (r *sessionEventRepo) FindBySessionID(ctx context.Context, sessionID string, limit int) ([]model.SessionEvent, error) {
	var events []model.SessionEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM session_events
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *sessionEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM session_events WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
