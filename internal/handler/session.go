package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/openclaw/support-relay-go/internal/errors"
	"github.com/openclaw/support-relay-go/internal/httputil"
	"github.com/openclaw/support-relay-go/internal/model"
	"github.com/openclaw/support-relay-go/internal/util"
)

// SnapshotSource is the read-only view of the relay's live state.
type SnapshotSource interface {
	Snapshot() []model.SessionSnapshot
	SessionSnapshot(id string) (model.SessionSnapshot, bool)
	Stats() model.HubStats
}

type EventHistory interface {
	History(ctx context.Context, sessionID string, limit int) ([]model.SessionEvent, error)
}

var validStatuses = []string{
	string(model.SessionStatusWaiting),
	string(model.SessionStatusConnected),
}

type SessionHandler struct {
	source  SnapshotSource
	history EventHistory
}

// NewSessionHandler builds the snapshot endpoints. history may be nil when
// no event store is configured.
func NewSessionHandler(source SnapshotSource, history EventHistory) *SessionHandler {
	return &SessionHandler{
		source:  source,
		history: history,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListSessions)
	r.Get("/{sessionID}", h.GetSession)
	r.Get("/{sessionID}/events", h.GetSessionEvents)

	return r
}

// GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if !util.IsValidEnum(status, validStatuses) {
		httputil.WriteError(w, apperrors.InvalidInput("status", "must be waiting or connected"))
		return
	}

	sessions := h.source.Snapshot()
	if status != "" {
		filtered := make([]model.SessionSnapshot, 0, len(sessions))
		for _, s := range sessions {
			if string(s.Status) == status {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}
	if sessions == nil {
		sessions = []model.SessionSnapshot{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// GET /api/sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		httputil.WriteError(w, apperrors.InvalidInput("sessionId", "must be a UUID"))
		return
	}

	snapshot, ok := h.source.SessionSnapshot(sessionID)
	if !ok {
		httputil.WriteError(w, apperrors.NotFound("Session"))
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// GET /api/sessions/{sessionID}/events
func (h *SessionHandler) GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		httputil.WriteError(w, apperrors.NotFound("Event store"))
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		httputil.WriteError(w, apperrors.InvalidInput("sessionId", "must be a UUID"))
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.history.History(r.Context(), sessionID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// GET /api/stats
func (h *SessionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Stats())
}
