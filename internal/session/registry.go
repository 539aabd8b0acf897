package session

import (
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/support-relay-go/internal/errors"
	"github.com/openclaw/support-relay-go/internal/model"
)

// Session pairs one client connection with at most one operator connection.
// Connections are referenced by id; the hub resolves them.
type Session struct {
	ID             string
	Pin            string
	ClientConnID   string
	OperatorConnID string
	ClientInfo     model.ClientInfo
	CreatedAt      time.Time
	Status         model.SessionStatus
}

// Waiting reports whether no operator is attached.
func (s *Session) Waiting() bool {
	return s.Status == model.SessionStatusWaiting
}

func (s *Session) summary() model.SessionSummary {
	return model.SessionSummary{
		ID:         s.ID,
		Pin:        s.Pin,
		ClientInfo: s.ClientInfo.Clone(),
		CreatedAt:  s.CreatedAt,
	}
}

func (s *Session) snapshot() model.SessionSnapshot {
	return model.SessionSnapshot{
		ID:               s.ID,
		Pin:              s.Pin,
		ClientInfo:       s.ClientInfo.Clone(),
		CreatedAt:        s.CreatedAt,
		Status:           s.Status,
		OperatorAttached: s.OperatorConnID != "",
	}
}

// Registry is the authoritative id -> Session table.
//
// Registry is not safe for concurrent use. The hub owns it and serializes
// every call under its own lock.
type Registry struct {
	sessions map[string]*Session
	newPin   PinGenerator
	now      func() time.Time
}

type Option func(*Registry)

// WithPinGenerator overrides the random PIN source.
func WithPinGenerator(gen PinGenerator) Option {
	return func(r *Registry) {
		r.newPin = gen
	}
}

// WithClock overrides time.Now for createdAt stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		newPin:   generatePin,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new waiting session owned by clientConnID.
func (r *Registry) Create(clientConnID string, info model.ClientInfo) *Session {
	s := &Session{
		ID:           uuid.New().String(),
		Pin:          r.uniquePin(),
		ClientConnID: clientConnID,
		ClientInfo:   info.Clone(),
		CreatedAt:    r.now(),
		Status:       model.SessionStatusWaiting,
	}
	r.sessions[s.ID] = s
	return s
}

// uniquePin regenerates until the candidate is unused by every live
// session, connected ones included, since those return to waiting.
func (r *Registry) uniquePin() string {
	pin := r.newPin()
	for attempt := 1; attempt < maxPinAttempts && r.pinInUse(pin); attempt++ {
		pin = r.newPin()
	}
	if r.pinInUse(pin) {
		log.Warn().
			Int("attempts", maxPinAttempts).
			Int("sessions", len(r.sessions)).
			Msg("pin collision persisted, accepting duplicate")
	}
	return pin
}

func (r *Registry) pinInUse(pin string) bool {
	for _, s := range r.sessions {
		if s.Pin == pin {
			return true
		}
	}
	return false
}

func (r *Registry) Find(id string) *Session {
	return r.sessions[id]
}

// FindWaitingByPin returns a waiting session with the given pin, or nil.
// Connected sessions never match.
func (r *Registry) FindWaitingByPin(pin string) *Session {
	for _, s := range r.sessions {
		if s.Pin == pin && s.Waiting() {
			return s
		}
	}
	return nil
}

// Remove deletes the session. It reports whether the session existed.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Attach binds an operator connection to a waiting session.
func (r *Registry) Attach(id, operatorConnID string) error {
	s, ok := r.sessions[id]
	if !ok {
		return apperrors.NotFound("Session")
	}
	if !s.Waiting() {
		return apperrors.AlreadyPaired()
	}
	s.OperatorConnID = operatorConnID
	s.Status = model.SessionStatusConnected
	return nil
}

// Detach clears the operator and returns the session to waiting. It
// returns the connection id that was attached, if any.
func (r *Registry) Detach(id string) string {
	s, ok := r.sessions[id]
	if !ok {
		return ""
	}
	prev := s.OperatorConnID
	s.OperatorConnID = ""
	s.Status = model.SessionStatusWaiting
	return prev
}

// MergeClientInfo shallow-merges settings into the session's client info;
// later keys overwrite earlier ones.
func (r *Registry) MergeClientInfo(id string, settings map[string]any) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if s.ClientInfo == nil {
		s.ClientInfo = model.ClientInfo{}
	}
	maps.Copy(s.ClientInfo, settings)
	return true
}

// ListWaiting returns the waiting list, oldest first.
func (r *Registry) ListWaiting() []model.SessionSummary {
	list := make([]model.SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Waiting() {
			list = append(list, s.summary())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Snapshot returns every session regardless of status, oldest first.
func (r *Registry) Snapshot() []model.SessionSnapshot {
	list := make([]model.SessionSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s.snapshot())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// SnapshotOne returns the snapshot entry for id.
func (r *Registry) SnapshotOne(id string) (model.SessionSnapshot, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return model.SessionSnapshot{}, false
	}
	return s.snapshot(), true
}

// Counts returns the number of waiting and connected sessions.
func (r *Registry) Counts() (waiting, connected int) {
	for _, s := range r.sessions {
		if s.Waiting() {
			waiting++
		} else {
			connected++
		}
	}
	return waiting, connected
}
