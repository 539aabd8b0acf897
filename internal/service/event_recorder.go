package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/support-relay-go/internal/config"
	apperrors "github.com/openclaw/support-relay-go/internal/errors"
	"github.com/openclaw/support-relay-go/internal/model"
	"github.com/openclaw/support-relay-go/internal/repository"
)

const maxHistoryEvents = 500

// EventRecorder writes session events to the audit store from a single
// worker goroutine. Record never blocks; events are dropped when the
// buffer is full.
type EventRecorder struct {
	repo    repository.SessionEventRepository
	events  chan model.SessionEvent
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewEventRecorder(repo repository.SessionEventRepository, bufferSize int) *EventRecorder {
	if bufferSize <= 0 {
		bufferSize = config.EventRecorderBuffer
	}
	return &EventRecorder{
		repo:   repo,
		events: make(chan model.SessionEvent, bufferSize),
		done:   make(chan struct{}),
	}
}

func (r *EventRecorder) Start() {
	r.wg.Add(1)
	go r.run()
	log.Info().Int("buffer", cap(r.events)).Msg("event recorder started")
}

// Stop flushes buffered events and waits for the worker to exit.
func (r *EventRecorder) Stop() {
	close(r.done)
	r.wg.Wait()
	log.Info().Int64("dropped", r.dropped.Load()).Msg("event recorder stopped")
}

func (r *EventRecorder) Record(event model.SessionEvent) bool {
	select {
	case <-r.done:
		return false
	default:
	}

	select {
	case r.events <- event:
		return true
	default:
		r.dropped.Add(1)
		log.Warn().Str("eventType", string(event.Type)).Msg("event recorder buffer full, dropping event")
		return false
	}
}

func (r *EventRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// History returns the stored events of one session, oldest first.
func (r *EventRecorder) History(ctx context.Context, sessionID string, limit int) ([]model.SessionEvent, error) {
	if limit <= 0 || limit > maxHistoryEvents {
		limit = maxHistoryEvents
	}
	events, err := r.repo.FindBySessionID(ctx, sessionID, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if events == nil {
		events = []model.SessionEvent{}
	}
	return events, nil
}

func (r *EventRecorder) run() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.events:
			r.write(event)
		case <-r.done:
			for {
				select {
				case event := <-r.events:
					r.write(event)
				default:
					return
				}
			}
		}
	}
}

func (r *EventRecorder) write(event model.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), config.EventWriteTimeout)
	defer cancel()

	_, err := r.repo.Create(ctx, model.CreateSessionEventParams{
		ID:        event.ID,
		Type:      event.Type,
		SessionID: event.SessionID,
		Role:      event.Role,
		Details:   event.Details,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		log.Error().Err(err).
			Str("eventId", event.ID).
			Str("eventType", string(event.Type)).
			Msg("failed to record session event")
	}
}
