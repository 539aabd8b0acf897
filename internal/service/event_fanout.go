package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/support-relay-go/internal/audit"
	"github.com/openclaw/support-relay-go/internal/model"
	"github.com/openclaw/support-relay-go/internal/sse"
)

const publishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

type Recorder interface {
	Record(event model.SessionEvent) bool
}

// EventFanout receives hub events and forwards them to the SSE broker, the
// audit store and the security audit log. Emit only enqueues, so it is safe
// to call while the hub lock is held; delivery happens on a worker goroutine.
type EventFanout struct {
	publisher Publisher
	recorder  Recorder
	queue     chan model.SessionEvent
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewEventFanout(publisher Publisher, recorder Recorder, bufferSize int) *EventFanout {
	return &EventFanout{
		publisher: publisher,
		recorder:  recorder,
		queue:     make(chan model.SessionEvent, bufferSize),
		done:      make(chan struct{}),
	}
}

func (f *EventFanout) Start() {
	f.wg.Add(1)
	go f.run()
}

func (f *EventFanout) Stop() {
	close(f.done)
	f.wg.Wait()
}

func (f *EventFanout) Emit(event model.SessionEvent) {
	select {
	case <-f.done:
		return
	default:
	}

	select {
	case f.queue <- event:
	default:
		log.Warn().Str("eventType", string(event.Type)).Msg("event queue full, dropping event")
	}
}

func (f *EventFanout) run() {
	defer f.wg.Done()

	for {
		select {
		case event := <-f.queue:
			f.deliver(event)
		case <-f.done:
			for {
				select {
				case event := <-f.queue:
					f.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (f *EventFanout) deliver(event model.SessionEvent) {
	logAudit(event)

	if f.recorder != nil {
		f.recorder.Record(event)
	}

	if f.publisher == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal session event")
		return
	}
	sseEvent := sse.Event{Type: string(event.Type), Data: data}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	topics := []string{sse.TopicAll}
	if event.SessionID != "" {
		topics = append(topics, event.SessionID)
	}
	for _, topic := range topics {
		if err := f.publisher.Publish(ctx, topic, sseEvent); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("failed to publish session event")
		}
	}
}

func logAudit(event model.SessionEvent) {
	var auditType audit.EventType
	switch event.Type {
	case model.EventSessionCreated:
		auditType = audit.EventSessionCreate
	case model.EventOperatorAttached:
		auditType = audit.EventPairingSuccess
	case model.EventOperatorDetached:
		auditType = audit.EventOperatorDetach
	case model.EventPairingFailed:
		auditType = audit.EventPairingFailure
	case model.EventSessionRemoved:
		auditType = audit.EventSessionRemove
	default:
		return
	}

	var details map[string]interface{}
	if event.Details != nil {
		_ = json.Unmarshal(*event.Details, &details)
	}

	audit.Log(context.Background(), audit.Event{
		Type:      auditType,
		SessionID: event.SessionID,
		Role:      string(event.Role),
		Details:   details,
	})
}
