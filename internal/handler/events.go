package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/support-relay-go/internal/errors"
	"github.com/openclaw/support-relay-go/internal/httputil"
	"github.com/openclaw/support-relay-go/internal/sse"
	"github.com/openclaw/support-relay-go/internal/util"
)

// EventsHandler streams session lifecycle events to dashboards.
type EventsHandler struct {
	broker *sse.Broker
	source SnapshotSource
}

func NewEventsHandler(broker *sse.Broker, source SnapshotSource) *EventsHandler {
	return &EventsHandler{
		broker: broker,
		source: source,
	}
}

// GET /api/events[?sessionId=...]
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := sse.TopicAll
	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		if !util.IsValidUUID(sessionID) {
			httputil.WriteError(w, apperrors.InvalidInput("sessionId", "must be a UUID"))
			return
		}
		topic = sessionID
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(topic)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("topic", topic).
		Str("remote", r.RemoteAddr).
		Msg("sse connection established")

	ctx := r.Context()

	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"topic": topic,
		"stats": h.source.Stats(),
	}); err != nil {
		return
	}

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("topic", topic).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("topic", topic).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("topic", topic).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
