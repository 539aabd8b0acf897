// Package ws is the WebSocket transport of the relay. Each accepted socket
// becomes a hub connection with its own read loop and write pump.
package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/support-relay-go/internal/config"
	"github.com/openclaw/support-relay-go/internal/hub"
)

// Relay is the part of the hub the transport drives.
type Relay interface {
	Attach(conn hub.Conn)
	HandleText(conn hub.Conn, data []byte)
	HandleBinary(conn hub.Conn, data []byte)
	MarkAlive(conn hub.Conn)
	Disconnect(conn hub.Conn)
}

type Options struct {
	// AllowedOrigins restricts browser origins; empty allows any origin.
	AllowedOrigins  []string
	MaxMessageBytes int64
}

type Handler struct {
	relay           Relay
	upgrader        websocket.Upgrader
	maxMessageBytes int64
}

func NewHandler(relay Relay, opts Options) *Handler {
	h := &Handler{
		relay:           relay,
		maxMessageBytes: opts.MaxMessageBytes,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.WSReadBufferSize,
		WriteBufferSize: config.WSWriteBufferSize,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(wsConn, r.RemoteAddr)
	if h.maxMessageBytes > 0 {
		wsConn.SetReadLimit(h.maxMessageBytes)
	}
	wsConn.SetPongHandler(func(string) error {
		h.relay.MarkAlive(conn)
		return nil
	})

	h.relay.Attach(conn)
	go conn.writePump()
	h.readLoop(conn)
}

func (h *Handler) readLoop(conn *Conn) {
	defer func() {
		h.relay.Disconnect(conn)
		_ = conn.Close()
	}()

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("connId", conn.ID()).Msg("websocket read error")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			h.relay.HandleText(conn, data)
		case websocket.BinaryMessage:
			h.relay.HandleBinary(conn, data)
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Native agents do not send an Origin header.
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		if !ok {
			log.Warn().Str("origin", origin).Msg("websocket origin rejected")
		}
		return ok
	}
}
