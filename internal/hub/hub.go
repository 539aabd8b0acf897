// Package hub pairs client agents with operator consoles and relays
// control messages and screen frames between them.
//
// All hub state (the session registry and the per-connection records) sits
// behind a single mutex. Each inbound message is handled to completion
// under that lock; outbound frames are queued on the target connection and
// written by its own goroutine, so the lock is never held across network I/O.
package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/support-relay-go/internal/errors"
	"github.com/openclaw/support-relay-go/internal/model"
	"github.com/openclaw/support-relay-go/internal/protocol"
	"github.com/openclaw/support-relay-go/internal/session"
	"github.com/openclaw/support-relay-go/internal/util"
)

type Hub struct {
	mu       sync.Mutex
	registry *session.Registry
	conns    map[string]*connRecord
	sink     EventSink
	now      func() time.Time
}

type Option func(*Hub)

func WithEventSink(sink EventSink) Option {
	return func(h *Hub) {
		h.sink = sink
	}
}

func WithRegistry(registry *session.Registry) Option {
	return func(h *Hub) {
		h.registry = registry
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

func New(opts ...Option) *Hub {
	h := &Hub{
		conns: make(map[string]*connRecord),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registry == nil {
		h.registry = session.NewRegistry(session.WithClock(h.now))
	}
	return h
}

// Attach starts tracking a freshly accepted connection. Its role is
// unassigned until its first register/join/connect message.
func (h *Hub) Attach(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[conn.ID()]; exists {
		return
	}
	h.conns[conn.ID()] = &connRecord{
		conn:        conn,
		role:        model.RoleUnassigned,
		alive:       true,
		connectedAt: h.now(),
	}

	log.Debug().
		Str("connId", conn.ID()).
		Str("remote", conn.RemoteAddr()).
		Int("connections", len(h.conns)).
		Msg("connection attached")
}

// Disconnect runs the disconnect transition for the connection's role and
// forgets the connection. Calling it more than once is harmless.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.conns[conn.ID()]
	if !ok {
		return
	}
	delete(h.conns, conn.ID())
	h.leaveLocked(rec)

	log.Debug().
		Str("connId", conn.ID()).
		Str("role", string(rec.role)).
		Int("connections", len(h.conns)).
		Msg("connection detached")
}

// MarkAlive records a liveness probe response.
func (h *Hub) MarkAlive(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec, ok := h.conns[conn.ID()]; ok {
		rec.alive = true
	}
}

// HandleText routes one control message. Malformed or unroutable input is
// dropped without a reply.
func (h *Hub) HandleText(conn Conn, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		logDiscard(conn, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.conns[conn.ID()]
	if !ok {
		return
	}

	switch m := msg.(type) {
	case protocol.Register:
		h.handleRegister(rec, m)
	case protocol.Join:
		h.handleJoin(rec)
	case protocol.Connect:
		h.handleConnect(rec, m)
	case protocol.InputEvent:
		h.forwardToClient(rec, m.Raw)
	case protocol.ScreenInfo:
		h.forwardToOperator(rec, m.Raw, false)
	case protocol.SettingsUpdate:
		h.handleSettings(rec, m)
	case protocol.Disconnect:
		h.leaveLocked(rec)
	}
}

// HandleBinary forwards an opaque frame from a paired client to its
// operator. Frames are never inspected.
func (h *Hub) HandleBinary(conn Conn, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.conns[conn.ID()]
	if !ok {
		return
	}
	h.forwardToOperator(rec, data, true)
}

func (h *Hub) handleRegister(rec *connRecord, m protocol.Register) {
	if rec.role != model.RoleUnassigned {
		log.Debug().Str("connId", rec.id()).Str("role", string(rec.role)).Msg("register ignored: role already assigned")
		return
	}

	s := h.registry.Create(rec.id(), m.ClientInfo)
	rec.role = model.RoleClient
	rec.sessionID = s.ID

	h.sendLocked(rec, protocol.NewRegistered(s.ID, s.Pin))

	log.Info().
		Str("sessionId", s.ID).
		Str("pin", util.MaskPin(s.Pin)).
		Str("remote", rec.conn.RemoteAddr()).
		Msg("client registered")

	h.emit(model.EventSessionCreated, s.ID, model.RoleClient, map[string]any{
		"clientInfo": s.ClientInfo.Clone(),
	})
	h.broadcastWaitingLocked()
}

func (h *Hub) handleJoin(rec *connRecord) {
	if !h.becomeOperator(rec) {
		return
	}
	h.sendLocked(rec, protocol.NewSessionsList(h.registry.ListWaiting()))
}

func (h *Hub) handleConnect(rec *connRecord, m protocol.Connect) {
	if !h.becomeOperator(rec) {
		return
	}

	var s *session.Session
	if util.IsValidPin(m.Pin) {
		s = h.registry.FindWaitingByPin(m.Pin)
	}
	if s == nil {
		appErr := apperrors.InvalidPin()
		h.sendLocked(rec, protocol.NewConnectFailure(string(appErr.Code), appErr.Message))

		log.Warn().
			Str("connId", rec.id()).
			Str("pin", util.MaskPin(m.Pin)).
			Str("remote", rec.conn.RemoteAddr()).
			Msg("pairing failed: no waiting session for pin")

		h.emit(model.EventPairingFailed, "", model.RoleOperator, map[string]any{
			"remote": rec.conn.RemoteAddr(),
		})
		return
	}

	// An operator holds at most one session.
	if rec.sessionID != "" {
		h.operatorLeaveLocked(rec)
	}

	if err := h.registry.Attach(s.ID, rec.id()); err != nil {
		// FindWaitingByPin only returns waiting sessions, so this is unreachable
		// while the lock is held.
		log.Error().Err(err).Str("sessionId", s.ID).Msg("attach operator")
		h.sendLocked(rec, protocol.NewConnectFailure(string(apperrors.GetCode(err)), "Session not available"))
		return
	}
	rec.sessionID = s.ID

	h.sendLocked(rec, protocol.NewConnectSuccess(s.ID, s.ClientInfo.Clone()))
	if client, ok := h.conns[s.ClientConnID]; ok {
		h.sendLocked(client, protocol.NewNotice(protocol.TypeOperatorConnected))
	}

	log.Info().
		Str("sessionId", s.ID).
		Str("operatorConnId", rec.id()).
		Str("remote", rec.conn.RemoteAddr()).
		Msg("operator attached")

	h.emit(model.EventOperatorAttached, s.ID, model.RoleOperator, map[string]any{
		"remote": rec.conn.RemoteAddr(),
	})
	h.broadcastWaitingLocked()
}

func (h *Hub) handleSettings(rec *connRecord, m protocol.SettingsUpdate) {
	s := h.clientSession(rec)
	if s == nil {
		return
	}
	h.registry.MergeClientInfo(s.ID, m.Settings)
	h.emit(model.EventSettingsUpdated, s.ID, model.RoleClient, map[string]any{
		"settings": m.Settings,
	})
	if s.Waiting() {
		h.broadcastWaitingLocked()
	}
}

// becomeOperator assigns the operator role. It reports false for
// connections that already registered as clients.
func (h *Hub) becomeOperator(rec *connRecord) bool {
	switch rec.role {
	case model.RoleOperator:
		return true
	case model.RoleUnassigned:
		rec.role = model.RoleOperator
		return true
	default:
		log.Debug().Str("connId", rec.id()).Str("role", string(rec.role)).Msg("operator message ignored: role already assigned")
		return false
	}
}

func (h *Hub) forwardToClient(rec *connRecord, data []byte) {
	if rec.role != model.RoleOperator || rec.sessionID == "" {
		return
	}
	s := h.registry.Find(rec.sessionID)
	if s == nil || s.OperatorConnID != rec.id() {
		return
	}
	if client, ok := h.conns[s.ClientConnID]; ok && client.conn.IsOpen() {
		client.conn.SendText(data)
	}
}

func (h *Hub) forwardToOperator(rec *connRecord, data []byte, binary bool) {
	s := h.clientSession(rec)
	if s == nil || s.OperatorConnID == "" {
		return
	}
	op, ok := h.conns[s.OperatorConnID]
	if !ok || !op.conn.IsOpen() {
		return
	}
	if binary {
		op.conn.SendBinary(data)
	} else {
		op.conn.SendText(data)
	}
}

func (h *Hub) clientSession(rec *connRecord) *session.Session {
	if rec.role != model.RoleClient || rec.sessionID == "" {
		return nil
	}
	return h.registry.Find(rec.sessionID)
}

// leaveLocked runs the disconnect transition for rec's role. The record
// itself stays tracked; Disconnect removes it first when the transport is gone.
func (h *Hub) leaveLocked(rec *connRecord) {
	switch rec.role {
	case model.RoleClient:
		h.clientLeaveLocked(rec)
	case model.RoleOperator:
		h.operatorLeaveLocked(rec)
	}
}

func (h *Hub) clientLeaveLocked(rec *connRecord) {
	if rec.sessionID == "" {
		return
	}
	s := h.registry.Find(rec.sessionID)
	rec.sessionID = ""
	if s == nil {
		return
	}

	if s.OperatorConnID != "" {
		if op, ok := h.conns[s.OperatorConnID]; ok {
			op.sessionID = ""
			h.sendLocked(op, protocol.NewNotice(protocol.TypeClientDisconnected))
		}
	}
	h.registry.Remove(s.ID)

	log.Info().
		Str("sessionId", s.ID).
		Dur("age", h.now().Sub(s.CreatedAt)).
		Msg("client left, session removed")

	h.emit(model.EventSessionRemoved, s.ID, model.RoleClient, nil)
	h.broadcastWaitingLocked()
}

func (h *Hub) operatorLeaveLocked(rec *connRecord) {
	if rec.sessionID == "" {
		return
	}
	s := h.registry.Find(rec.sessionID)
	rec.sessionID = ""
	if s == nil || s.OperatorConnID != rec.id() {
		return
	}

	h.registry.Detach(s.ID)
	if client, ok := h.conns[s.ClientConnID]; ok {
		h.sendLocked(client, protocol.NewNotice(protocol.TypeOperatorDisconnected))
	}

	log.Info().
		Str("sessionId", s.ID).
		Str("operatorConnId", rec.id()).
		Msg("operator detached, session waiting")

	h.emit(model.EventOperatorDetached, s.ID, model.RoleOperator, nil)
	h.broadcastWaitingLocked()
}

// broadcastWaitingLocked pushes the current waiting list to every operator.
// The list is computed once under the lock, so all operators see the same
// consistent view.
func (h *Hub) broadcastWaitingLocked() {
	data, err := protocol.Encode(protocol.NewSessionsList(h.registry.ListWaiting()))
	if err != nil {
		log.Error().Err(err).Msg("encode waiting list")
		return
	}
	for _, rec := range h.conns {
		if rec.role == model.RoleOperator && rec.conn.IsOpen() {
			rec.conn.SendText(data)
		}
	}
}

func (h *Hub) sendLocked(rec *connRecord, msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("connId", rec.id()).Msg("encode outbound message")
		return
	}
	if !rec.conn.IsOpen() {
		return
	}
	if !rec.conn.SendText(data) {
		log.Debug().Str("connId", rec.id()).Msg("outbound message dropped")
	}
}

func (h *Hub) emit(eventType model.SessionEventType, sessionID string, role model.Role, details map[string]any) {
	if h.sink == nil {
		return
	}

	event := model.SessionEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		Role:      role,
		CreatedAt: h.now(),
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			raw := json.RawMessage(data)
			event.Details = &raw
		}
	}
	h.sink.Emit(event)
}

// Sweep runs one liveness cycle: connections that did not answer the
// previous probe are closed and disconnected, the rest are re-armed and
// probed. A connection therefore survives one missed probe and is dropped
// on the second.
func (h *Hub) Sweep() (probed, terminated int) {
	h.mu.Lock()
	var dead, live []Conn
	for _, rec := range h.conns {
		if !rec.alive {
			dead = append(dead, rec.conn)
			continue
		}
		rec.alive = false
		live = append(live, rec.conn)
	}
	h.mu.Unlock()

	// State first: a close frame to a stalled peer can block for the full
	// write deadline and must not hold up session cleanup.
	for _, conn := range dead {
		log.Info().
			Str("connId", conn.ID()).
			Str("remote", conn.RemoteAddr()).
			Msg("liveness probe unanswered, terminating connection")
		h.Disconnect(conn)
	}
	closeConns(dead)

	for _, conn := range live {
		if err := conn.Ping(); err != nil {
			log.Debug().Err(err).Str("connId", conn.ID()).Msg("liveness probe failed")
		}
	}

	return len(live), len(dead)
}

// Snapshot returns every session, waiting or connected.
func (h *Hub) Snapshot() []model.SessionSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Snapshot()
}

func (h *Hub) SessionSnapshot(id string) (model.SessionSnapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.SnapshotOne(id)
}

// WaitingList returns the same filtered view that operators receive.
func (h *Hub) WaitingList() []model.SessionSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.ListWaiting()
}

func (h *Hub) Stats() model.HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := model.HubStats{Connections: len(h.conns)}
	for _, rec := range h.conns {
		switch rec.role {
		case model.RoleClient:
			stats.Clients++
		case model.RoleOperator:
			stats.Operators++
		default:
			stats.Unassigned++
		}
	}
	stats.SessionsWaiting, stats.SessionsConnected = h.registry.Counts()
	return stats
}

// CloseAll closes every tracked connection. Used on shutdown; the transport
// read loops then run the usual disconnect path.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for _, rec := range h.conns {
		conns = append(conns, rec.conn)
	}
	h.mu.Unlock()

	closeConns(conns)
}

// closeConns closes conns concurrently and waits for all of them.
func closeConns(conns []Conn) {
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn Conn) {
			defer wg.Done()
			if err := conn.Close(); err != nil {
				log.Debug().Err(err).Str("connId", conn.ID()).Msg("close connection")
			}
		}(conn)
	}
	wg.Wait()
}

func logDiscard(conn Conn, err error) {
	event := log.Debug().Str("connId", conn.ID())
	if errors.Is(err, protocol.ErrUnknownType) {
		event.Msg("unknown message type discarded")
		return
	}
	event.Err(err).Msg("malformed message discarded")
}
