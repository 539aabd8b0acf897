package hub

import (
	"time"

	"github.com/openclaw/support-relay-go/internal/model"
)

// Conn is the hub's view of one full-duplex transport connection.
//
// Send methods must not block: implementations queue the frame and
// report false when the connection is closed or its queue is full.
type Conn interface {
	ID() string
	RemoteAddr() string
	SendText(data []byte) bool
	SendBinary(data []byte) bool
	Ping() error
	Close() error
	IsOpen() bool
}

// EventSink receives session lifecycle events. Emit is called with the hub
// lock held and must not block.
type EventSink interface {
	Emit(event model.SessionEvent)
}

type connRecord struct {
	conn        Conn
	role        model.Role
	sessionID   string
	alive       bool
	connectedAt time.Time
}

func (r *connRecord) id() string {
	return r.conn.ID()
}
