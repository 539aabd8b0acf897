package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/support-relay-go/internal/config"
)

var ErrClosed = errors.New("connection closed")

type frame struct {
	messageType int
	data        []byte
}

// Conn adapts a gorilla connection to the hub. All writes go through
// writePump; Send* and Ping only queue work for it.
type Conn struct {
	id     string
	remote string
	ws     *websocket.Conn
	send   chan frame
	ping   chan struct{}
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	// queued is the byte size of frames waiting in send; maxQueued caps it
	// (0 means no byte cap).
	queued    int64
	maxQueued int64
}

func newConn(wsConn *websocket.Conn, remote string) *Conn {
	return &Conn{
		id:     uuid.New().String(),
		remote: remote,
		ws:     wsConn,
		send:      make(chan frame, config.WSSendBufferSize),
		ping:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		maxQueued: config.WSSendQueueBytes,
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}

func (c *Conn) SendText(data []byte) bool {
	return c.enqueue(frame{messageType: websocket.TextMessage, data: data})
}

func (c *Conn) SendBinary(data []byte) bool {
	return c.enqueue(frame{messageType: websocket.BinaryMessage, data: data})
}

func (c *Conn) enqueue(f frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	size := int64(len(f.data))
	if c.maxQueued > 0 && c.queued > 0 && c.queued+size > c.maxQueued {
		return false
	}
	select {
	case c.send <- f:
		c.queued += size
		return true
	default:
		return false
	}
}

func (c *Conn) dequeued(f frame) {
	c.mu.Lock()
	c.queued -= int64(len(f.data))
	c.mu.Unlock()
}

// Ping asks the write pump to send a ping frame. A ping already pending
// is not duplicated.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.ping <- struct{}{}:
	default:
	}
	return nil
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close stops the write pump and closes the socket, which in turn ends the
// read loop. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(config.WSWriteWait),
	)
	return c.ws.Close()
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return

		case f := <-c.send:
			c.dequeued(f)
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.ws.WriteMessage(f.messageType, f.data); err != nil {
				log.Debug().Err(err).Str("connId", c.id).Msg("websocket write failed")
				_ = c.Close()
				return
			}

		case <-c.ping:
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connId", c.id).Msg("websocket ping failed")
				_ = c.Close()
				return
			}
		}
	}
}
