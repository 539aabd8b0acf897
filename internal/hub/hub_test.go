package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/support-relay-go/internal/model"
	"github.com/openclaw/support-relay-go/internal/util"
)

type fakeConn struct {
	mu       sync.Mutex
	id       string
	open     bool
	texts    [][]byte
	binaries [][]byte
	pings    int
	closes   int

	// closeGate, when set, holds Close until it is closed, like a peer
	// that stopped reading.
	closeGate chan struct{}
	closing   atomic.Int32
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, open: true}
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "127.0.0.1:" + c.id }

func (c *fakeConn) SendText(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.texts = append(c.texts, data)
	return true
}

func (c *fakeConn) SendBinary(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.binaries = append(c.binaries, data)
	return true
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) Close() error {
	c.closing.Add(1)
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closes++
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// messages decodes every text frame received so far.
func (c *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.texts))
	for _, data := range c.texts {
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		out = append(out, m)
	}
	return out
}

// last returns the most recent message of the given type, or nil.
func (c *fakeConn) last(t *testing.T, msgType string) map[string]any {
	t.Helper()
	msgs := c.messages(t)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == msgType {
			return msgs[i]
		}
	}
	return nil
}

func (c *fakeConn) count(t *testing.T, msgType string) int {
	t.Helper()
	n := 0
	for _, m := range c.messages(t) {
		if m["type"] == msgType {
			n++
		}
	}
	return n
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = nil
	c.binaries = nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (s *recordingSink) Emit(event model.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) types() []model.SessionEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SessionEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func sessionIDs(t *testing.T, list map[string]any) []string {
	t.Helper()
	require.NotNil(t, list, "expected a sessions_list message")
	raw, ok := list["sessions"].([]any)
	require.True(t, ok)
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		ids = append(ids, item.(map[string]any)["id"].(string))
	}
	return ids
}

func send(h *Hub, c *fakeConn, format string, args ...any) {
	h.HandleText(c, []byte(fmt.Sprintf(format, args...)))
}

// register attaches a client connection and returns its session id and pin.
func register(t *testing.T, h *Hub, c *fakeConn, hostname string) (string, string) {
	t.Helper()
	h.Attach(c)
	send(h, c, `{"type":"client_register","clientInfo":{"hostname":%q}}`, hostname)
	reg := c.last(t, "registered")
	require.NotNil(t, reg)
	return reg["sessionId"].(string), reg["pin"].(string)
}

func join(h *Hub, c *fakeConn) {
	h.Attach(c)
	send(h, c, `{"type":"operator_join"}`)
}

func assertStatusInvariant(t *testing.T, h *Hub) {
	t.Helper()
	for _, s := range h.Snapshot() {
		assert.Equal(t, s.Status == model.SessionStatusWaiting, !s.OperatorAttached, "session %s", s.ID)
	}
}

func TestHub_RegisterBroadcastsToOperators(t *testing.T) {
	h := New()
	op := newFakeConn("op")
	join(h, op)
	require.Empty(t, sessionIDs(t, op.last(t, "sessions_list")))

	client := newFakeConn("client")
	id, pin := register(t, h, client, "PC1")

	assert.True(t, util.IsValidPin(pin))
	assert.NotEmpty(t, id)

	list := op.last(t, "sessions_list")
	assert.Equal(t, []string{id}, sessionIDs(t, list))
	entry := list["sessions"].([]any)[0].(map[string]any)
	assert.Equal(t, pin, entry["pin"])
	assert.Equal(t, "PC1", entry["clientInfo"].(map[string]any)["hostname"])
	assert.NotEmpty(t, entry["createdAt"])

	// clients never receive the waiting list
	assert.Zero(t, client.count(t, "sessions_list"))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := New()
	client := newFakeConn("client")
	id, _ := register(t, h, client, "PC1")

	op := newFakeConn("op")
	join(h, op)
	send(h, op, `{"type":"operator_join"}`)
	send(h, op, `{"type":"operator_join"}`)

	assert.Equal(t, 3, op.count(t, "sessions_list"))
	for _, m := range op.messages(t) {
		assert.Equal(t, []string{id}, sessionIDs(t, m))
	}
	stats := h.Stats()
	assert.Equal(t, 1, stats.Operators)
	assert.Equal(t, 1, stats.SessionsWaiting)
}

func TestHub_ConnectWithUnknownPin(t *testing.T) {
	sink := &recordingSink{}
	h := New(WithEventSink(sink))
	client := newFakeConn("client")
	id, pin := register(t, h, client, "PC1")
	before := h.Snapshot()

	op := newFakeConn("op")
	h.Attach(op)
	wrong := "000000"
	if pin == wrong {
		wrong = "111111"
	}
	send(h, op, `{"type":"operator_connect","pin":%q}`, wrong)

	result := op.last(t, "connect_result")
	require.NotNil(t, result)
	assert.Equal(t, false, result["success"])
	assert.Equal(t, "INVALID_PIN", result["code"])
	assert.NotEmpty(t, result["error"])

	assert.Equal(t, before, h.Snapshot())
	assert.Zero(t, client.count(t, "operator_connected"))
	snap, ok := h.SessionSnapshot(id)
	require.True(t, ok)
	assert.Equal(t, model.SessionStatusWaiting, snap.Status)
	assert.Contains(t, sink.types(), model.EventPairingFailed)
}

func TestHub_ConnectWithMalformedPin(t *testing.T) {
	h := New()
	client := newFakeConn("client")
	id, pin := register(t, h, client, "PC1")

	for _, bad := range []string{"", pin + "0", " " + pin[1:], "abcdef"} {
		op := newFakeConn("op-" + bad)
		h.Attach(op)
		send(h, op, `{"type":"operator_connect","pin":%q}`, bad)

		result := op.last(t, "connect_result")
		require.NotNil(t, result, "pin %q", bad)
		assert.Equal(t, false, result["success"])
		assert.Equal(t, "INVALID_PIN", result["code"])
	}

	snap, ok := h.SessionSnapshot(id)
	require.True(t, ok)
	assert.Equal(t, model.SessionStatusWaiting, snap.Status)
}

func TestHub_ConnectWithCorrectPin(t *testing.T) {
	h := New()
	client := newFakeConn("client")
	id, pin := register(t, h, client, "PC1")

	watcher := newFakeConn("watcher")
	join(h, watcher)

	op := newFakeConn("op")
	h.Attach(op)
	send(h, op, `{"type":"operator_connect","pin":%q}`, pin)

	result := op.last(t, "connect_result")
	require.NotNil(t, result)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, id, result["sessionId"])
	assert.Equal(t, "PC1", result["clientInfo"].(map[string]any)["hostname"])

	assert.Equal(t, 1, client.count(t, "operator_connected"))

	snap, ok := h.SessionSnapshot(id)
	require.True(t, ok)
	assert.Equal(t, model.SessionStatusConnected, snap.Status)
	assert.True(t, snap.OperatorAttached)

	assert.Empty(t, sessionIDs(t, watcher.last(t, "sessions_list")))
	assert.Empty(t, h.WaitingList())
	assertStatusInvariant(t, h)

	t.Run("pin no longer matches once connected", func(t *testing.T) {
		other := newFakeConn("other")
		h.Attach(other)
		send(h, other, `{"type":"operator_connect","pin":%q}`, pin)
		assert.Equal(t, false, other.last(t, "connect_result")["success"])
	})
}

func TestHub_ForwardsFramesAndInput(t *testing.T) {
	h := New()
	client := newFakeConn("client")
	_, pin := register(t, h, client, "PC1")
	op := newFakeConn("op")
	h.Attach(op)
	send(h, op, `{"type":"operator_connect","pin":%q}`, pin)

	t.Run("binary frame reaches operator unchanged", func(t *testing.T) {
		frame := []byte{0xff, 0xd8, 0xff, 0x00, 0x01, 0x02}
		h.HandleBinary(client, frame)
		require.Len(t, op.binaries, 1)
		assert.Equal(t, frame, op.binaries[0])
	})

	t.Run("screen info reaches operator", func(t *testing.T) {
		send(h, client, `{"type":"screen_info","width":1920,"height":1080}`)
		info := op.last(t, "screen_info")
		require.NotNil(t, info)
		assert.Equal(t, float64(1920), info["width"])
	})

	t.Run("input event reaches client", func(t *testing.T) {
		send(h, op, `{"type":"mouse_click","x":0.5,"y":0.5,"button":0}`)
		ev := client.last(t, "mouse_click")
		require.NotNil(t, ev)
		assert.Equal(t, 0.5, ev["x"])
	})

	t.Run("client cannot send input events", func(t *testing.T) {
		op.reset()
		send(h, client, `{"type":"key_press","key":"a"}`)
		assert.Empty(t, op.messages(t))
	})

	t.Run("operator binary frames are discarded", func(t *testing.T) {
		before := len(client.binaries)
		h.HandleBinary(op, []byte{1, 2, 3})
		assert.Len(t, client.binaries, before)
	})

	t.Run("frame after operator left is dropped silently", func(t *testing.T) {
		h.Disconnect(op)
		client.reset()
		h.HandleBinary(client, []byte{9, 9, 9})
		assert.Empty(t, client.binaries)
		for _, m := range client.messages(t) {
			assert.NotEqual(t, "error", m["type"])
		}
	})
}

func TestHub_UnpairedTrafficIsDiscarded(t *testing.T) {
	h := New()

	t.Run("unassigned connection", func(t *testing.T) {
		c := newFakeConn("fresh")
		h.Attach(c)
		h.HandleBinary(c, []byte{1, 2, 3})
		send(h, c, `{"type":"screen_info","width":10,"height":10}`)
		send(h, c, `{"type":"mouse_move","x":0.1,"y":0.1}`)
		send(h, c, `{"type":"client_settings","settings":{"a":1}}`)
		assert.Empty(t, c.messages(t))
		assert.Equal(t, 1, h.Stats().Unassigned)
	})

	t.Run("waiting client frame has no destination", func(t *testing.T) {
		client := newFakeConn("client")
		register(t, h, client, "PC1")
		client.reset()
		h.HandleBinary(client, []byte{1})
		assert.Empty(t, client.messages(t))
	})

	t.Run("operator without session", func(t *testing.T) {
		op := newFakeConn("op")
		join(h, op)
		op.reset()
		send(h, op, `{"type":"key_press","key":"a"}`)
		assert.Empty(t, op.messages(t))
	})

	t.Run("malformed and unknown messages", func(t *testing.T) {
		c := newFakeConn("noise")
		h.Attach(c)
		before := h.Snapshot()
		h.HandleText(c, []byte(`not json`))
		h.HandleText(c, []byte(`{"type":"self_destruct"}`))
		h.HandleText(c, []byte(`{"type":"client_register","clientInfo":{},"extra":true}`))
		assert.Empty(t, c.messages(t))
		assert.Equal(t, before, h.Snapshot())
		assert.True(t, c.IsOpen())
	})

	t.Run("unknown connection", func(t *testing.T) {
		ghost := newFakeConn("ghost")
		send(h, ghost, `{"type":"client_register","clientInfo":{}}`)
		assert.Empty(t, ghost.messages(t))
	})
}

func TestHub_RoleIsAssignedOnce(t *testing.T) {
	h := New()
	client := newFakeConn("client")
	_, pin := register(t, h, client, "PC1")

	send(h, client, `{"type":"client_register","clientInfo":{"hostname":"again"}}`)
	send(h, client, `{"type":"operator_join"}`)
	send(h, client, `{"type":"operator_connect","pin":%q}`, pin)

	assert.Equal(t, 1, client.count(t, "registered"))
	assert.Zero(t, client.count(t, "sessions_list"))
	assert.Zero(t, client.count(t, "connect_result"))
	assert.Len(t, h.Snapshot(), 1)

	op := newFakeConn("op")
	join(h, op)
	send(h, op, `{"type":"client_register","clientInfo":{}}`)
	assert.Zero(t, op.count(t, "registered"))
	assert.Len(t, h.Snapshot(), 1)
}

func TestHub_ClientDisconnect(t *testing.T) {
	sink := &recordingSink{}
	h := New(WithEventSink(sink))
	client := newFakeConn("client")
	id, pin := register(t, h, client, "PC1")
	op := newFakeConn("op")
	h.Attach(op)
	send(h, op, `{"type":"operator_connect","pin":%q}`, pin)

	watcher := newFakeConn("watcher")
	join(h, watcher)

	h.Disconnect(client)

	assert.Equal(t, 1, op.count(t, "client_disconnected"))
	_, ok := h.SessionSnapshot(id)
	assert.False(t, ok)
	assert.NotContains(t, sessionIDs(t, watcher.last(t, "sessions_list")), id)
	assert.Empty(t, h.Snapshot())

	t.Run("operator session association is cleared", func(t *testing.T) {
		op.reset()
		send(h, op, `{"type":"key_press","key":"a"}`)
		assert.Empty(t, op.messages(t))

		other := newFakeConn("client2")
		_, pin2 := register(t, h, other, "PC2")
		send(h, op, `{"type":"operator_connect","pin":%q}`, pin2)
		assert.Equal(t, true, op.last(t, "connect_result")["success"])
	})

	t.Run("second disconnect is a no-op", func(t *testing.T) {
		h.Disconnect(client)
	})

	assert.Equal(t, []model.SessionEventType{
		model.EventSessionCreated,
		model.EventOperatorAttached,
		model.EventSessionRemoved,
		model.EventSessionCreated,
		model.EventOperatorAttached,
	}, sink.types())
}

func TestHub_ClientExplicitDisconnect(t *testing.T) {
	h := New()
	client := newFakeConn("client")
	id, _ := register(t, h, client, "PC1")

	send(h, client, `{"type":"disconnect"}`)

	_, ok := h.SessionSnapshot(id)
	assert.False(t, ok)
	assert.Equal(t, 1, h.Stats().Clients)

	// the connection stays open but has no session to act on
	send(h, client, `{"type":"client_settings","settings":{"fps":1}}`)
	assert.Empty(t, h.Snapshot())
}

func TestHub_OperatorDisconnect(t *testing.T) {
	h := New()
	client := newFakeConn("client")
	id, pin := register(t, h, client, "PC1")
	op := newFakeConn("op")
	h.Attach(op)
	send(h, op, `{"type":"operator_connect","pin":%q}`, pin)

	watcher := newFakeConn("watcher")
	join(h, watcher)
	require.Empty(t, sessionIDs(t, watcher.last(t, "sessions_list")))

	op.Close()
	h.Disconnect(op)

	assert.Equal(t, 1, client.count(t, "operator_disconnected"))
	snap, ok := h.SessionSnapshot(id)
	require.True(t, ok)
	assert.Equal(t, model.SessionStatusWaiting, snap.Status)
	assert.False(t, snap.OperatorAttached)
	assert.Equal(t, []string{id}, sessionIDs(t, watcher.last(t, "sessions_list")))
	assertStatusInvariant(t, h)

	t.Run("a different operator can attach", func(t *testing.T) {
		next := newFakeConn("op2")
		h.Attach(next)
		send(h, next, `{"type":"operator_connect","pin":%q}`, pin)
		assert.Equal(t, true, next.last(t, "connect_result")["success"])
		assert.Equal(t, 2, client.count(t, "operator_connected"))
	})
}

func TestHub_OperatorExplicitDisconnectKeepsRole(t *testing.T) {
	h := New()
	client := newFakeConn("client")
	id, pin := register(t, h, client, "PC1")
	op := newFakeConn("op")
	h.Attach(op)
	send(h, op, `{"type":"operator_connect","pin":%q}`, pin)

	send(h, op, `{"type":"disconnect"}`)

	assert.Equal(t, 1, client.count(t, "operator_disconnected"))
	assert.Equal(t, []string{id}, sessionIDs(t, op.last(t, "sessions_list")))
	assert.Equal(t, 1, h.Stats().Operators)
}

func TestHub_OperatorSwitchesSession(t *testing.T) {
	h := New()
	c1 := newFakeConn("c1")
	id1, pin1 := register(t, h, c1, "PC1")
	c2 := newFakeConn("c2")
	id2, pin2 := register(t, h, c2, "PC2")

	op := newFakeConn("op")
	h.Attach(op)
	send(h, op, `{"type":"operator_connect","pin":%q}`, pin1)
	send(h, op, `{"type":"operator_connect","pin":%q}`, pin2)

	assert.Equal(t, 1, c1.count(t, "operator_disconnected"))
	s1, _ := h.SessionSnapshot(id1)
	s2, _ := h.SessionSnapshot(id2)
	assert.Equal(t, model.SessionStatusWaiting, s1.Status)
	assert.Equal(t, model.SessionStatusConnected, s2.Status)
	assertStatusInvariant(t, h)

	c1.reset()
	send(h, op, `{"type":"key_press","key":"a"}`)
	assert.Nil(t, c1.last(t, "key_press"))
	assert.NotNil(t, c2.last(t, "key_press"))
}

func TestHub_SettingsUpdate(t *testing.T) {
	sink := &recordingSink{}
	h := New(WithEventSink(sink))
	client := newFakeConn("client")
	id, _ := register(t, h, client, "PC1")
	op := newFakeConn("op")
	join(h, op)

	send(h, client, `{"type":"client_settings","settings":{"hostname":"PC1-renamed","fps":5}}`)

	snap, ok := h.SessionSnapshot(id)
	require.True(t, ok)
	assert.Equal(t, "PC1-renamed", snap.ClientInfo["hostname"])
	assert.Equal(t, float64(5), snap.ClientInfo["fps"])

	list := op.last(t, "sessions_list")
	entry := list["sessions"].([]any)[0].(map[string]any)
	assert.Equal(t, "PC1-renamed", entry["clientInfo"].(map[string]any)["hostname"])
	assert.Contains(t, sink.types(), model.EventSettingsUpdated)
}

func TestHub_Sweep(t *testing.T) {
	h := New()
	silent := newFakeConn("silent")
	_, _ = register(t, h, silent, "PC1")
	responsive := newFakeConn("responsive")
	join(h, responsive)

	probed, terminated := h.Sweep()
	assert.Equal(t, 2, probed)
	assert.Zero(t, terminated)
	assert.Equal(t, 1, silent.pings)
	assert.True(t, silent.IsOpen())

	h.MarkAlive(responsive)

	probed, terminated = h.Sweep()
	assert.Equal(t, 1, probed)
	assert.Equal(t, 1, terminated)
	assert.False(t, silent.IsOpen())
	assert.True(t, responsive.IsOpen())
	assert.Empty(t, h.Snapshot())
	assert.Empty(t, sessionIDs(t, responsive.last(t, "sessions_list")))

	stats := h.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 0, stats.Clients)
}

func TestHub_SweepDoesNotWaitOnStalledClose(t *testing.T) {
	h := New()
	gate := make(chan struct{})
	stalled := []*fakeConn{newFakeConn("stalled-1"), newFakeConn("stalled-2")}
	for _, c := range stalled {
		c.closeGate = gate
		_, _ = register(t, h, c, c.id)
	}
	h.Sweep()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Sweep()
	}()

	require.Eventually(t, func() bool {
		return len(h.Snapshot()) == 0 && h.Stats().Connections == 0
	}, time.Second, 5*time.Millisecond, "sessions must be removed while close is pending")
	require.Eventually(t, func() bool {
		return stalled[0].closing.Load() == 1 && stalled[1].closing.Load() == 1
	}, time.Second, 5*time.Millisecond, "closes must run concurrently")

	close(gate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not return after closes finished")
	}
	assert.False(t, stalled[0].IsOpen())
	assert.False(t, stalled[1].IsOpen())
}

func TestHub_CloseAll(t *testing.T) {
	h := New()
	a := newFakeConn("a")
	b := newFakeConn("b")
	h.Attach(a)
	h.Attach(b)

	h.CloseAll()

	assert.False(t, a.IsOpen())
	assert.False(t, b.IsOpen())
}

func TestHub_ConcurrentTraffic(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client := newFakeConn(fmt.Sprintf("client-%d", i))
			h.Attach(client)
			send(h, client, `{"type":"client_register","clientInfo":{"n":%d}}`, i)
			op := newFakeConn(fmt.Sprintf("op-%d", i))
			join(h, op)
			if reg := client.last(t, "registered"); reg != nil {
				send(h, op, `{"type":"operator_connect","pin":%q}`, reg["pin"])
			}
			h.HandleBinary(client, []byte{byte(i)})
			if i%2 == 0 {
				h.Disconnect(op)
			} else {
				h.Disconnect(client)
			}
		}(i)
	}
	wg.Wait()

	assertStatusInvariant(t, h)
	stats := h.Stats()
	assert.Equal(t, 10, stats.SessionsWaiting)
	assert.Equal(t, 0, stats.SessionsConnected)
}
