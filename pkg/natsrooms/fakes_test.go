package natsrooms

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/gateway"
)

// memConn is an in-process stand-in for *nats.Conn. Handlers run
// synchronously on the publishing goroutine.
type memConn struct {
	mu       sync.Mutex
	subs     map[string][]nats.MsgHandler
	replies  map[string][]byte
	inbox    int
	requests []string
	deadline bool
}

func newMemConn() *memConn {
	return &memConn{subs: make(map[string][]nats.MsgHandler), replies: make(map[string][]byte)}
}

func subjectMatches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	if len(p) != len(s) {
		return false
	}
	for i := range p {
		if p[i] != "*" && p[i] != s[i] {
			return false
		}
	}
	return true
}

func (c *memConn) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[subj] = append(c.subs[subj], cb)
	return new(nats.Subscription), nil
}

func (c *memConn) handlers(subject string) []nats.MsgHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []nats.MsgHandler
	for pattern, hs := range c.subs {
		if subjectMatches(pattern, subject) {
			out = append(out, hs...)
		}
	}
	return out
}

func (c *memConn) Publish(subj string, data []byte) error {
	c.mu.Lock()
	if strings.HasPrefix(subj, "_INBOX.") {
		c.replies[subj] = append([]byte(nil), data...)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	for _, h := range c.handlers(subj) {
		h(&nats.Msg{Subject: subj, Data: data})
	}
	return nil
}

func (c *memConn) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	_, hasDeadline := ctx.Deadline()
	c.mu.Lock()
	c.inbox++
	inbox := "_INBOX." + strings.Repeat("x", c.inbox)
	c.requests = append(c.requests, subj)
	c.deadline = hasDeadline
	c.mu.Unlock()

	hs := c.handlers(subj)
	if len(hs) == 0 {
		return nil, nats.ErrNoResponders
	}
	hs[0](&nats.Msg{Subject: subj, Reply: inbox, Data: data})

	c.mu.Lock()
	defer c.mu.Unlock()
	reply, ok := c.replies[inbox]
	if !ok {
		return nil, nats.ErrTimeout
	}
	return &nats.Msg{Subject: inbox, Data: reply}, nil
}

// memRooms is a minimal in-memory gateway.RoomManager.
type memRooms struct {
	mu      sync.Mutex
	rooms   map[string]*gateway.RoomSnapshot
	events  map[string][]gateway.RoomEvent
	invites map[string]string
	ready   []gateway.ReadyRequest
	actions []gateway.ActionRequest
	left    []string
}

func newMemRooms() *memRooms {
	return &memRooms{
		rooms:   make(map[string]*gateway.RoomSnapshot),
		events:  make(map[string][]gateway.RoomEvent),
		invites: make(map[string]string),
	}
}

func (m *memRooms) add(id string, seq uint64, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[id] = &gateway.RoomSnapshot{ID: id, Sequence: seq, Members: members, State: json.RawMessage(`{"turn":1}`)}
	for i := uint64(1); i <= seq; i++ {
		m.events[id] = append(m.events[id], gateway.RoomEvent{Sequence: i, Type: "move", Timestamp: int64(i)})
	}
}

func (m *memRooms) room(id string) (*gateway.RoomSnapshot, error) {
	r, ok := m.rooms[id]
	if !ok {
		return nil, gateway.NewError(gateway.CodeRoomNotFound, "no room "+id)
	}
	copied := *r
	return &copied, nil
}

func (m *memRooms) GetRoomSnapshot(_ context.Context, roomID string) (*gateway.RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room(roomID)
}

func (m *memRooms) GetRoom(ctx context.Context, roomID string) (*gateway.RoomSnapshot, error) {
	return m.GetRoomSnapshot(ctx, roomID)
}

func (m *memRooms) GetEventsSince(_ context.Context, roomID string, seq uint64) ([]gateway.RoomEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []gateway.RoomEvent
	for _, ev := range m.events[roomID] {
		if ev.Sequence > seq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memRooms) JoinAsSpectator(_ context.Context, req gateway.SpectatorRequest) (*gateway.SpectatorAdmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.room(req.RoomID)
	if err != nil {
		return nil, err
	}
	return &gateway.SpectatorAdmission{Room: r, DelayMs: 2000}, nil
}

func (m *memRooms) LeaveSpectator(_ context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = append(m.left, roomID+"/"+playerID)
	return nil
}

func (m *memRooms) SetPlayerReady(_ context.Context, req gateway.ReadyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = append(m.ready, req)
	return nil
}

func (m *memRooms) ApplyPlayerAction(_ context.Context, req gateway.ActionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if string(req.Action) == `"cheat"` {
		return gateway.NewError(gateway.CodeActionInvalid, "not allowed")
	}
	m.actions = append(m.actions, req)
	return nil
}

func (m *memRooms) FindRoomByInvite(_ context.Context, code string) (*gateway.RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.invites[code]
	if !ok {
		return nil, nil
	}
	return m.room(id)
}

func (m *memRooms) SubscribeEvents(func(gateway.RoomEventNotification)) (func(), error) {
	return func() {}, nil
}

// servedClient wires a Client to a Responder over a memConn.
func servedClient(t *testing.T, rooms gateway.RoomManager, opts ...Option) (*Client, *memConn) {
	t.Helper()
	conn := newMemConn()
	stop, err := NewResponder(rooms, opts...).Serve(conn)
	require.NoError(t, err)
	t.Cleanup(stop)
	return NewClient(conn, opts...), conn
}
