package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward, firing due timers in time order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// Pending returns the number of timers not yet fired or stopped.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeConn records sent payloads.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Messages decodes every payload sent so far.
func (c *fakeConn) Messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, p := range c.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(p, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// fakeRoomManager is an in-memory RoomManager.
type fakeRoomManager struct {
	mu          sync.Mutex
	rooms       map[string]*RoomSnapshot
	events      map[string][]RoomEvent
	invites     map[string]string
	delays      map[string]uint32
	handlers    map[int]func(RoomEventNotification)
	nextHandler int

	ready   []ReadyRequest
	actions []ActionRequest
	left    []SpectatorRequest
	joined  []SpectatorRequest

	failNext error

	// duringEventsSince runs once inside the next GetEventsSince, before
	// or after the log is read.
	duringEventsSince func()
	hookAfterRead     bool
}

func newFakeRoomManager() *fakeRoomManager {
	return &fakeRoomManager{
		rooms:    make(map[string]*RoomSnapshot),
		events:   make(map[string][]RoomEvent),
		invites:  make(map[string]string),
		delays:   make(map[string]uint32),
		handlers: make(map[int]func(RoomEventNotification)),
	}
}

func (m *fakeRoomManager) AddRoom(id string, seq uint64, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[id] = &RoomSnapshot{ID: id, Sequence: seq, Members: members, State: json.RawMessage(`{"phase":"lobby"}`)}
}

// Emit appends an event to the room log and notifies subscribers.
func (m *fakeRoomManager) Emit(roomID string, ev RoomEvent) {
	m.mu.Lock()
	if room, ok := m.rooms[roomID]; ok && ev.Sequence > room.Sequence {
		room.Sequence = ev.Sequence
	}
	m.events[roomID] = append(m.events[roomID], ev)
	handlers := make([]func(RoomEventNotification), 0, len(m.handlers))
	keys := make([]int, 0, len(m.handlers))
	for k := range m.handlers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		handlers = append(handlers, m.handlers[k])
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(RoomEventNotification{RoomID: roomID, Event: ev})
	}
}

func (m *fakeRoomManager) takeErr() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *fakeRoomManager) GetRoomSnapshot(_ context.Context, roomID string) (*RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return nil, err
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, NewError(CodeRoomNotFound, roomID)
	}
	copied := *room
	return &copied, nil
}

func (m *fakeRoomManager) GetEventsSince(_ context.Context, roomID string, seq uint64) ([]RoomEvent, error) {
	m.mu.Lock()
	hook, after := m.duringEventsSince, m.hookAfterRead
	m.duringEventsSince = nil
	m.mu.Unlock()
	if hook != nil && !after {
		hook()
	}

	m.mu.Lock()
	if err := m.takeErr(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var out []RoomEvent
	for _, ev := range m.events[roomID] {
		if ev.Sequence > seq {
			out = append(out, ev)
		}
	}
	m.mu.Unlock()

	if hook != nil && after {
		hook()
	}
	return out, nil
}

func (m *fakeRoomManager) JoinAsSpectator(_ context.Context, req SpectatorRequest) (*SpectatorAdmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return nil, err
	}
	room, ok := m.rooms[req.RoomID]
	if !ok {
		return nil, NewError(CodeRoomNotFound, req.RoomID)
	}
	room.Spectators = append(room.Spectators, req.PlayerID)
	m.joined = append(m.joined, req)
	copied := *room
	return &SpectatorAdmission{Room: &copied, DelayMs: m.delays[req.RoomID]}, nil
}

func (m *fakeRoomManager) LeaveSpectator(_ context.Context, roomID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = append(m.left, SpectatorRequest{RoomID: roomID, PlayerID: playerID})
	return nil
}

func (m *fakeRoomManager) SetPlayerReady(_ context.Context, req ReadyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return err
	}
	m.ready = append(m.ready, req)
	return nil
}

func (m *fakeRoomManager) ApplyPlayerAction(_ context.Context, req ActionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return err
	}
	m.actions = append(m.actions, req)
	return nil
}

func (m *fakeRoomManager) FindRoomByInvite(_ context.Context, code string) (*RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.invites[code]
	if !ok {
		return nil, nil
	}
	copied := *m.rooms[id]
	return &copied, nil
}

func (m *fakeRoomManager) GetRoom(_ context.Context, roomID string) (*RoomSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, NewError(CodeRoomNotFound, roomID)
	}
	copied := *room
	return &copied, nil
}

func (m *fakeRoomManager) SubscribeEvents(handler func(RoomEventNotification)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextHandler
	m.nextHandler++
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}, nil
}

func (m *fakeRoomManager) Left() []SpectatorRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SpectatorRequest(nil), m.left...)
}

// fakeAuth maps tokens to player ids.
type fakeAuth map[string]string

func (a fakeAuth) Authenticate(_ context.Context, token string) (Identity, error) {
	id, ok := a[token]
	if !ok {
		return Identity{}, errors.New("unknown token")
	}
	return Identity{PlayerID: id}, nil
}

// recordingSink is a metrics.Sink that keeps every sample.
type recordingSink struct {
	mu         sync.Mutex
	histograms map[string][]float64
	counters   map[string]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{histograms: make(map[string][]float64), counters: make(map[string]int)}
}

func (s *recordingSink) RecordHistogram(name string, value float64, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histograms[name] = append(s.histograms[name], value)
}

func (s *recordingSink) IncrCounter(name string, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
}

func (s *recordingSink) Samples(name string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.histograms[name]...)
}
