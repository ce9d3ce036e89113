package gateway

import (
	"sync"
	"time"
)

// Role is the part a context plays in a room.
type Role string

// Subscription roles.
const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Subscription is one (Context, room) pair. It owns the spectator delay
// state: at most one pending payload and one scheduled timer.
//
// Live events carry their room sequence. Events at or below the last
// sequence the subscription has delivered are dropped, and while a replay
// is in progress live events are held back until it ends.
type Subscription struct {
	RoomID    string
	ContextID ContextID
	PlayerID  string
	Role      Role
	Delay     time.Duration

	clock Clock
	send  func([]byte)

	mu         sync.Mutex
	sent       bool
	lastSentAt time.Time
	pending    []byte
	timer      Timer
	timerGen   uint64
	cancelled  bool

	replaying bool
	backlog   []liveEvent
	lastSeq   uint64
}

type liveEvent struct {
	seq     uint64
	payload []byte
}

func newSubscription(c *Context, roomID string, role Role, delay time.Duration, clock Clock) *Subscription {
	if role != RoleSpectator {
		delay = 0
	}
	return &Subscription{
		RoomID:    roomID,
		ContextID: c.ID,
		PlayerID:  c.PlayerID,
		Role:      role,
		Delay:     delay,
		clock:     clock,
		send:      c.send,
	}
}

// IsSpectator reports whether the subscription is a spectator subscription.
func (s *Subscription) IsSpectator() bool {
	return s.Role == RoleSpectator
}

// Deliver sends payload now, or holds it until the spectator delay allows
// another send. A held payload is replaced by newer ones.
func (s *Subscription) Deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}
	s.deliverLocked(payload)
}

// DeliverEvent delivers the live event with room sequence seq. A zero
// sequence is never treated as a duplicate.
func (s *Subscription) DeliverEvent(seq uint64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}
	if s.replaying {
		s.backlog = append(s.backlog, liveEvent{seq: seq, payload: payload})
		return
	}
	s.deliverEventLocked(seq, payload)
}

// beginReplay holds live events back until endReplay. The client already
// has everything up to and including baseline.
func (s *Subscription) beginReplay(baseline uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaying = true
	s.lastSeq = baseline
}

// replayEvent delivers a logged event ahead of the held live events.
func (s *Subscription) replayEvent(seq uint64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}
	s.deliverEventLocked(seq, payload)
}

// endReplay releases the live events held since beginReplay, skipping the
// ones the replay already covered.
func (s *Subscription) endReplay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.replaying {
		return
	}
	s.replaying = false
	backlog := s.backlog
	s.backlog = nil
	if s.cancelled {
		return
	}
	for _, ev := range backlog {
		s.deliverEventLocked(ev.seq, ev.payload)
	}
}

func (s *Subscription) deliverEventLocked(seq uint64, payload []byte) {
	if seq != 0 {
		if seq <= s.lastSeq {
			return
		}
		s.lastSeq = seq
	}
	s.deliverLocked(payload)
}

func (s *Subscription) deliverLocked(payload []byte) {
	now := s.clock.Now()
	if s.Delay <= 0 {
		s.sendLocked(payload, now)
		return
	}

	elapsed := now.Sub(s.lastSentAt)
	if !s.sent || elapsed >= s.Delay {
		s.sendLocked(payload, now)
		return
	}

	s.pending = payload
	if s.timer == nil {
		wait := s.Delay - elapsed
		if wait < 0 {
			wait = 0
		}
		s.timerGen++
		gen := s.timerGen
		s.timer = s.clock.AfterFunc(wait, func() { s.flush(gen) })
	}
}

// DeliverNow sends payload ignoring the delay. Any held payload is dropped
// since it is older.
func (s *Subscription) DeliverNow(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}
	s.sendLocked(payload, s.clock.Now())
}

// Cancel stops the subscription. Nothing is delivered afterwards.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelled = true
	s.pending = nil
	s.backlog = nil
	s.stopTimerLocked()
}

// Pending reports whether a payload is waiting for the delay to expire.
func (s *Subscription) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Subscription) flush(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A send or cancel since scheduling superseded this timer.
	if s.cancelled || gen != s.timerGen || s.timer == nil {
		return
	}
	s.timer = nil
	if s.pending == nil {
		return
	}
	s.sendLocked(s.pending, s.clock.Now())
}

func (s *Subscription) sendLocked(payload []byte, now time.Time) {
	s.pending = nil
	s.stopTimerLocked()
	s.sent = true
	s.lastSentAt = now
	s.send(payload)
}

func (s *Subscription) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.timerGen++
	}
}
