package gateway

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/websocket"
)

// ContextID identifies a Context in the registry arena.
type ContextID string

// Conn is the part of a connection a Context needs.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Context is the per-connection state of an authenticated player. It is
// created after authentication and detached when the connection closes.
type Context struct {
	ID       ContextID
	PlayerID string

	conn   Conn
	logger *slog.Logger

	// mu guards rooms and closed, and is held while the registry changes
	// this context's buckets.
	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// NewContext creates a Context for playerID sending through conn.
func NewContext(playerID string, conn Conn, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	id := ContextID(uuid.NewString())
	return &Context{
		ID:       id,
		PlayerID: playerID,
		conn:     conn,
		logger:   logger.With("context", string(id), "player", playerID),
		rooms:    make(map[string]struct{}),
	}
}

// Rooms returns the ids of the rooms the context is subscribed to.
func (c *Context) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

func (c *Context) send(payload []byte) {
	err := c.conn.Send(payload)
	switch {
	case err == nil, errors.Is(err, websocket.ErrConnectionClosed):
	case errors.Is(err, websocket.ErrSendQueueFull):
		c.logger.Warn("dropping slow consumer")
	default:
		c.logger.Debug("send failed", "error", err)
	}
}

type roomBucket struct {
	mu   sync.Mutex
	subs map[ContextID]*Subscription
	dead bool
}

// Registry indexes contexts by id and subscriptions by room. Each room
// bucket has its own lock so busy rooms do not block unrelated ones.
//
// Lock order: Context.mu, then Registry.mu, then roomBucket.mu.
type Registry struct {
	mu       sync.RWMutex
	contexts map[ContextID]*Context
	buckets  map[string]*roomBucket
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		contexts: make(map[ContextID]*Context),
		buckets:  make(map[string]*roomBucket),
	}
}

// Attach adds c to the arena.
func (r *Registry) Attach(c *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[c.ID] = c
}

// Context looks up a context by id.
func (r *Registry) Context(id ContextID) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contexts[id]
	return c, ok
}

// Subscribe installs sub, replacing and cancelling any previous
// subscription of the same context to the same room.
func (r *Registry) Subscribe(c *Context, sub *Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		sub.Cancel()
		return ErrContextClosed
	}

	for {
		b := r.bucket(sub.RoomID, true)
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		old := b.subs[c.ID]
		b.subs[c.ID] = sub
		b.mu.Unlock()

		if old != nil {
			old.Cancel()
		}
		break
	}
	c.rooms[sub.RoomID] = struct{}{}
	return nil
}

// Unsubscribe removes the subscription of c to roomID and returns it.
// Removing an absent subscription is a no-op.
func (r *Registry) Unsubscribe(c *Context, roomID string) (*Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.rooms, roomID)
	return r.remove(c.ID, roomID, nil)
}

// Remove removes sub if it is still the subscription of c to its room. It
// reports whether sub was removed.
func (r *Registry) Remove(c *Context, sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := r.remove(c.ID, sub.RoomID, sub); !ok {
		return false
	}
	delete(c.rooms, sub.RoomID)
	return true
}

// Detach removes c from the arena and from every room. It returns the
// removed subscriptions, all of them cancelled.
func (r *Registry) Detach(c *Context) []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	r.mu.Lock()
	delete(r.contexts, c.ID)
	r.mu.Unlock()

	removed := make([]*Subscription, 0, len(c.rooms))
	for roomID := range c.rooms {
		if sub, ok := r.remove(c.ID, roomID, nil); ok {
			removed = append(removed, sub)
		}
	}
	c.rooms = make(map[string]struct{})
	return removed
}

// Subscription returns the subscription of context id to roomID.
func (r *Registry) Subscription(id ContextID, roomID string) (*Subscription, bool) {
	b := r.bucket(roomID, false)
	if b == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	return sub, ok
}

// Subscribers returns a snapshot of the subscriptions to roomID.
func (r *Registry) Subscribers(roomID string) []*Subscription {
	b := r.bucket(roomID, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	return subs
}

// Counts returns the number of contexts and of rooms with subscribers.
func (r *Registry) Counts() (contexts, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts), len(r.buckets)
}

func (r *Registry) bucket(roomID string, create bool) *roomBucket {
	r.mu.RLock()
	b := r.buckets[roomID]
	r.mu.RUnlock()
	if b != nil || !create {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b = r.buckets[roomID]; b == nil {
		b = &roomBucket{subs: make(map[ContextID]*Subscription)}
		r.buckets[roomID] = b
	}
	return b
}

// remove deletes one subscription, only if it is expect when expect is not
// nil, and drops the bucket once it is empty.
func (r *Registry) remove(id ContextID, roomID string, expect *Subscription) (*Subscription, bool) {
	b := r.bucket(roomID, false)
	if b == nil {
		return nil, false
	}

	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok && expect != nil && sub != expect {
		b.mu.Unlock()
		return nil, false
	}
	delete(b.subs, id)
	empty := len(b.subs) == 0
	b.mu.Unlock()

	if ok {
		sub.Cancel()
	}
	if empty {
		r.mu.Lock()
		b.mu.Lock()
		if len(b.subs) == 0 && r.buckets[roomID] == b {
			b.dead = true
			delete(r.buckets, roomID)
		}
		b.mu.Unlock()
		r.mu.Unlock()
	}
	return sub, ok
}
