package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/metrics"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/websocket"
)

// DefaultRequestTimeout bounds every Room Manager and Authenticator call.
const DefaultRequestTimeout = 5 * time.Second

// Config configures a Gateway.
type Config struct {
	// RoomManager is required.
	RoomManager RoomManager
	// Authenticator is required.
	Authenticator Authenticator
	// Metrics defaults to metrics.Nop.
	Metrics metrics.Sink
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Clock defaults to SystemClock.
	Clock Clock
	// CheckOrigin is passed to the upgrader. Nil allows every origin.
	CheckOrigin func(r *http.Request) bool
	// ConnectionOptions are applied to every connection.
	ConnectionOptions []websocket.Option
	// Pool limits the number of authenticated connections.
	Pool websocket.PoolConfig
	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Stats is a point-in-time view of the gateway.
type Stats struct {
	Connections int                 `json:"connections"`
	Contexts    int                 `json:"contexts"`
	Rooms       int                 `json:"rooms"`
	Pool        websocket.PoolStats `json:"pool"`
}

// Gateway accepts WebSocket connections, authenticates them and fans out
// Room Manager events to subscribed contexts. Each Gateway is independent;
// nothing is shared between instances.
type Gateway struct {
	rooms          RoomManager
	auth           Authenticator
	metrics        metrics.Sink
	logger         *slog.Logger
	clock          Clock
	requestTimeout time.Duration

	upgrader *websocket.Upgrader
	pool     *websocket.Pool
	registry *Registry
	router   *Router

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	started     bool
	stopping    bool
	unsubscribe func()
}

// New creates a Gateway. Start must be called to receive room events.
func New(cfg Config) (*Gateway, error) {
	if cfg.RoomManager == nil {
		return nil, errors.New("gateway: RoomManager is required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("gateway: Authenticator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		rooms:          cfg.RoomManager,
		auth:           cfg.Authenticator,
		metrics:        metrics.OrNop(cfg.Metrics),
		logger:         cfg.Logger,
		clock:          cfg.Clock,
		requestTimeout: cfg.RequestTimeout,
		upgrader: &websocket.Upgrader{
			CheckOrigin: cfg.CheckOrigin,
			Logger:      cfg.Logger,
			Options:     cfg.ConnectionOptions,
		},
		pool:     websocket.NewPool(cfg.Pool),
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
	g.router = NewRouter(cfg.Logger, g.metrics)
	g.registerHandlers()
	return g, nil
}

// Start subscribes to the Room Manager event stream.
func (g *Gateway) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return ErrAlreadyStarted
	}

	unsubscribe, err := g.rooms.SubscribeEvents(g.handleRoomEvent)
	if err != nil {
		return fmt.Errorf("subscribe to room events: %w", err)
	}
	g.unsubscribe = unsubscribe
	g.started = true
	g.logger.Info("gateway started")
	return nil
}

// Stop unsubscribes from room events, closes every connection and waits for
// their handlers to return or ctx to expire.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.stopping {
		g.mu.Unlock()
		return nil
	}
	g.stopping = true
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()

	defer g.cancel()

	if unsubscribe != nil {
		unsubscribe()
	}
	g.pool.CloseAll()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("gateway stopped")
		return nil
	case <-ctx.Done():
		g.logger.Warn("gateway stop timed out", "connections", g.pool.Count())
		return ctx.Err()
	}
}

// Stats returns current counts.
func (g *Gateway) Stats() Stats {
	contexts, rooms := g.registry.Counts()
	return Stats{
		Connections: g.pool.Count(),
		Contexts:    contexts,
		Rooms:       rooms,
		Pool:        g.pool.Stats(),
	}
}

// RoomStats describes the local subscribers of one room.
type RoomStats struct {
	RoomID     string `json:"roomId"`
	Players    int    `json:"players"`
	Spectators int    `json:"spectators"`
	Pending    int    `json:"pending"`
}

// RoomStats counts the subscriptions this gateway holds for roomID. Pending
// is the number of spectators with a coalesced message waiting.
func (g *Gateway) RoomStats(roomID string) RoomStats {
	st := RoomStats{RoomID: roomID}
	for _, sub := range g.registry.Subscribers(roomID) {
		if !sub.IsSpectator() {
			st.Players++
			continue
		}
		st.Spectators++
		if sub.Pending() {
			st.Pending++
		}
	}
	return st
}

// ServeHTTP upgrades the request, authenticates the token query parameter
// and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.stopping {
		g.mu.Unlock()
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	conn, err := g.upgrader.Upgrade(w, r)
	if err != nil {
		g.countConnection("rejected")
		g.logger.Debug("upgrade rejected", "remote", r.RemoteAddr, "error", err)
		return
	}
	logger := g.logger.With("conn", conn.ID)

	identity, code := g.authenticate(r)
	if code != "" {
		g.countConnection("unauthenticated")
		logger.Info("authentication failed", "code", code, "remote", r.RemoteAddr)
		_ = conn.Send(encodeError(code))
		_ = conn.CloseWithStatus(websocket.ClosePolicyViolation, code)
		conn.Serve()
		return
	}

	if err := g.pool.Add(conn); err != nil {
		g.countConnection("limited")
		logger.Warn("connection limit reached", "remote", r.RemoteAddr)
		_ = conn.CloseWithStatus(websocket.ClosePolicyViolation, "connection limit reached")
		conn.Serve()
		return
	}

	c := NewContext(identity.PlayerID, conn, logger)
	g.registry.Attach(c)
	g.countConnection("accepted")
	logger.Info("client connected", "player", identity.PlayerID, "remote", r.RemoteAddr)

	conn.OnMessage(func(_ *websocket.Connection, text string) {
		ctx, cancel := context.WithTimeout(g.ctx, g.requestTimeout)
		defer cancel()
		g.router.Dispatch(ctx, c, []byte(text))
	})
	conn.OnError(func(_ *websocket.Connection, err error) {
		logger.Debug("connection error", "error", err)
	})
	// Runs before the connection is Closed, so no event is delivered after.
	conn.OnClose(func(conn *websocket.Connection) {
		g.detach(c)
		g.pool.Remove(conn)
		logger.Info("client disconnected", "player", c.PlayerID, "stats", conn.Stats())
	})

	conn.Serve()
}

func (g *Gateway) authenticate(r *http.Request) (Identity, string) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return Identity{}, CodeAuthTokenRequired
	}

	ctx, cancel := context.WithTimeout(g.ctx, g.requestTimeout)
	defer cancel()
	identity, err := g.auth.Authenticate(ctx, token)
	if err != nil || identity.PlayerID == "" {
		g.logger.Debug("token rejected", "error", err)
		return Identity{}, CodeAuthTokenInvalid
	}
	return identity, ""
}

// detach removes every subscription of c and tells the Room Manager about
// the spectator seats it held.
func (g *Gateway) detach(c *Context) {
	subs := g.registry.Detach(c)

	var spectating []string
	for _, sub := range subs {
		if sub.IsSpectator() {
			spectating = append(spectating, sub.RoomID)
		}
	}
	if len(spectating) == 0 {
		return
	}

	// The connection's ServeHTTP call still holds the WaitGroup here.
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for _, roomID := range spectating {
			ctx, cancel := context.WithTimeout(g.ctx, g.requestTimeout)
			if err := g.rooms.LeaveSpectator(ctx, roomID, c.PlayerID); err != nil {
				g.logger.Warn("leave spectator", "room", roomID, "player", c.PlayerID, "error", err)
			}
			cancel()
		}
	}()
}

// handleRoomEvent fans one live event out to the room's subscribers.
func (g *Gateway) handleRoomEvent(n RoomEventNotification) {
	payload, err := encodeEvent(n.RoomID, n.Event)
	if err != nil {
		g.logger.Error("encode room event", "room", n.RoomID, "sequence", n.Event.Sequence, "error", err)
		return
	}

	var leaving string
	if n.Event.Type == EventSpectatorLeft {
		leaving = spectatorLeftPlayer(n.Event.Payload)
	}

	for _, sub := range g.registry.Subscribers(n.RoomID) {
		if leaving != "" && sub.IsSpectator() && sub.PlayerID == leaving {
			// The seat belongs to the player, so every local spectator
			// context of that player leaves. The Room Manager originated
			// the leave; do not notify it back.
			sub.DeliverNow(payload)
			if c, ok := g.registry.Context(sub.ContextID); ok {
				g.registry.Remove(c, sub)
			}
			continue
		}
		sub.DeliverEvent(n.Event.Sequence, payload)
	}
	g.metrics.IncrCounter(metrics.EventsFannedOutCounter, nil)
}

func (g *Gateway) countConnection(result string) {
	g.metrics.IncrCounter(metrics.ConnectionsCounter, map[string]string{"result": result})
}
