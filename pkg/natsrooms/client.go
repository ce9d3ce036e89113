package natsrooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/gateway"
)

// DefaultRequestTimeout applies when the caller's context has no deadline.
const DefaultRequestTimeout = 3 * time.Second

// ErrUnavailable is returned when no Room Manager answers a request.
var ErrUnavailable = errors.New("natsrooms: room manager unavailable")

// Conn is the subset of *nats.Conn used by this package.
type Conn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
}

// Option configures a Client, Responder or Authenticator.
type Option func(*options)

type options struct {
	subjects Subjects
	timeout  time.Duration
	logger   *slog.Logger
}

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.subjects.Prefix = prefix
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{timeout: DefaultRequestTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Client implements gateway.RoomManager over NATS request/reply.
type Client struct {
	conn Conn
	options
}

var _ gateway.RoomManager = (*Client)(nil)

// NewClient creates a Room Manager client on an established connection.
func NewClient(conn Conn, opts ...Option) *Client {
	o := buildOptions(opts)
	o.logger = o.logger.With("component", "natsrooms")
	return &Client{conn: conn, options: o}
}

// request sends body to the operation subject and decodes the reply into out.
func (c *Client) request(ctx context.Context, op string, body, out any) error {
	return c.call(ctx, c.subjects.Room(op), body, out)
}

func (c *Client) call(ctx context.Context, subject string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("natsrooms: encode %s: %w", subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			err = ErrUnavailable
		}
		c.logger.Warn("request failed",
			"subject", subject,
			"duration", time.Since(start),
			"error", err)
		return fmt.Errorf("natsrooms: %s: %w", subject, err)
	}
	return decodeReply(msg.Data, out)
}

// GetRoomSnapshot implements gateway.RoomManager.
func (c *Client) GetRoomSnapshot(ctx context.Context, roomID string) (*gateway.RoomSnapshot, error) {
	var snap *gateway.RoomSnapshot
	if err := c.request(ctx, OpSnapshot, roomRequest{RoomID: roomID}, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// GetEventsSince implements gateway.RoomManager.
func (c *Client) GetEventsSince(ctx context.Context, roomID string, seq uint64) ([]gateway.RoomEvent, error) {
	var events []gateway.RoomEvent
	if err := c.request(ctx, OpEventsSince, eventsSinceRequest{RoomID: roomID, SinceSeq: seq}, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// JoinAsSpectator implements gateway.RoomManager.
func (c *Client) JoinAsSpectator(ctx context.Context, req gateway.SpectatorRequest) (*gateway.SpectatorAdmission, error) {
	var adm *gateway.SpectatorAdmission
	if err := c.request(ctx, OpJoinSpectator, req, &adm); err != nil {
		return nil, err
	}
	if adm == nil || adm.Room == nil {
		return nil, gateway.NewError(gateway.CodeServerError, "empty spectator admission")
	}
	return adm, nil
}

// LeaveSpectator implements gateway.RoomManager.
func (c *Client) LeaveSpectator(ctx context.Context, roomID, playerID string) error {
	return c.request(ctx, OpLeaveSpectator, leaveRequest{RoomID: roomID, PlayerID: playerID}, nil)
}

// SetPlayerReady implements gateway.RoomManager.
func (c *Client) SetPlayerReady(ctx context.Context, req gateway.ReadyRequest) error {
	return c.request(ctx, OpReady, req, nil)
}

// ApplyPlayerAction implements gateway.RoomManager.
func (c *Client) ApplyPlayerAction(ctx context.Context, req gateway.ActionRequest) error {
	return c.request(ctx, OpAction, req, nil)
}

// FindRoomByInvite implements gateway.RoomManager. An unknown code yields a
// nil snapshot and no error.
func (c *Client) FindRoomByInvite(ctx context.Context, code string) (*gateway.RoomSnapshot, error) {
	var snap *gateway.RoomSnapshot
	if err := c.request(ctx, OpFindByInvite, inviteRequest{InviteCode: code}, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// GetRoom implements gateway.RoomManager.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*gateway.RoomSnapshot, error) {
	var snap *gateway.RoomSnapshot
	if err := c.request(ctx, OpGet, roomRequest{RoomID: roomID}, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// SubscribeEvents implements gateway.RoomManager. A single NATS subscription
// carries every room, so events reach handler in arrival order.
func (c *Client) SubscribeEvents(handler func(gateway.RoomEventNotification)) (func(), error) {
	subject := c.subjects.AllEvents()
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		roomID, ok := c.subjects.RoomFromEventSubject(msg.Subject)
		if !ok {
			c.logger.Warn("event on unexpected subject", "subject", msg.Subject)
			return
		}
		var ev gateway.RoomEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.logger.Warn("dropping malformed room event",
				"room_id", roomID,
				"error", err)
			return
		}
		handler(gateway.RoomEventNotification{RoomID: roomID, Event: ev})
	})
	if err != nil {
		return nil, fmt.Errorf("natsrooms: subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed to room events", "subject", subject)

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("unsubscribe room events", "error", err)
		}
	}, nil
}

// PublishEvent publishes a live room event.
func PublishEvent(conn Conn, prefix, roomID string, ev gateway.RoomEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("natsrooms: encode event: %w", err)
	}
	return conn.Publish(Subjects{Prefix: prefix}.Events(roomID), data)
}
