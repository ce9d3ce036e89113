package natsrooms

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/gateway"
)

// Responder serves a gateway.RoomManager on the request subjects. It lets a
// Room Manager written in Go sit behind the same wire contract the Client
// speaks.
type Responder struct {
	rooms gateway.RoomManager
	options
}

// NewResponder wraps rooms.
func NewResponder(rooms gateway.RoomManager, opts ...Option) *Responder {
	o := buildOptions(opts)
	o.logger = o.logger.With("component", "natsrooms.responder")
	return &Responder{rooms: rooms, options: o}
}

// Serve subscribes to every operation subject. The returned function removes
// the subscriptions.
func (r *Responder) Serve(conn Conn) (func(), error) {
	var subs []*nats.Subscription
	stop := func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}
	for _, op := range Operations {
		op := op
		sub, err := conn.Subscribe(r.subjects.Room(op), func(msg *nats.Msg) {
			r.reply(conn, msg, r.Handle(context.Background(), op, msg.Data))
		})
		if err != nil {
			stop()
			return nil, fmt.Errorf("natsrooms: serve %s: %w", op, err)
		}
		subs = append(subs, sub)
	}
	return stop, nil
}

// ServeAuth answers "<prefix>.auth.verify" with verify.
func (r *Responder) ServeAuth(conn Conn, verify TokenVerifier) (func(), error) {
	sub, err := conn.Subscribe(r.subjects.AuthVerify(), func(msg *nats.Msg) {
		var req verifyRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			r.reply(conn, msg, encodeReply(nil, gateway.WrapError(gateway.CodeMessageMalformed, err)))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		id, err := verify(ctx, req.Token)
		if err != nil {
			r.reply(conn, msg, encodeReply(nil, gateway.WrapError(gateway.CodeAuthTokenInvalid, err)))
			return
		}
		r.reply(conn, msg, encodeReply(id, nil))
	})
	if err != nil {
		return nil, fmt.Errorf("natsrooms: serve auth: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (r *Responder) reply(conn Conn, msg *nats.Msg, body []byte) {
	if msg.Reply == "" {
		return
	}
	if err := conn.Publish(msg.Reply, body); err != nil {
		r.logger.Warn("reply failed", "subject", msg.Subject, "error", err)
	}
}

// Handle executes one operation and returns the encoded reply envelope.
func (r *Responder) Handle(ctx context.Context, op string, data []byte) []byte {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.dispatch(ctx, op, data)
	if err != nil {
		r.logger.Debug("operation failed", "op", op, "code", gateway.CodeOf(err), "error", err)
	}
	return encodeReply(result, err)
}

func (r *Responder) dispatch(ctx context.Context, op string, data []byte) (any, error) {
	switch op {
	case OpSnapshot, OpGet:
		var req roomRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if op == OpGet {
			return r.rooms.GetRoom(ctx, req.RoomID)
		}
		return r.rooms.GetRoomSnapshot(ctx, req.RoomID)
	case OpEventsSince:
		var req eventsSinceRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		events, err := r.rooms.GetEventsSince(ctx, req.RoomID, req.SinceSeq)
		if err == nil && events == nil {
			events = []gateway.RoomEvent{}
		}
		return events, err
	case OpJoinSpectator:
		var req gateway.SpectatorRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return r.rooms.JoinAsSpectator(ctx, req)
	case OpLeaveSpectator:
		var req leaveRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, r.rooms.LeaveSpectator(ctx, req.RoomID, req.PlayerID)
	case OpReady:
		var req gateway.ReadyRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, r.rooms.SetPlayerReady(ctx, req)
	case OpAction:
		var req gateway.ActionRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return nil, r.rooms.ApplyPlayerAction(ctx, req)
	case OpFindByInvite:
		var req inviteRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return r.rooms.FindRoomByInvite(ctx, req.InviteCode)
	default:
		return nil, gateway.NewError(gateway.CodeMessageUnsupported, op)
	}
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return gateway.WrapError(gateway.CodeMessageMalformed, err)
	}
	return nil
}
