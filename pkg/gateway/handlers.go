package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/metrics"
)

func (g *Gateway) registerHandlers() {
	g.router.Handle(TypeJoinRoom, g.handleJoinRoom)
	g.router.Handle(TypeWatchRoom, g.handleWatchRoom)
	g.router.Handle(TypeLeaveRoom, g.handleLeaveRoom)
	g.router.Handle(TypeReady, g.handleReady)
	g.router.Handle(TypePlayAction, g.handlePlayAction)
	g.router.Handle(TypeRequestState, g.handleRequestState)
	g.router.Handle(TypePing, g.handlePing)
}

func (g *Gateway) handleJoinRoom(ctx context.Context, c *Context, msg *Inbound) error {
	if msg.RoomID == "" {
		return NewError(CodeRoomIDRequired, "roomId required")
	}

	snap, err := g.rooms.GetRoomSnapshot(ctx, msg.RoomID)
	if err != nil {
		return err
	}
	if snap == nil {
		return NewError(CodeRoomNotFound, msg.RoomID)
	}
	if !snap.HasMember(c.PlayerID) {
		return NewError(CodeRoomNotMember, msg.RoomID)
	}

	return g.subscribe(ctx, c, msg.RoomID, snap, RolePlayer, 0, msg.SinceSeq)
}

func (g *Gateway) handleWatchRoom(ctx context.Context, c *Context, msg *Inbound) error {
	if msg.RoomID == "" && msg.InviteCode == "" {
		return NewError(CodeRoomIDRequired, "roomId or inviteCode required")
	}

	room, err := g.resolveRoom(ctx, msg)
	if err != nil {
		return err
	}
	roomID := room.ID
	if roomID == "" {
		roomID = msg.RoomID
	}

	admission, err := g.rooms.JoinAsSpectator(ctx, SpectatorRequest{
		RoomID:     roomID,
		PlayerID:   c.PlayerID,
		InviteCode: msg.InviteCode,
	})
	if err != nil {
		return err
	}

	snap := room
	var delay time.Duration
	if admission != nil {
		if admission.Room != nil {
			snap = admission.Room
		}
		delay = time.Duration(admission.DelayMs) * time.Millisecond
	}

	return g.subscribe(ctx, c, roomID, snap, RoleSpectator, delay, msg.SinceSeq)
}

// resolveRoom looks the room up by id first and falls back to the invite code.
func (g *Gateway) resolveRoom(ctx context.Context, msg *Inbound) (*RoomSnapshot, error) {
	if msg.RoomID != "" {
		room, err := g.rooms.GetRoom(ctx, msg.RoomID)
		switch {
		case err == nil && room != nil:
			return room, nil
		case err != nil && (msg.InviteCode == "" || CodeOf(err) != CodeRoomNotFound):
			return nil, err
		case msg.InviteCode == "":
			return nil, NewError(CodeRoomNotFound, msg.RoomID)
		}
	}

	room, err := g.rooms.FindRoomByInvite(ctx, msg.InviteCode)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, NewError(CodeRoomInviteInvalid, "unknown invite code")
	}
	return room, nil
}

// subscribe installs the subscription, sends room_state and replays the
// events after sinceSeq when the client is behind. Live events that arrive
// meanwhile are held by the subscription and released after the replay, so
// the client sees room_state, then the log, then live events, each sequence
// at most once.
func (g *Gateway) subscribe(ctx context.Context, c *Context, roomID string, snap *RoomSnapshot, role Role, delay time.Duration, sinceSeq *uint64) error {
	if snap.ID == "" {
		copied := *snap
		copied.ID = roomID
		snap = &copied
	}
	state, err := encodeRoomState(snap, role)
	if err != nil {
		return err
	}

	replay := sinceSeq != nil && *sinceSeq < snap.Sequence
	baseline := snap.Sequence
	if replay {
		baseline = *sinceSeq
	}

	sub := newSubscription(c, roomID, role, delay, g.clock)
	sub.beginReplay(baseline)
	defer sub.endReplay()

	if err := g.registry.Subscribe(c, sub); err != nil {
		return err
	}
	c.send(state)
	c.logger.Debug("subscribed", "room", roomID, "role", string(role), "delay", delay)

	if !replay {
		return nil
	}
	missed, err := g.missedEvents(ctx, roomID, baseline)
	if err != nil {
		return err
	}
	for i, p := range missed.encoded {
		sub.replayEvent(missed.events[i].Sequence, p)
	}
	return nil
}

func (g *Gateway) handleLeaveRoom(ctx context.Context, c *Context, msg *Inbound) error {
	if msg.RoomID == "" {
		return NewError(CodeRoomIDRequired, "roomId required")
	}

	sub, ok := g.registry.Unsubscribe(c, msg.RoomID)
	if ok && sub.IsSpectator() {
		if err := g.rooms.LeaveSpectator(ctx, msg.RoomID, c.PlayerID); err != nil {
			c.logger.Warn("leave spectator", "room", msg.RoomID, "error", err)
		}
	}
	c.send(encodeRoomLeft(msg.RoomID))
	return nil
}

// playerSubscription returns the subscription of c to roomID, which must
// not be a spectator subscription.
func (g *Gateway) playerSubscription(c *Context, roomID string) (*Subscription, error) {
	if roomID == "" {
		return nil, NewError(CodeRoomIDRequired, "roomId required")
	}
	sub, ok := g.registry.Subscription(c.ID, roomID)
	if !ok {
		return nil, NewError(CodeRoomNotMember, roomID)
	}
	if sub.IsSpectator() {
		return nil, NewError(CodeRoomSpectatorForbidden, roomID)
	}
	return sub, nil
}

func (g *Gateway) handleReady(ctx context.Context, c *Context, msg *Inbound) error {
	if _, err := g.playerSubscription(c, msg.RoomID); err != nil {
		return err
	}
	return g.rooms.SetPlayerReady(ctx, ReadyRequest{RoomID: msg.RoomID, PlayerID: c.PlayerID})
}

func (g *Gateway) handlePlayAction(ctx context.Context, c *Context, msg *Inbound) error {
	if _, err := g.playerSubscription(c, msg.RoomID); err != nil {
		return err
	}
	action, err := msg.actionPayload()
	if err != nil {
		return err
	}

	req := ActionRequest{
		RoomID:         msg.RoomID,
		PlayerID:       c.PlayerID,
		Action:         action,
		IdempotencyKey: msg.IdempotencyKey,
	}
	if len(msg.ClientFrame) > 0 && !isJSONNull(msg.ClientFrame) {
		req.ClientFrame = msg.ClientFrame
	}
	return g.rooms.ApplyPlayerAction(ctx, req)
}

func (g *Gateway) handleRequestState(ctx context.Context, c *Context, msg *Inbound) error {
	if msg.RoomID == "" {
		return NewError(CodeRoomIDRequired, "roomId required")
	}
	var since uint64
	if msg.SinceSeq != nil {
		since = *msg.SinceSeq
	}

	missed, err := g.missedEvents(ctx, msg.RoomID, since)
	if err != nil {
		return err
	}

	role := "none"
	sub, subscribed := g.registry.Subscription(c.ID, msg.RoomID)
	if subscribed {
		role = string(sub.Role)
	}
	for _, p := range missed.encoded {
		if subscribed {
			sub.Deliver(p)
		} else {
			c.send(p)
		}
	}

	if n := len(missed.events); n > 0 {
		span := missed.events[n-1].Timestamp - missed.events[0].Timestamp
		if span < 0 {
			span = 0
		}
		g.metrics.RecordHistogram(metrics.RecoveryLatencyHistogram, float64(span), map[string]string{"role": role})
	}
	return nil
}

func (g *Gateway) handlePing(_ context.Context, c *Context, msg *Inbound) error {
	now := g.clock.Now().UnixMilli()

	var sample float64
	var clientTS float64
	if len(msg.ClientTimestamp) > 0 && json.Unmarshal(msg.ClientTimestamp, &clientTS) == nil && clientTS > 0 {
		sample = float64(now) - clientTS
		if sample < 0 {
			sample = 0
		}
	}
	g.metrics.RecordHistogram(metrics.LatencyHistogram, sample, nil)

	c.send(encodePong(now))
	return nil
}

type replayBatch struct {
	events  []RoomEvent
	encoded [][]byte
}

// missedEvents fetches the events after since in ascending order, without
// duplicates, and encodes them.
func (g *Gateway) missedEvents(ctx context.Context, roomID string, since uint64) (replayBatch, error) {
	events, err := g.rooms.GetEventsSince(ctx, roomID, since)
	if err != nil {
		return replayBatch{}, err
	}

	events = append([]RoomEvent(nil), events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	out := replayBatch{events: make([]RoomEvent, 0, len(events))}
	for _, ev := range events {
		if ev.Sequence <= since {
			continue
		}
		if n := len(out.events); n > 0 && out.events[n-1].Sequence == ev.Sequence {
			continue
		}
		payload, err := encodeEvent(roomID, ev)
		if err != nil {
			return replayBatch{}, err
		}
		out.events = append(out.events, ev)
		out.encoded = append(out.encoded, payload)
	}
	return out, nil
}

// spectatorLeftPlayer extracts the player id from a spectator_left payload.
func spectatorLeftPlayer(payload json.RawMessage) string {
	var body struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.PlayerID
}
