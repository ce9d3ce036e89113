package gateway

import (
	"context"
	"encoding/json"
)

// RoomEvent is one entry of a room's event log. Sequence numbers are assigned
// by the Room Manager and increase monotonically per room.
type RoomEvent struct {
	Sequence  uint64          `json:"sequence"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// RoomEventNotification is a live event emitted by the Room Manager.
type RoomEventNotification struct {
	RoomID string    `json:"roomId"`
	Event  RoomEvent `json:"event"`
}

// RoomSnapshot is a read-only view of a room.
type RoomSnapshot struct {
	ID         string          `json:"id"`
	Sequence   uint64          `json:"sequence"`
	Members    []string        `json:"members"`
	Spectators []string        `json:"spectators"`
	State      json.RawMessage `json:"state,omitempty"`
}

// HasMember reports whether playerID is listed as a member.
func (s *RoomSnapshot) HasMember(playerID string) bool {
	for _, m := range s.Members {
		if m == playerID {
			return true
		}
	}
	return false
}

// SpectatorRequest asks the Room Manager to admit a spectator.
type SpectatorRequest struct {
	RoomID     string `json:"roomId"`
	PlayerID   string `json:"playerId"`
	InviteCode string `json:"inviteCode,omitempty"`
}

// SpectatorAdmission is the Room Manager's answer to a SpectatorRequest.
// DelayMs is the server-chosen spectator delay.
type SpectatorAdmission struct {
	Room    *RoomSnapshot `json:"room"`
	DelayMs uint32        `json:"delayMs"`
}

// ReadyRequest signals that a player is ready.
type ReadyRequest struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

// ActionRequest forwards a player action. The Room Manager orders and
// deduplicates actions using IdempotencyKey.
type ActionRequest struct {
	RoomID         string          `json:"roomId"`
	PlayerID       string          `json:"playerId"`
	Action         json.RawMessage `json:"action"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	ClientFrame    json.RawMessage `json:"clientFrame,omitempty"`
}

// RoomManager owns authoritative room state and the sequenced event log.
// Domain failures are returned as *AppError so their codes reach clients
// verbatim.
type RoomManager interface {
	GetRoomSnapshot(ctx context.Context, roomID string) (*RoomSnapshot, error)
	GetEventsSince(ctx context.Context, roomID string, seq uint64) ([]RoomEvent, error)
	JoinAsSpectator(ctx context.Context, req SpectatorRequest) (*SpectatorAdmission, error)
	LeaveSpectator(ctx context.Context, roomID, playerID string) error
	SetPlayerReady(ctx context.Context, req ReadyRequest) error
	ApplyPlayerAction(ctx context.Context, req ActionRequest) error
	FindRoomByInvite(ctx context.Context, code string) (*RoomSnapshot, error)
	GetRoom(ctx context.Context, roomID string) (*RoomSnapshot, error)

	// SubscribeEvents registers handler for live events. Events of one room
	// must be delivered in emission order.
	SubscribeEvents(handler func(RoomEventNotification)) (unsubscribe func(), err error)
}

// Identity is an authenticated player.
type Identity struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name,omitempty"`
}

// Authenticator verifies bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}
