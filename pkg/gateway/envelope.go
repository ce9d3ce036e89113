package gateway

import (
	"bytes"
	"encoding/json"
)

// Inbound message types.
const (
	TypeJoinRoom     = "join_room"
	TypeWatchRoom    = "watch_room"
	TypeLeaveRoom    = "leave_room"
	TypeReady        = "ready"
	TypePlayAction   = "play_action"
	TypeRequestState = "request_state"
	TypePing         = "ping"
)

// Outbound message types. Room events are sent with their own type.
const (
	TypeRoomState = "room_state"
	TypeRoomLeft  = "room_left"
	TypePong      = "pong"
	TypeError     = "error"
)

// EventSpectatorLeft is emitted by the Room Manager when a spectator leaves.
const EventSpectatorLeft = "spectator_left"

// Inbound is a client envelope. Fields not used by a type are ignored.
type Inbound struct {
	Type            string          `json:"type"`
	RoomID          string          `json:"roomId,omitempty"`
	InviteCode      string          `json:"inviteCode,omitempty"`
	SinceSeq        *uint64         `json:"sinceSeq,omitempty"`
	Action          json.RawMessage `json:"action,omitempty"`
	Position        json.RawMessage `json:"position,omitempty"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	ClientFrame     json.RawMessage `json:"clientFrame,omitempty"`
	ClientTimestamp json.RawMessage `json:"clientTimestamp,omitempty"`
}

// parseInbound decodes one envelope. Anything but a JSON object with a
// string type is malformed.
func parseInbound(data []byte) (*Inbound, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NewError(CodeMessageMalformed, "envelope must be a JSON object")
	}
	var msg Inbound
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, WrapError(CodeMessageMalformed, err)
	}
	if msg.Type == "" {
		return nil, NewError(CodeMessageMalformed, "missing type")
	}
	return &msg, nil
}

// actionPayload returns the action object, accepting a bare position as
// shorthand for {"position": ...}.
func (m *Inbound) actionPayload() (json.RawMessage, error) {
	if isJSONObject(m.Action) {
		return m.Action, nil
	}
	if len(m.Action) == 0 && len(m.Position) > 0 && !isJSONNull(m.Position) {
		action, err := json.Marshal(map[string]json.RawMessage{"position": m.Position})
		if err != nil {
			return nil, WrapError(CodeActionInvalid, err)
		}
		return action, nil
	}
	return nil, NewError(CodeActionInvalid, "action object required")
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

type roomStateMessage struct {
	Type     string        `json:"type"`
	RoomID   string        `json:"roomId"`
	Sequence uint64        `json:"sequence"`
	State    *RoomSnapshot `json:"state"`
	Role     Role          `json:"role"`
}

type eventMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	Sequence  uint64          `json:"sequence"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type pongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type errorMessage struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type roomLeftMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

func encodeRoomState(snap *RoomSnapshot, role Role) ([]byte, error) {
	return json.Marshal(roomStateMessage{
		Type:     TypeRoomState,
		RoomID:   snap.ID,
		Sequence: snap.Sequence,
		State:    snap,
		Role:     role,
	})
}

func encodeEvent(roomID string, ev RoomEvent) ([]byte, error) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(eventMessage{
		Type:      ev.Type,
		RoomID:    roomID,
		Sequence:  ev.Sequence,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	})
}

// The shapes below hold only strings and integers, so encoding cannot fail.

func encodePong(ts int64) []byte {
	data, _ := json.Marshal(pongMessage{Type: TypePong, Timestamp: ts})
	return data
}

func encodeError(code string) []byte {
	data, _ := json.Marshal(errorMessage{Type: TypeError, Code: code})
	return data
}

func encodeRoomLeft(roomID string) []byte {
	data, _ := json.Marshal(roomLeftMessage{Type: TypeRoomLeft, RoomID: roomID})
	return data
}
