package websocket

/*
   WebSocket Frame Format (RFC 6455):

   0                   1                   2                   3
   0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
  +-+-+-+-+-------+-+-------------+-------------------------------+
  |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
  |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
  |N|V|V|V|       |S|             |   (if payload len==126/127)   |
  | |1|2|3|       |K|             |                               |
  +-+-+-+-+-------+-+-------------+-------------------------------+
  |     Extended payload length continued, if payload len == 127  |
  +---------------------------------------------------------------+
  |                               | Masking-key, if MASK set to 1 |
  +-------------------------------+-------------------------------+
  | Masking-key (continued)       |          Payload Data         |
  +-------------------------------+-------------------------------+
  |                     Payload Data continued ...                |
  +---------------------------------------------------------------+
*/

import (
	"encoding/binary"
	"errors"
)

// Opcode represents WebSocket frame opcodes per RFC 6455.
type Opcode uint8

// Frame opcodes as defined in RFC 6455 Section 5.2.
const (
	// OpcodeContinuation indicates a continuation frame.
	OpcodeContinuation Opcode = 0x0
	// OpcodeText indicates a text frame.
	OpcodeText Opcode = 0x1
	// OpcodeBinary indicates a binary frame.
	OpcodeBinary Opcode = 0x2
	// OpcodeClose indicates a close frame.
	OpcodeClose Opcode = 0x8
	// OpcodePing indicates a ping frame.
	OpcodePing Opcode = 0x9
	// OpcodePong indicates a pong frame.
	OpcodePong Opcode = 0xA
)

// IsControl checks if the opcode is a control frame opcode.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// String returns the string representation of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "CONTINUATION"
	case OpcodeText:
		return "TEXT"
	case OpcodeBinary:
		return "BINARY"
	case OpcodeClose:
		return "CLOSE"
	case OpcodePing:
		return "PING"
	case OpcodePong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// Frame represents a single WebSocket frame as defined in RFC 6455 Section 5.2.
// Frames decoded from a client are already unmasked; Mask keeps the key that
// was on the wire.
type Frame struct {
	// Fin indicates whether this is the final fragment of a message.
	Fin bool
	// Opcode identifies the type of frame.
	Opcode Opcode
	// Masked indicates whether the payload was masked on the wire.
	Masked bool
	// Mask is the masking key (4 bytes).
	Mask [4]byte
	// Payload contains the frame's payload data.
	Payload []byte
}

// Frame errors.
var (
	// ErrInvalidFrame is returned when a frame header is malformed.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrFrameTooLarge is returned when a frame declares a payload above the limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrConnectionClosed is returned when the connection is closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when a peer does not drain its send queue.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrConnectionLimit is returned when the connection limit is reached.
	ErrConnectionLimit = errors.New("connection limit reached")
)

// Frame size limits.
const (
	// MaxControlPayloadSize is the maximum payload size for control frames (125 bytes).
	MaxControlPayloadSize = 125
	// DefaultMaxPayloadSize bounds inbound data frames. Game envelopes are
	// small, 1MB is generous.
	DefaultMaxPayloadSize = 1 << 20
)

// Close status codes used by the gateway (RFC 6455 Section 7.4.1).
const (
	CloseNormal          uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseMessageTooBig   uint16 = 1009
	ClosePolicyViolation uint16 = 1008
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Err    error
	Opcode Opcode
}

func (e *FrameError) Error() string {
	return e.Err.Error() + " (" + e.Opcode.String() + ")"
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// ClosePayload builds the body of a close frame.
func ClosePayload(code uint16, reason string) []byte {
	if len(reason) > MaxControlPayloadSize-2 {
		reason = reason[:MaxControlPayloadSize-2]
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload[:2], code)
	copy(payload[2:], reason)
	return payload
}

// CloseCode returns the close code from a close frame.
func CloseCode(payload []byte) uint16 {
	if len(payload) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(payload[:2])
}

// CloseReason returns the close reason from a close frame.
func CloseReason(payload []byte) string {
	if len(payload) <= 2 {
		return ""
	}
	return string(payload[2:])
}
