package websocket

import (
	"encoding/binary"
)

// EncodeFrame builds a single, final, unmasked frame. Server-to-client frames
// are never masked. The header uses the smallest length encoding that fits:
// 2 bytes below 126, 4 bytes up to 65535, 10 bytes above.
func EncodeFrame(opcode Opcode, payload []byte) []byte {
	payloadLen := len(payload)

	headerSize := 2
	switch {
	case payloadLen > 65535:
		headerSize += 8
	case payloadLen > 125:
		headerSize += 2
	}

	buf := make([]byte, headerSize+payloadLen)
	buf[0] = 0x80 | byte(opcode&0x0F)

	switch headerSize {
	case 2:
		buf[1] = byte(payloadLen)
	case 4:
		buf[1] = 126
		binary.BigEndian.PutUint16(buf[2:4], uint16(payloadLen))
	default:
		buf[1] = 127
		binary.BigEndian.PutUint64(buf[2:10], uint64(payloadLen))
	}

	copy(buf[headerSize:], payload)
	return buf
}

// EncodeText encodes a text frame.
func EncodeText(payload []byte) []byte {
	return EncodeFrame(OpcodeText, payload)
}

// EncodeClose encodes a close frame with the given code and reason.
func EncodeClose(code uint16, reason string) []byte {
	return EncodeFrame(OpcodeClose, ClosePayload(code, reason))
}

// EncodePong encodes a pong frame echoing a ping payload. Ping payloads over
// MaxControlPayloadSize never get this far; the connection rejects them.
func EncodePong(payload []byte) []byte {
	return EncodeFrame(OpcodePong, payload)
}
