package websocket

import (
	"encoding/binary"
)

// DecodeFrame decodes the first frame held in buf.
//
// The decoder never consumes a partial frame: it checks that the two header
// bytes, the extended length, the masking key and the whole payload are all
// buffered before returning. When they are not, it returns (nil, 0, nil) and
// the caller is expected to append more bytes and try again. On success n is
// the number of bytes the frame occupied in buf.
//
// Masked payloads are unmasked into a fresh slice; buf is left untouched.
// maxPayload <= 0 means DefaultMaxPayloadSize.
func DecodeFrame(buf []byte, maxPayload int) (frame *Frame, n int, err error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadSize
	}
	if len(buf) < 2 {
		return nil, 0, nil
	}

	opcode := Opcode(buf[0] & 0x0F)
	masked := buf[1]&0x80 != 0
	payloadLen := uint64(buf[1] & 0x7F)
	pos := 2

	switch payloadLen {
	case 126:
		if len(buf) < pos+2 {
			return nil, 0, nil
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[pos : pos+2]))
		pos += 2
	case 127:
		if len(buf) < pos+8 {
			return nil, 0, nil
		}
		payloadLen = binary.BigEndian.Uint64(buf[pos : pos+8])
		pos += 8
		// RFC 6455 5.2: the most significant bit MUST be 0.
		if payloadLen>>63 != 0 {
			return nil, 0, &FrameError{Err: ErrInvalidFrame, Opcode: opcode}
		}
	}

	if payloadLen > uint64(maxPayload) {
		return nil, 0, &FrameError{Err: ErrFrameTooLarge, Opcode: opcode}
	}

	frame = &Frame{
		Fin:    buf[0]&0x80 != 0,
		Opcode: opcode,
		Masked: masked,
	}

	if masked {
		if len(buf) < pos+4 {
			return nil, 0, nil
		}
		copy(frame.Mask[:], buf[pos:pos+4])
		pos += 4
	}

	end := pos + int(payloadLen)
	if len(buf) < end {
		return nil, 0, nil
	}

	if payloadLen > 0 {
		frame.Payload = make([]byte, payloadLen)
		copy(frame.Payload, buf[pos:end])
		if masked {
			MaskBytes(frame.Mask, frame.Payload)
		}
	}

	return frame, end, nil
}

// MaskBytes XORs payload in place with key[i mod 4]. Applying it twice with
// the same key restores the original bytes.
func MaskBytes(key [4]byte, payload []byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}
