// File: protocol/frame_codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame codec with payload size enforcement.

package protocol

import (
	"encoding/binary"

	"github.com/momentics/hioload-net/api"
)

// DefaultMaxPayload is the payload cap used when the caller passes zero.
const DefaultMaxPayload = 1 << 20 // 1 MiB

// DecodeFrame parses the frame at the start of buf. It returns the frame and
// the number of bytes it occupies; n == 0 with a nil error means the frame
// is not complete yet. A masked payload is unmasked inside buf.
func DecodeFrame(buf []byte, maxPayload int) (f Frame, n int, err error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	if len(buf) < 2 {
		return Frame{}, 0, nil
	}
	if buf[0]&rsvBits != 0 {
		return Frame{}, 0, protocolError("reserved bits set")
	}
	f.Fin = buf[0]&FinBit != 0
	f.Opcode = buf[0] & 0x0F
	f.Masked = buf[1]&MaskBit != 0
	if !validOpcode(f.Opcode) {
		return Frame{}, 0, protocolError("reserved opcode")
	}
	length := uint64(buf[1] & 0x7F)
	off := 2
	switch length {
	case 126:
		if len(buf) < off+2 {
			return Frame{}, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	case 127:
		if len(buf) < off+8 {
			return Frame{}, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[off:])
		off += 8
	}
	if f.IsControl() && (length > MaxControlPayload || !f.Fin) {
		return Frame{}, 0, protocolError("invalid control frame")
	}
	if length > uint64(maxPayload) {
		return Frame{}, 0, api.NewError(api.ErrCodeOversizedRequest, "websocket: frame payload too large").
			WithContext("length", length)
	}
	var key [4]byte
	if f.Masked {
		if len(buf) < off+4 {
			return Frame{}, 0, nil
		}
		copy(key[:], buf[off:off+4])
		off += 4
	}
	total := off + int(length)
	if len(buf) < total {
		return Frame{}, 0, nil
	}
	f.Payload = buf[off:total]
	if f.Masked {
		unmaskInPlace(f.Payload, key)
	}
	return f, total, nil
}

// HeaderLen returns the header size of a frame carrying n payload bytes.
func HeaderLen(n int, masked bool) int {
	h := 2
	switch {
	case n > 0xFFFF:
		h += 8
	case n > 125:
		h += 2
	}
	if masked {
		h += 4
	}
	return h
}

// AppendFrame appends one frame to dst using the narrowest length field.
// Server frames pass a nil mask; clients pass their masking key.
func AppendFrame(dst []byte, op byte, fin bool, payload []byte, mask *[4]byte) []byte {
	b0 := op & 0x0F
	if fin {
		b0 |= FinBit
	}
	var maskBit byte
	if mask != nil {
		maskBit = MaskBit
	}
	n := len(payload)
	switch {
	case n <= 125:
		dst = append(dst, b0, byte(n)|maskBit)
	case n <= 0xFFFF:
		dst = append(dst, b0, 126|maskBit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, 127|maskBit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}
	if mask == nil {
		return append(dst, payload...)
	}
	dst = append(dst, mask[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	unmaskInPlace(dst[start:], *mask)
	return dst
}
