// Package protocol
// Author: momentics <momentics@gmail.com>
//
// RFC 6455 frame layout. Decoding works on a connection's receive queue and
// unmasks in place, so the decoded payload aliases the queue and is valid
// only until the caller consumes the frame.

package protocol

import (
	"github.com/momentics/hioload-net/api"
)

// Opcodes.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

const (
	FinBit  byte = 0x80
	rsvBits byte = 0x70
	MaskBit byte = 0x80

	// MaxControlPayload is the payload cap of close, ping and pong frames.
	MaxControlPayload = 125
)

// Frame is a decoded frame header plus its payload.
type Frame struct {
	Fin     bool
	Opcode  byte
	Masked  bool
	Payload []byte
}

// IsControl reports whether f is a close, ping or pong frame.
func (f Frame) IsControl() bool { return f.Opcode&0x8 != 0 }

func validOpcode(op byte) bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func protocolError(msg string) error {
	return api.NewError(api.ErrCodeMalformedRequest, "websocket: "+msg)
}

// unmaskInPlace applies XOR on payload using maskKey.
func unmaskInPlace(buf []byte, key [4]byte) {
	for i := 0; i < len(buf); i++ {
		buf[i] ^= key[i%4]
	}
}
