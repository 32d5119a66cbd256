// File: core/buffer/iobuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Growable FIFO byte buffer used as the receive and send queue of a connection.

package buffer

// DefaultSize is the initial capacity of a connection buffer.
const DefaultSize = 2048

// growthFactor multiplies the capacity whenever an append would overflow it.
const growthFactor = 2

// IOBuffer is a growable byte queue: bytes are appended at the tail and
// consumed from the head. Capacity only grows; Consume never shrinks it.
//
// IOBuffer is not safe for concurrent use. Callers that share one across
// goroutines must serialize access themselves.
type IOBuffer struct {
	data  []byte // len(data) is the capacity
	n     int    // valid bytes
	init  int
	limit int // 0 means unbounded
}

// New returns an empty buffer that allocates size bytes on first use.
func New(size int) *IOBuffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &IOBuffer{init: size}
}

// SetLimit caps the capacity the buffer may grow to. Appends that would need
// more fail as a whole. Zero removes the cap.
func (b *IOBuffer) SetLimit(limit int) {
	b.limit = limit
}

// Append copies p to the tail and returns len(p), or 0 if the buffer cannot
// grow to hold all of p. Appends are never partial.
func (b *IOBuffer) Append(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	need := b.n + len(p)
	if need > len(b.data) && !b.grow(need) {
		return 0
	}
	copy(b.data[b.n:], p)
	b.n = need
	return len(p)
}

// AppendString is Append for a string.
func (b *IOBuffer) AppendString(s string) int {
	if len(s) == 0 {
		return 0
	}
	need := b.n + len(s)
	if need > len(b.data) && !b.grow(need) {
		return 0
	}
	copy(b.data[b.n:], s)
	b.n = need
	return len(s)
}

func (b *IOBuffer) grow(need int) bool {
	if b.limit > 0 && need > b.limit {
		return false
	}
	c := len(b.data)
	if c == 0 {
		c = b.init
		if c == 0 {
			c = DefaultSize
		}
	}
	for c < need {
		c *= growthFactor
	}
	if b.limit > 0 && c > b.limit {
		c = b.limit
	}
	data := make([]byte, c)
	copy(data, b.data[:b.n])
	b.data = data
	return true
}

// Consume drops the first n bytes and shifts the remainder to offset 0.
// n larger than Len is clamped.
func (b *IOBuffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= b.n {
		b.n = 0
		return
	}
	copy(b.data, b.data[n:b.n])
	b.n -= n
}

// Bytes returns the valid bytes. The slice aliases the buffer and is only
// valid until the next Append or Consume.
func (b *IOBuffer) Bytes() []byte {
	return b.data[:b.n]
}

// Len returns the number of valid bytes.
func (b *IOBuffer) Len() int { return b.n }

// Cap returns the allocated size.
func (b *IOBuffer) Cap() int { return len(b.data) }

// Reset empties the buffer, keeping its storage.
func (b *IOBuffer) Reset() { b.n = 0 }

// Free releases the storage.
func (b *IOBuffer) Free() {
	b.data = nil
	b.n = 0
}
