// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "sync"

// ScratchSize is the size of the read scratch buffers handed out by Scratch.
const ScratchSize = 16 * 1024

// BytePool hands out fixed-size scratch buffers. The reactor reads sockets and
// files into them before appending to a connection queue.
type BytePool struct {
	p    sync.Pool
	size int
}

// NewBytePool returns a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	bp := &BytePool{size: size}
	bp.p.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// GetBuffer returns a buffer of exactly Size bytes.
func (b *BytePool) GetBuffer() *[]byte {
	return b.p.Get().(*[]byte)
}

// PutBuffer returns a buffer to the pool. Foreign-sized buffers are dropped.
func (b *BytePool) PutBuffer(buf *[]byte) {
	if buf == nil || cap(*buf) != b.size {
		return
	}
	*buf = (*buf)[:b.size]
	b.p.Put(buf)
}

// Size returns the buffer size served by the pool.
func (b *BytePool) Size() int { return b.size }

// Scratch is the process-wide pool of ScratchSize buffers.
var Scratch = NewBytePool(ScratchSize)
