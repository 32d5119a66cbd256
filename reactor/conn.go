// File: reactor/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection: socket, queues and per-concern state, owned by the Manager.

package reactor

import (
	"crypto/tls"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/internal/transport"
	"go.uber.org/zap"
)

// Handle is a generation-checked reference to a connection. A handle to a
// destroyed connection never resolves again, even if its slot is reused.
type Handle uint64

func makeHandle(idx, gen uint32) Handle { return Handle(uint64(gen)<<32 | uint64(idx)) }

func (h Handle) index() uint32 { return uint32(h) }
func (h Handle) gen() uint32   { return uint32(h >> 32) }

// Valid reports whether h was issued by a Manager.
func (h Handle) Valid() bool { return h.gen() != 0 }

// Conn is one socket under reactor control.
//
// Everything except the send queue belongs to the reactor goroutine. The
// send queue is guarded by its own mutex so other goroutines can use
// WriteAsync.
type Conn struct {
	h    Handle
	id   uuid.UUID
	m    *Manager
	fd   transport.Socket
	peer netip.AddrPort

	recv   *buffer.IOBuffer
	sendMu sync.Mutex
	send   *buffer.IOBuffer
	dead   bool // guarded by sendMu

	role      Role
	life      Lifecycle
	sendSt    SendState
	tlsSt     TLSState
	rdEOF     bool
	resolving bool // outbound connect waiting for name resolution
	maxRecv   int  // receive queue cap, 0 means unbounded
	proto     Protocol
	listener  *Conn // accepting listener, never owned
	counted   bool  // included in the active metrics

	lastActivity time.Time
	err          error
	reason       string

	// listener-only
	addr    *transport.Address
	factory Factory
	tlsCfg  *tls.Config

	// UserData is free for the owning protocol.
	UserData any
}

// Handle returns the connection's handle.
func (c *Conn) Handle() Handle { return c.h }

// ID is a random correlation id used in logs.
func (c *Conn) ID() uuid.UUID { return c.id }

// Manager returns the owning reactor.
func (c *Conn) Manager() *Manager { return c.m }

// Peer is the remote address. Zero for listeners.
func (c *Conn) Peer() netip.AddrPort { return c.peer }

// LocalAddr returns the bound address of the socket.
func (c *Conn) LocalAddr() netip.AddrPort {
	ap, _ := transport.LocalAddr(c.fd)
	return ap
}

// Listener returns the listener that accepted c, or nil.
func (c *Conn) Listener() *Conn { return c.listener }

// Role returns the socket kind.
func (c *Conn) Role() Role { return c.role }

// Lifecycle returns the lifecycle state.
func (c *Conn) Lifecycle() Lifecycle { return c.life }

// TLS returns the TLS bridge state.
func (c *Conn) TLS() TLSState { return c.tlsSt }

// IsListener reports whether c is a listening socket.
func (c *Conn) IsListener() bool { return c.role == RoleListener }

// Protocol returns the installed protocol layer.
func (c *Conn) Protocol() Protocol { return c.proto }

// Kind returns the installed protocol's kind.
func (c *Conn) Kind() ProtocolKind {
	if c.proto == nil {
		return Unclassified
	}
	return c.proto.Kind()
}

// SetProtocol replaces the protocol layer. Used for HTTP to WebSocket
// upgrades and for relay pairing.
func (c *Conn) SetProtocol(p Protocol) { c.proto = p }

// Recv is the receive queue. Protocols consume what they have parsed.
func (c *Conn) Recv() *buffer.IOBuffer { return c.recv }

// LastActivity is the time of the last successful read or write.
func (c *Conn) LastActivity() time.Time { return c.lastActivity }

// Err returns the error recorded by Fail.
func (c *Conn) Err() error { return c.err }

// Closing reports whether c is scheduled for removal.
func (c *Conn) Closing() bool { return c.life == Closing }

// Finishing reports whether c closes once its send queue drains.
func (c *Conn) Finishing() bool { return c.sendSt == Finishing }

// Write queues p for sending. It never blocks on the socket; bytes are
// written by the reactor. Safe from any goroutine, but writers outside the
// reactor should use WriteAsync so the reactor wakes up.
func (c *Conn) Write(p []byte) (int, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.dead {
		return 0, api.ErrClosed
	}
	if len(p) > 0 && c.send.Append(p) == 0 {
		return 0, api.ErrResourceExhausted
	}
	return len(p), nil
}

// WriteString is Write for a string.
func (c *Conn) WriteString(s string) (int, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.dead {
		return 0, api.ErrClosed
	}
	if len(s) > 0 && c.send.AppendString(s) == 0 {
		return 0, api.ErrResourceExhausted
	}
	return len(s), nil
}

// WriteAsync queues p and wakes the reactor.
func (c *Conn) WriteAsync(p []byte) error {
	if _, err := c.Write(p); err != nil {
		return err
	}
	c.m.Wakeup()
	return nil
}

// SendLen returns the number of queued, unsent bytes.
func (c *Conn) SendLen() int {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.send.Len()
}

// FinishSending closes c gracefully once the send queue is empty.
func (c *Conn) FinishSending() {
	c.sendSt = Finishing
}

// CloseImmediately schedules c for removal at the end of the iteration.
// Queued bytes are discarded.
func (c *Conn) CloseImmediately() {
	if c.life != Closing {
		c.life = Closing
		if c.reason == "" {
			c.reason = "closed"
		}
	}
}

// Fail records err and closes c immediately.
func (c *Conn) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
	if c.life != Closing {
		c.reason = "error"
	}
	c.CloseImmediately()
}

func (c *Conn) closeWith(reason string) {
	if c.life != Closing {
		c.reason = reason
		c.life = Closing
	}
}

func (c *Conn) fields() []zap.Field {
	return []zap.Field{
		zap.String("conn_id", c.id.String()),
		zap.Stringer("remote_addr", c.peer),
		zap.Stringer("role", c.role),
	}
}

// RecvLimit returns the receive queue cap; 0 means unbounded.
func (c *Conn) RecvLimit() int { return c.maxRecv }

// SetRecvLimit changes the receive queue cap. A protocol that accepts
// messages larger than the manager default raises it for its connection.
// A queue that is still full after OnRecv fails the connection with
// api.ErrOversizedRequest.
func (c *Conn) SetRecvLimit(n int) {
	if n < 0 {
		n = 0
	}
	c.maxRecv = n
	c.recv.SetLimit(n)
}

// interest reports what to poll c for.
func (c *Conn) interest() (read, write bool) {
	switch {
	case c.life == Closing || c.role == RoleDatagram:
		return false, false
	case c.role == RoleListener:
		return true, false
	case c.life == Connecting:
		return false, c.tlsSt == TLSNone && !c.resolving
	}
	read = !c.rdEOF && (c.maxRecv <= 0 || c.recv.Len() < c.maxRecv)
	write = c.SendLen() > 0
	return read, write
}

func (c *Conn) release() {
	c.sendMu.Lock()
	c.dead = true
	c.send.Free()
	c.sendMu.Unlock()
	c.recv.Free()
	if c.role != RoleDatagram {
		_ = transport.Close(c.fd)
	}
	c.fd = transport.InvalidSocket
}
