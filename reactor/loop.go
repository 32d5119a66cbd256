// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One reactor iteration: collect interest, wait, run posts, accept, read,
// write, sweep.

package reactor

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/transport"
	"github.com/momentics/hioload-net/pool"
	"go.uber.org/zap"
)

// Poll runs one iteration, waiting at most budget for readiness. A negative
// budget waits until something happens. It returns the number of ready
// descriptors. Poll must always be called from the same goroutine.
func (m *Manager) Poll(budget time.Duration) int {
	if m.closed.Load() {
		return 0
	}
	m.ps.reset()
	m.polled = m.polled[:0]
	m.ps.add(m.wake.Fd(), true, false)
	for _, c := range m.conns {
		r, w := c.interest()
		if !r && !w {
			continue
		}
		m.ps.add(c.fd, r, w)
		m.polled = append(m.polled, c)
	}

	n, err := m.wait(m.waitTimeout(budget, time.Now()))
	if err != nil {
		// Nothing is ready; a persistent failure would spin, so Run stops.
		m.log.Error("poll failed", zap.Error(err))
		m.pollErr = err
		n = 0
	}

	if n > 0 && m.ps.readable(0) {
		m.wake.Drain()
	}
	// Posts are cheap to check and may predate the wake byte.
	m.runPosts()

	if n > 0 {
		for i, c := range m.polled {
			if c.life == Closing {
				continue
			}
			r, w := m.ps.readable(i+1), m.ps.writable(i+1)
			if !r && !w {
				continue
			}
			m.dispatch(c, r, w)
		}
	}

	if m.hook != nil {
		for _, c := range m.conns {
			if c.role != RoleListener && c.life != Closing {
				m.event(c, EventPoll)
			}
		}
	}
	m.sweep(time.Now())
	return n
}

// waitTimeout bounds budget by the nearest idle deadline.
func (m *Manager) waitTimeout(budget time.Duration, now time.Time) time.Duration {
	t := budget
	if m.idle > 0 {
		for _, c := range m.conns {
			if c.role == RoleListener {
				continue
			}
			left := c.lastActivity.Add(m.idle).Sub(now)
			if left < 0 {
				left = 0
			}
			if t < 0 || left < t {
				t = left
			}
		}
	}
	return t
}

func (m *Manager) dispatch(c *Conn, readable, writable bool) {
	switch {
	case c.role == RoleListener && c.addr.Proto == transport.ProtoUDP:
		m.recvDatagram(c)
	case c.role == RoleListener:
		m.accept(c)
	case c.life == Connecting:
		m.connected(c, transport.ConnectError(c.fd))
	default:
		if readable {
			m.read(c)
		}
		if writable && c.life != Closing {
			m.flush(c)
		}
	}
}

func (m *Manager) accept(l *Conn) {
	fd, peer, err := transport.Accept(l.fd)
	if err != nil {
		if !transport.IsTemporary(err) {
			m.log.Warn("accept failed", zap.String("listener", l.addr.String()), zap.Error(err))
		}
		return
	}
	if !m.acl.Allow(peer.Addr()) {
		_ = transport.Close(fd)
		m.metrics.ConnRejected()
		m.log.Debug("connection rejected by acl", zap.Stringer("remote_addr", peer))
		return
	}
	c := m.newConn(fd, RoleStream, peer)
	c.listener = l
	c.counted = true
	m.metrics.ConnAccepted()
	if l.tlsCfg != nil {
		c.tlsSt = TLSHandshaking
		inner, err := transport.ServerTLS(fd, l.tlsCfg, m.tlsDone(c.h))
		if err != nil {
			c.fd = transport.InvalidSocket
			c.Fail(api.NewError(api.ErrCodeTLSHandshake, "tls bridge").Wrap(err))
			return
		}
		c.fd = inner
	}
	m.log.Debug("accepted", c.fields()...)
	if l.factory != nil {
		m.safe(c, "factory", func() { c.proto = l.factory(c) })
	}
	m.event(c, EventAccept)
	if a, ok := c.proto.(Acceptor); ok && c.life != Closing {
		m.safe(c, "accept", func() { a.OnAccept(c) })
	}
}

// recvDatagram reads one datagram and runs it through an ephemeral
// connection whose replies go back to the sender.
func (m *Manager) recvDatagram(l *Conn) {
	bp := pool.Scratch.GetBuffer()
	defer pool.Scratch.PutBuffer(bp)
	n, peer, err := transport.RecvFrom(l.fd, *bp)
	if err != nil {
		if !transport.IsTemporary(err) {
			m.log.Warn("recvfrom failed", zap.String("listener", l.addr.String()), zap.Error(err))
		}
		return
	}
	if !m.acl.Allow(peer.Addr()) {
		m.metrics.ConnRejected()
		m.log.Debug("datagram rejected by acl", zap.Stringer("remote_addr", peer))
		return
	}
	m.metrics.BytesIn(n)
	c := m.newConn(l.fd, RoleDatagram, peer)
	c.listener = l
	c.recv.Append((*bp)[:n])
	if l.factory != nil {
		m.safe(c, "factory", func() { c.proto = l.factory(c) })
	}
	m.event(c, EventAccept)
	if a, ok := c.proto.(Acceptor); ok && c.life != Closing {
		m.safe(c, "accept", func() { a.OnAccept(c) })
	}
	if n > 0 {
		m.event(c, EventRecv)
		if c.proto != nil && c.life != Closing {
			m.safe(c, "recv", func() { c.proto.OnRecv(c) })
		}
	}
	if c.life != Closing {
		c.sendMu.Lock()
		out := c.send.Bytes()
		if len(out) > 0 {
			if err := transport.SendTo(l.fd, out, peer); err != nil {
				m.log.Debug("sendto failed", append(c.fields(), zap.Error(err))...)
			} else {
				m.metrics.BytesOut(len(out))
			}
			c.send.Reset()
		}
		c.sendMu.Unlock()
	}
	c.closeWith("datagram")
}

// connected finishes an outbound connect.
func (m *Manager) connected(c *Conn, err error) {
	if err != nil {
		err = api.NewError(api.ErrCodeConnect, "connect "+c.peer.String()).Wrap(err)
	} else {
		c.life = Open
		c.lastActivity = time.Now()
	}
	m.event(c, EventConnect)
	if cn, ok := c.proto.(Connector); ok {
		m.safe(c, "connect", func() { cn.OnConnect(c, err) })
	}
	if err != nil {
		m.log.Debug("connect failed", append(c.fields(), zap.Error(err))...)
		c.Fail(err)
	}
}

func (m *Manager) read(c *Conn) {
	bp := pool.Scratch.GetBuffer()
	defer pool.Scratch.PutBuffer(bp)
	buf := *bp
	if c.maxRecv > 0 {
		room := c.maxRecv - c.recv.Len()
		if room <= 0 {
			c.Fail(oversized())
			return
		}
		if room < len(buf) {
			buf = buf[:room]
		}
	}
	n, err := transport.Read(c.fd, buf)
	switch {
	case n > 0:
		if c.recv.Append(buf[:n]) == 0 {
			c.Fail(api.ErrResourceExhausted)
			return
		}
		c.lastActivity = time.Now()
		m.metrics.BytesIn(n)
		m.event(c, EventRecv)
		if c.proto != nil {
			m.safe(c, "recv", func() { c.proto.OnRecv(c) })
		}
		// A full queue the protocol could not shrink never drains.
		if c.maxRecv > 0 && c.life != Closing && c.recv.Len() >= c.maxRecv {
			m.log.Debug("receive queue full", append(c.fields(), zap.Int("limit", c.maxRecv))...)
			c.Fail(oversized())
		}
	case err == nil:
		// Orderly shutdown by the peer: flush what is queued, then close.
		c.rdEOF = true
		c.FinishSending()
		if c.reason == "" {
			c.reason = "eof"
		}
	case transport.IsTemporary(err):
	default:
		c.Fail(api.NewError(api.ErrCodeIO, "read").Wrap(err))
	}
}

func oversized() error {
	return api.NewError(api.ErrCodeOversizedRequest, "receive queue full")
}

func (m *Manager) flush(c *Conn) {
	c.sendMu.Lock()
	wrote := 0
	var werr error
	for c.send.Len() > 0 {
		n, err := transport.Write(c.fd, c.send.Bytes())
		if n > 0 {
			c.send.Consume(n)
			wrote += n
		}
		if err != nil {
			if !transport.IsTemporary(err) {
				werr = err
			}
			break
		}
		if n == 0 {
			break
		}
	}
	empty := c.send.Len() == 0
	c.sendMu.Unlock()

	if werr != nil {
		c.Fail(api.NewError(api.ErrCodeIO, "write").Wrap(werr))
		return
	}
	if wrote == 0 {
		return
	}
	c.lastActivity = time.Now()
	m.metrics.BytesOut(wrote)
	m.event(c, EventSend)
	if !empty {
		return
	}
	if c.sendSt == Finishing {
		c.closeWith(c.finishReason())
		return
	}
	if d, ok := c.proto.(Drainer); ok {
		m.safe(c, "drain", func() { d.OnDrain(c) })
	}
}

func (c *Conn) finishReason() string {
	if c.reason != "" {
		return c.reason
	}
	return "finished"
}

// sweep destroys closing connections. OnClose may schedule more closes (a
// relay peer whose queue is already empty), so it repeats until nothing
// changes.
func (m *Manager) sweep(now time.Time) {
	for {
		var doomed []*Conn
		for _, c := range m.conns {
			if c.life != Closing && c.role != RoleListener {
				switch {
				case c.sendSt == Finishing && c.life == Open && c.SendLen() == 0:
					c.closeWith(c.finishReason())
				case m.idle > 0 && now.Sub(c.lastActivity) > m.idle:
					c.closeWith("idle")
					c.err = api.ErrIdleTimeout
					m.metrics.IdleEvicted()
					m.log.Debug("idle timeout", c.fields()...)
				}
			}
			if c.life == Closing {
				doomed = append(doomed, c)
			}
		}
		if len(doomed) == 0 {
			return
		}
		kept := m.conns[:0]
		for _, c := range m.conns {
			if c.life != Closing {
				kept = append(kept, c)
			}
		}
		for i := len(kept); i < len(m.conns); i++ {
			m.conns[i] = nil
		}
		m.conns = kept
		for _, c := range doomed {
			m.destroy(c)
		}
	}
}

func (m *Manager) destroy(c *Conn) {
	m.event(c, EventClose)
	if c.proto != nil {
		m.safe(c, "close", func() { c.proto.OnClose(c) })
	}
	m.removeSlot(c)
	if c.counted {
		m.metrics.ConnClosed(c.reason)
	}
	if c.role != RoleDatagram {
		m.log.Debug("closed", append(c.fields(), zap.String("reason", c.reason), zap.Error(c.err))...)
	}
	c.release()
}

func (m *Manager) event(c *Conn, ev Event) {
	if m.hook != nil {
		m.safe(c, "hook", func() { m.hook(c, ev) })
	}
}

// safe runs a callback, turning a panic into a failed connection so one bad
// handler cannot stop the loop.
func (m *Manager) safe(c *Conn, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s callback panic: %v", what, r)
			if c == nil {
				m.log.Error("callback panic", zap.String("callback", what), zap.Any("panic", r))
				return
			}
			m.log.Error("callback panic", append(c.fields(), zap.String("callback", what), zap.Any("panic", r))...)
			c.Fail(err)
		}
	}()
	fn()
}
