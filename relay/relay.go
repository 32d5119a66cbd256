// File: relay/relay.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Two-leg byte relay. Each accepted front connection gets a back connection
// to a fixed target; bytes are forwarded verbatim in both directions.

package relay

import (
	"github.com/momentics/hioload-net/internal/transport"
	"github.com/momentics/hioload-net/reactor"
	"go.uber.org/zap"
)

// Directions reported to metrics.
const (
	DirUpstream   = "upstream"   // front to back
	DirDownstream = "downstream" // back to front
)

// Tunnel pairs accepted connections with outbound ones to Target. Either
// side may be TLS: an ssl:// listener terminates TLS on the front leg and
// an ssl:// target originates it on the back leg.
type Tunnel struct {
	Target *transport.Address
}

// New parses target, e.g. "ssl://example.com:443" or "tcp://10.0.0.5:8080".
func New(target string) (*Tunnel, error) {
	a, err := transport.ParseAddress(target)
	if err != nil {
		return nil, err
	}
	return &Tunnel{Target: a}, nil
}

// Protocol is a reactor.Factory for the front leg.
func (t *Tunnel) Protocol(c *reactor.Conn) reactor.Protocol {
	return &leg{tun: t, front: true}
}

// leg is the relay state of one side. peer is a non-owning reference that
// whichever side closes first clears on both legs.
type leg struct {
	tun   *Tunnel
	front bool
	peer  *reactor.Conn
}

func (l *leg) Kind() reactor.ProtocolKind { return reactor.KindRelay }

func (l *leg) dir() string {
	if l.front {
		return DirUpstream
	}
	return DirDownstream
}

// OnAccept opens the back leg. A connect that fails right away closes the
// front leg without a word.
func (l *leg) OnAccept(c *reactor.Conn) {
	m := c.Manager()
	back := &leg{tun: l.tun, peer: c}
	bc, err := m.ConnectAddress(l.tun.Target, back)
	if err != nil {
		m.Logger().Debug("relay connect failed", zap.String("conn_id", c.ID().String()),
			zap.String("target", l.tun.Target.String()), zap.Error(err))
		c.CloseImmediately()
		return
	}
	l.peer = bc
}

// OnConnect runs on the back leg. On failure the front leg goes down
// immediately.
func (l *leg) OnConnect(c *reactor.Conn, err error) {
	if err == nil {
		return
	}
	if l.peer != nil {
		l.peer.CloseImmediately()
		l.unlink()
	}
}

// OnRecv forwards everything buffered to the peer's send queue.
func (l *leg) OnRecv(c *reactor.Conn) {
	l.forward(c)
}

func (l *leg) forward(c *reactor.Conn) {
	buf := c.Recv()
	n := buf.Len()
	if n == 0 {
		return
	}
	if l.peer == nil || l.peer.Closing() {
		buf.Consume(n)
		return
	}
	if _, err := l.peer.Write(buf.Bytes()); err != nil {
		c.Fail(err)
		return
	}
	buf.Consume(n)
	c.Manager().Metrics().RelayBytes(l.dir(), n)
}

// OnClose hands what is left to the peer and lets it drain before closing.
func (l *leg) OnClose(c *reactor.Conn) {
	if l.peer == nil {
		return
	}
	l.forward(c)
	l.peer.FinishSending()
	l.unlink()
}

// unlink clears the reference on both sides.
func (l *leg) unlink() {
	if other, ok := l.peer.Protocol().(*leg); ok && other.peer != nil {
		other.peer = nil
	}
	l.peer = nil
}

// Peer returns the other leg of a relay connection, or nil.
func Peer(c *reactor.Conn) *reactor.Conn {
	if l, ok := c.Protocol().(*leg); ok {
		return l.peer
	}
	return nil
}
