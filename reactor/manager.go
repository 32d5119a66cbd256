// File: reactor/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager owns every connection and runs the dispatch loop. Only the goroutine
// calling Poll or Run touches the connection arena; other goroutines talk to
// it through the post queue and the wake channel.

package reactor

import (
	"context"
	"crypto/tls"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/momentics/hioload-net/acl"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/internal/transport"
	"go.uber.org/zap"
)

// DefaultPollInterval is the wait budget used by Run.
const DefaultPollInterval = time.Second

// DefaultMaxRecv is the default receive queue cap.
const DefaultMaxRecv = 1 << 20

type postKind uint8

const (
	postFunc postKind = iota
	postSend
	postBroadcast
)

type post struct {
	kind postKind
	h    Handle
	fn   func()
	data []byte
}

type slot struct {
	gen uint32
	c   *Conn
}

// Manager is the single-threaded connection reactor.
type Manager struct {
	log          *zap.Logger
	metrics      *control.Metrics
	probes       *control.DebugProbes
	acl          *acl.List
	idle         time.Duration
	pollInterval time.Duration
	maxRecv      int
	onBroadcast  func(c *Conn, payload []byte)
	hook         func(c *Conn, ev Event)

	wake   *transport.WakeChannel
	qmu    sync.Mutex
	q      *queue.Queue
	closed atomic.Bool

	slots []slot
	free  []uint32
	conns []*Conn // insertion order

	active    atomic.Int64
	listening atomic.Int64

	ps      pollSet
	wait    func(timeout time.Duration) (int, error)
	pollErr error
	polled  []*Conn
}

// New creates a Manager and its wake channel.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		log:          zap.NewNop(),
		pollInterval: DefaultPollInterval,
		maxRecv:      DefaultMaxRecv,
		q:            queue.New(),
	}
	m.wait = m.ps.wait
	for _, o := range opts {
		o(m)
	}
	w, err := transport.NewWakeChannel()
	if err != nil {
		return nil, api.NewError(api.ErrCodeInternal, "wake channel").Wrap(err)
	}
	m.wake = w
	if m.probes != nil {
		m.probes.RegisterProbe("reactor.connections", func() any { return m.Active() })
		m.probes.RegisterProbe("reactor.listeners", func() any { return m.listening.Load() })
	}
	return m, nil
}

// Logger returns the reactor's logger.
func (m *Manager) Logger() *zap.Logger { return m.log }

// Metrics returns the metrics sink, possibly nil.
func (m *Manager) Metrics() *control.Metrics { return m.metrics }

// Active returns the number of non-listening connections. Safe from any
// goroutine.
func (m *Manager) Active() int { return int(m.active.Load()) }

// SetACL replaces the admission rules. Reactor goroutine only; use Submit
// from elsewhere.
func (m *Manager) SetACL(l *acl.List) { m.acl = l }

// SetIdleTimeout changes the idle timeout. Reactor goroutine only.
func (m *Manager) SetIdleTimeout(d time.Duration) { m.idle = d }

// IdleTimeout returns the current idle timeout.
func (m *Manager) IdleTimeout() time.Duration { return m.idle }

func (m *Manager) newConn(fd transport.Socket, role Role, peer netip.AddrPort) *Conn {
	c := &Conn{
		id:           uuid.New(),
		m:            m,
		fd:           fd,
		peer:         peer,
		recv:         buffer.New(buffer.DefaultSize),
		send:         buffer.New(buffer.DefaultSize),
		role:         role,
		life:         Open,
		lastActivity: time.Now(),
	}
	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		idx = uint32(len(m.slots))
		m.slots = append(m.slots, slot{})
	}
	s := &m.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.c = c
	c.h = makeHandle(idx, s.gen)
	if role == RoleStream {
		c.SetRecvLimit(m.maxRecv)
	}
	m.conns = append(m.conns, c)
	switch role {
	case RoleListener:
		m.listening.Add(1)
	case RoleStream:
		m.active.Add(1)
	}
	return c
}

func (m *Manager) removeSlot(c *Conn) {
	idx := c.h.index()
	if int(idx) < len(m.slots) && m.slots[idx].c == c {
		m.slots[idx].c = nil
		m.free = append(m.free, idx)
	}
	switch c.role {
	case RoleListener:
		m.listening.Add(-1)
	case RoleStream:
		m.active.Add(-1)
	}
}

// Lookup resolves h. Reactor goroutine only.
func (m *Manager) Lookup(h Handle) *Conn {
	idx := h.index()
	if !h.Valid() || int(idx) >= len(m.slots) {
		return nil
	}
	s := m.slots[idx]
	if s.gen != h.gen() || s.c == nil {
		return nil
	}
	return s.c
}

// Each calls fn for every connection in insertion order until fn returns
// false. Reactor goroutine only.
func (m *Manager) Each(fn func(c *Conn) bool) {
	for _, c := range m.conns {
		if !fn(c) {
			return
		}
	}
}

// Listen parses spec and starts listening. Reactor goroutine only, or before
// Run.
func (m *Manager) Listen(spec string, f Factory) (*Conn, error) {
	a, err := transport.ParseAddress(spec)
	if err != nil {
		return nil, err
	}
	return m.ListenAddress(a, f)
}

// ListenAddress is Listen for a parsed address. A zero port binds an
// ephemeral one; see Conn.LocalAddr.
func (m *Manager) ListenAddress(a *transport.Address, f Factory) (*Conn, error) {
	if m.closed.Load() {
		return nil, api.ErrClosed
	}
	var cfg *tls.Config
	if a.TLS {
		var err error
		if cfg, err = transport.ServerTLSConfig(a); err != nil {
			return nil, err
		}
	}
	fd, err := transport.Listen(a)
	if err != nil {
		return nil, err
	}
	c := m.newConn(fd, RoleListener, netip.AddrPort{})
	c.addr = a
	c.factory = f
	c.tlsCfg = cfg
	m.log.Info("listening", zap.String("addr", a.String()), zap.Stringer("local", c.LocalAddr()))
	return c, nil
}

// Connect starts an outbound connection with p as its protocol. Completion
// is reported through Connector.OnConnect. Reactor goroutine only, or before
// Run.
func (m *Manager) Connect(spec string, p Protocol) (*Conn, error) {
	a, err := transport.ParseAddress(spec)
	if err != nil {
		return nil, err
	}
	return m.ConnectAddress(a, p)
}

// ConnectAddress is Connect for a parsed address.
func (m *Manager) ConnectAddress(a *transport.Address, p Protocol) (*Conn, error) {
	if m.closed.Load() {
		return nil, api.ErrClosed
	}
	if a.TLS {
		return m.connectTLS(a, p)
	}
	ap, ok := a.Literal()
	if !ok {
		return m.connectByName(a, p), nil
	}
	fd, _, err := transport.ConnectNonblockingTo(ap, a.Proto)
	if err != nil {
		return nil, err
	}
	c := m.newConn(fd, RoleStream, ap)
	c.life = Connecting
	c.proto = p
	return c, nil
}

// connectByName resolves a's host on a separate goroutine and finishes the
// connect on the reactor. Until then the connection has no socket; writes
// queue up and are flushed once it is established. Resolution failures
// arrive through OnConnect.
func (m *Manager) connectByName(a *transport.Address, p Protocol) *Conn {
	c := m.newConn(transport.InvalidSocket, RoleStream, netip.AddrPort{})
	c.life = Connecting
	c.resolving = true
	c.proto = p
	h := c.h
	go func() {
		ap, err := a.Resolve(false)
		_ = m.Submit(func() { m.resolved(h, a, ap, err) })
	}()
	return c
}

func (m *Manager) resolved(h Handle, a *transport.Address, ap netip.AddrPort, err error) {
	c := m.Lookup(h)
	if c == nil || c.life == Closing {
		return
	}
	c.resolving = false
	if err != nil {
		m.connected(c, api.NewError(api.ErrCodeConnect, "resolve "+a.String()).Wrap(err))
		return
	}
	c.peer = ap
	fd, _, err := transport.ConnectNonblockingTo(ap, a.Proto)
	if err != nil {
		m.connected(c, err)
		return
	}
	c.fd = fd
}

func (m *Manager) connectTLS(a *transport.Address, p Protocol) (*Conn, error) {
	cfg, err := transport.ClientTLSConfig(a)
	if err != nil {
		return nil, err
	}
	// The bridge resolves names itself; only a literal address is known here.
	ap, _ := a.Literal()
	c := m.newConn(transport.InvalidSocket, RoleStream, ap)
	c.life = Connecting
	c.tlsSt = TLSHandshaking
	c.proto = p
	fd, err := transport.ClientTLS(a, cfg, m.tlsDone(c.h))
	if err != nil {
		m.drop(c)
		return nil, err
	}
	c.fd = fd
	return c, nil
}

// drop removes a connection that never became visible to callers.
func (m *Manager) drop(c *Conn) {
	for i, x := range m.conns {
		if x == c {
			m.conns = append(m.conns[:i], m.conns[i+1:]...)
			break
		}
	}
	m.removeSlot(c)
	c.release()
}

// tlsDone returns the handshake callback for the connection h. It runs on a
// bridge goroutine and hands the result to the reactor.
func (m *Manager) tlsDone(h Handle) func(error) {
	return func(err error) {
		_ = m.Submit(func() { m.tlsResult(h, err) })
	}
}

func (m *Manager) tlsResult(h Handle, err error) {
	c := m.Lookup(h)
	if c == nil || c.life == Closing {
		return
	}
	connecting := c.life == Connecting
	if err != nil {
		m.log.Warn("tls handshake failed", append(c.fields(), zap.Error(err))...)
		if connecting {
			m.connected(c, err)
		}
		c.Fail(err)
		return
	}
	c.tlsSt = TLSEstablished
	m.log.Debug("tls established", c.fields()...)
	if connecting {
		c.life = Open
		m.connected(c, nil)
	}
}

func (m *Manager) enqueue(p post) error {
	if m.closed.Load() {
		return api.ErrClosed
	}
	m.qmu.Lock()
	m.q.Add(p)
	m.qmu.Unlock()
	m.wake.Signal()
	return nil
}

// Submit runs fn on the reactor goroutine during the next iteration. Safe
// from any goroutine.
func (m *Manager) Submit(fn func()) error {
	return m.enqueue(post{kind: postFunc, fn: fn})
}

// Send queues a copy of p on the connection h from any goroutine. Bytes for
// a connection that is gone by then are dropped.
func (m *Manager) Send(h Handle, p []byte) error {
	return m.enqueue(post{kind: postSend, h: h, data: append([]byte(nil), p...)})
}

// Broadcast delivers a copy of payload to every active connection during the
// next iteration. Safe from any goroutine.
func (m *Manager) Broadcast(payload []byte) error {
	return m.enqueue(post{kind: postBroadcast, data: append([]byte(nil), payload...)})
}

// Wakeup interrupts a blocked Poll.
func (m *Manager) Wakeup() {
	if !m.closed.Load() {
		m.wake.Signal()
	}
}

func (m *Manager) takePosts() []post {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	n := m.q.Length()
	if n == 0 {
		return nil
	}
	out := make([]post, 0, n)
	for m.q.Length() > 0 {
		out = append(out, m.q.Remove().(post))
	}
	return out
}

func (m *Manager) runPosts() {
	for _, p := range m.takePosts() {
		switch p.kind {
		case postFunc:
			m.safe(nil, "post", p.fn)
		case postSend:
			if c := m.Lookup(p.h); c != nil && c.life != Closing {
				if _, err := c.Write(p.data); err != nil {
					c.Fail(err)
				}
			}
		case postBroadcast:
			m.broadcast(p.data)
		}
	}
}

func (m *Manager) broadcast(payload []byte) {
	for _, c := range m.conns {
		if c.role == RoleListener || c.life == Closing {
			continue
		}
		if m.onBroadcast != nil {
			m.safe(c, "broadcast", func() { m.onBroadcast(c, payload) })
		} else if b, ok := c.proto.(Broadcaster); ok {
			m.safe(c, "broadcast", func() { b.OnBroadcast(c, payload) })
		}
	}
}

// Run polls until ctx is cancelled. It returns nil on cancellation and the
// error of a failed readiness wait otherwise.
func (m *Manager) Run(ctx context.Context) error {
	if m.closed.Load() {
		return api.ErrClosed
	}
	stop := context.AfterFunc(ctx, m.Wakeup)
	defer stop()
	for ctx.Err() == nil {
		m.Poll(m.pollInterval)
		if m.pollErr != nil {
			return api.NewError(api.ErrCodeIO, "poll").Wrap(m.pollErr)
		}
	}
	return nil
}

// Close destroys every connection, running OnClose for each, and releases
// the wake channel. Call it from the reactor goroutine after Run returned.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	for _, c := range m.conns {
		c.closeWith("shutdown")
	}
	m.sweep(time.Now())
	return m.wake.Close()
}
