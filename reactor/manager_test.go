// File: reactor/manager_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-net/acl"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/internal/transport"
	"github.com/momentics/hioload-net/reactor"
)

type echo struct{}

func (echo) Kind() reactor.ProtocolKind { return reactor.Unclassified }
func (echo) OnClose(*reactor.Conn)      {}
func (echo) OnRecv(c *reactor.Conn) {
	c.Write(c.Recv().Bytes())
	c.Recv().Consume(c.Recv().Len())
}

func echoFactory(*reactor.Conn) reactor.Protocol { return echo{} }

func loopback(proto transport.Proto) *transport.Address {
	return &transport.Address{Proto: proto, Host: "127.0.0.1"}
}

// serve listens with f and runs m until the test ends.
func serve(t *testing.T, f reactor.Factory, opts ...reactor.Option) (*reactor.Manager, string) {
	t.Helper()
	m, err := reactor.New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	l, err := m.ListenAddress(loopback(transport.ProtoTCP), f)
	if err != nil {
		t.Fatal(err)
	}
	addr := l.LocalAddr().String()
	run(t, m)
	return m, addr
}

func run(t *testing.T, m *reactor.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		m.Close()
	})
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	c.SetDeadline(time.Now().Add(5 * time.Second))
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEcho(t *testing.T) {
	_, addr := serve(t, echoFactory)
	c := dial(t, addr)
	msg := strings.Repeat("0123456789", 5000)
	go c.Write([]byte(msg))
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != msg {
		t.Fatal("echo mismatch")
	}
}

func TestIdleEviction(t *testing.T) {
	m, addr := serve(t, echoFactory, reactor.WithIdleTimeout(150*time.Millisecond))
	start := time.Now()
	c := dial(t, addr)
	waitFor(t, "accept", func() bool { return m.Active() == 1 })
	var b [1]byte
	if _, err := c.Read(b[:]); err != io.EOF {
		t.Fatalf("read = %v, want EOF", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("evicted too early")
	}
	waitFor(t, "eviction", func() bool { return m.Active() == 0 })
}

func TestPeerCloseFlushesAndCloses(t *testing.T) {
	m, addr := serve(t, echoFactory)
	c := dial(t, addr)
	waitFor(t, "accept", func() bool { return m.Active() == 1 })
	c.(*net.TCPConn).CloseWrite()
	waitFor(t, "close", func() bool { return m.Active() == 0 })
}

type greeter struct{ handles chan reactor.Handle }

func (g greeter) Kind() reactor.ProtocolKind { return reactor.Unclassified }
func (g greeter) OnRecv(*reactor.Conn)       {}
func (g greeter) OnClose(*reactor.Conn)      {}
func (g greeter) OnAccept(c *reactor.Conn)   { g.handles <- c.Handle() }

func TestSendFromGoroutine(t *testing.T) {
	g := greeter{handles: make(chan reactor.Handle, 1)}
	m, addr := serve(t, func(*reactor.Conn) reactor.Protocol { return g })
	c := dial(t, addr)
	h := <-g.handles
	if err := m.Send(h, []byte("pushed\n")); err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil || line != "pushed\n" {
		t.Fatalf("read %q, %v", line, err)
	}
}

func TestBroadcast(t *testing.T) {
	m, addr := serve(t, echoFactory, reactor.WithBroadcastHandler(func(c *reactor.Conn, p []byte) {
		c.Write(p)
	}))
	a, b := dial(t, addr), dial(t, addr)
	waitFor(t, "accept", func() bool { return m.Active() == 2 })
	if err := m.Broadcast([]byte("tick\n")); err != nil {
		t.Fatal(err)
	}
	for _, c := range []net.Conn{a, b} {
		line, err := bufio.NewReader(c).ReadString('\n')
		if err != nil || line != "tick\n" {
			t.Fatalf("read %q, %v", line, err)
		}
	}
}

func TestACLReject(t *testing.T) {
	l, _ := acl.Parse("-127.0.0.0/8")
	mt := control.NewMetrics("acltest")
	m, addr := serve(t, echoFactory, reactor.WithACL(l), reactor.WithMetrics(mt))
	c := dial(t, addr)
	var b [1]byte
	if _, err := c.Read(b[:]); err == nil {
		t.Fatal("rejected connection stayed open")
	}
	if m.Active() != 0 {
		t.Fatal("rejected connection counted as active")
	}
}

func TestSetACLViaSubmit(t *testing.T) {
	m, addr := serve(t, echoFactory)
	deny, _ := acl.Parse("-0.0.0.0/0")
	applied := make(chan struct{})
	m.Submit(func() {
		m.SetACL(deny)
		close(applied)
	})
	<-applied
	c := dial(t, addr)
	var b [1]byte
	if _, err := c.Read(b[:]); err == nil {
		t.Fatal("connection admitted after deny-all")
	}
}

type dialer struct {
	result chan error
	greet  string
}

func (d *dialer) Kind() reactor.ProtocolKind { return reactor.Unclassified }
func (d *dialer) OnRecv(*reactor.Conn)       {}
func (d *dialer) OnClose(*reactor.Conn)      {}
func (d *dialer) OnConnect(c *reactor.Conn, err error) {
	if err == nil && d.greet != "" {
		c.WriteString(d.greet)
		c.FinishSending()
	}
	d.result <- err
}

func TestConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	got := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		got <- string(b)
	}()

	m, err := reactor.New()
	if err != nil {
		t.Fatal(err)
	}
	d := &dialer{result: make(chan error, 1), greet: "hello"}
	a := loopback(transport.ProtoTCP)
	a.Port = ln.Addr().(*net.TCPAddr).Port
	if _, err := m.ConnectAddress(a, d); err != nil {
		t.Fatal(err)
	}
	run(t, m)
	if err := <-d.result; err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-got:
		if s != "hello" {
			t.Fatalf("peer read %q", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("peer never saw EOF")
	}
}

func TestConnectRefused(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	m, err := reactor.New()
	if err != nil {
		t.Fatal(err)
	}
	d := &dialer{result: make(chan error, 1)}
	a := loopback(transport.ProtoTCP)
	a.Port = port
	if _, err := m.ConnectAddress(a, d); err != nil {
		if !errors.Is(err, api.ErrConnect) {
			t.Fatal(err)
		}
		return
	}
	run(t, m)
	select {
	case err := <-d.result:
		if !errors.Is(err, api.ErrConnect) {
			t.Fatalf("err = %v, want ErrConnect", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no connect result")
	}
	waitFor(t, "cleanup", func() bool { return m.Active() == 0 })
}

func TestConnectBadSpec(t *testing.T) {
	m, err := reactor.New()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if _, err := m.Connect("tcp://host:0", echo{}); !errors.Is(err, api.ErrAddressParse) {
		t.Fatalf("err = %v", err)
	}
	if _, err := m.Listen("udp://", nil); !errors.Is(err, api.ErrAddressParse) {
		t.Fatalf("err = %v", err)
	}
}

type pong struct{}

func (pong) Kind() reactor.ProtocolKind { return reactor.Unclassified }
func (pong) OnClose(*reactor.Conn)      {}
func (pong) OnRecv(c *reactor.Conn) {
	c.WriteString("pong:")
	c.Write(c.Recv().Bytes())
	c.Recv().Consume(c.Recv().Len())
}

func TestUDPDatagram(t *testing.T) {
	m, err := reactor.New()
	if err != nil {
		t.Fatal(err)
	}
	l, err := m.ListenAddress(loopback(transport.ProtoUDP), func(c *reactor.Conn) reactor.Protocol {
		if c.Role() != reactor.RoleDatagram {
			t.Errorf("role = %v", c.Role())
		}
		return pong{}
	})
	if err != nil {
		t.Fatal(err)
	}
	addr := l.LocalAddr().String()
	run(t, m)

	c, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))
	for _, msg := range []string{"a", "bb"} {
		if _, err := c.Write([]byte(msg)); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, 64)
		n, err := c.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		if got := string(buf[:n]); got != "pong:"+msg {
			t.Fatalf("reply %q", got)
		}
	}
	if m.Active() != 0 {
		t.Fatal("datagram contexts must not count as active connections")
	}
}

type panicker struct{}

func (panicker) Kind() reactor.ProtocolKind { return reactor.Unclassified }
func (panicker) OnRecv(*reactor.Conn)       { panic("boom") }
func (panicker) OnClose(*reactor.Conn)      {}

func TestCallbackPanicClosesOnlyThatConnection(t *testing.T) {
	m, err := reactor.New()
	if err != nil {
		t.Fatal(err)
	}
	bad, _ := m.ListenAddress(loopback(transport.ProtoTCP), func(*reactor.Conn) reactor.Protocol { return panicker{} })
	good, _ := m.ListenAddress(loopback(transport.ProtoTCP), echoFactory)
	badAddr, goodAddr := bad.LocalAddr().String(), good.LocalAddr().String()
	run(t, m)

	b := dial(t, badAddr)
	b.Write([]byte("x"))
	var one [1]byte
	if _, err := b.Read(one[:]); err == nil {
		t.Fatal("panicking connection stayed open")
	}
	g := dial(t, goodAddr)
	g.Write([]byte("y"))
	if _, err := io.ReadFull(g, one[:]); err != nil || one[0] != 'y' {
		t.Fatalf("echo after panic: %q %v", one, err)
	}
}

func TestEventHookAndStaleHandle(t *testing.T) {
	var mu sync.Mutex
	var events []reactor.Event
	var h reactor.Handle
	m, err := reactor.New(reactor.WithEventHook(func(c *reactor.Conn, ev reactor.Event) {
		if ev == reactor.EventPoll {
			return
		}
		mu.Lock()
		events = append(events, ev)
		h = c.Handle()
		mu.Unlock()
	}))
	if err != nil {
		t.Fatal(err)
	}
	l, _ := m.ListenAddress(loopback(transport.ProtoTCP), echoFactory)
	addr := l.LocalAddr().String()
	run(t, m)

	c := dial(t, addr)
	c.Write([]byte("z"))
	var one [1]byte
	io.ReadFull(c, one[:])
	c.Close()
	waitFor(t, "close", func() bool { return m.Active() == 0 })

	mu.Lock()
	got := append([]reactor.Event(nil), events...)
	handle := h
	mu.Unlock()
	want := []reactor.Event{reactor.EventAccept, reactor.EventRecv, reactor.EventSend, reactor.EventClose}
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	stale := make(chan bool, 1)
	m.Submit(func() { stale <- m.Lookup(handle) == nil })
	if !<-stale {
		t.Fatal("handle of a destroyed connection still resolves")
	}
}

func TestProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	m, err := reactor.New(reactor.WithDebugProbes(dp))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if _, err := m.ListenAddress(loopback(transport.ProtoTCP), nil); err != nil {
		t.Fatal(err)
	}
	st := dp.DumpState()
	if st["reactor.listeners"] != int64(1) || st["reactor.connections"] != 0 {
		t.Fatalf("probes = %v", st)
	}
}

func TestClosedManager(t *testing.T) {
	m, err := reactor.New()
	if err != nil {
		t.Fatal(err)
	}
	m.Close()
	if err := m.Submit(func() {}); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("Submit after Close = %v", err)
	}
	if err := m.Run(context.Background()); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("Run after Close = %v", err)
	}
}
