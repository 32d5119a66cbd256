//go:build linux
// +build linux

// internal/transport/transport_linux.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux socket primitives. Every descriptor is created non-blocking and
// close-on-exec.

package transport

import (
	"errors"
	"net/netip"
	"sync"

	"github.com/momentics/hioload-net/api"
	"golang.org/x/sys/unix"
)

// Socket is a raw socket descriptor.
type Socket int

// InvalidSocket marks an unset descriptor.
const InvalidSocket Socket = -1

const listenBacklog = 1024

func sockaddrOf(ap netip.AddrPort) unix.Sockaddr {
	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
}

func addrPortOf(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr).Unmap(), uint16(v.Port))
	}
	return netip.AddrPort{}
}

func sockType(p Proto) int {
	if p == ProtoUDP {
		return unix.SOCK_DGRAM
	}
	return unix.SOCK_STREAM
}

func bindError(a *Address, step string, err error) error {
	return api.NewError(api.ErrCodeBind, step+" "+a.String()).Wrap(err)
}

// Listen opens a listening (TCP) or bound (UDP) socket for a. On failure the
// partially created socket is closed before returning.
func Listen(a *Address) (Socket, error) {
	ap, err := a.Resolve(true)
	if err != nil {
		return InvalidSocket, bindError(a, "resolve", err)
	}
	fd, err := unix.Socket(unix.AF_INET, sockType(a.Proto)|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return InvalidSocket, bindError(a, "socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return InvalidSocket, bindError(a, "setsockopt", err)
	}
	if err := unix.Bind(fd, sockaddrOf(ap)); err != nil {
		unix.Close(fd)
		return InvalidSocket, bindError(a, "bind", err)
	}
	if a.Proto == ProtoTCP {
		if err := unix.Listen(fd, listenBacklog); err != nil {
			unix.Close(fd)
			return InvalidSocket, bindError(a, "listen", err)
		}
	}
	return Socket(fd), nil
}

// Accept takes one pending connection from a listening socket.
func Accept(ls Socket) (Socket, netip.AddrPort, error) {
	nfd, sa, err := unix.Accept4(int(ls), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return InvalidSocket, netip.AddrPort{}, err
	}
	return Socket(nfd), addrPortOf(sa), nil
}

// ConnectNonblocking starts a connect to a. pending reports that the
// handshake is still in progress; completion shows up as writability and is
// checked with ConnectError.
func ConnectNonblocking(a *Address) (s Socket, pending bool, err error) {
	ap, err := a.Resolve(false)
	if err != nil {
		return InvalidSocket, false, api.NewError(api.ErrCodeConnect, "resolve "+a.String()).Wrap(err)
	}
	return ConnectNonblockingTo(ap, a.Proto)
}

// ConnectNonblockingTo is ConnectNonblocking for an already resolved peer.
func ConnectNonblockingTo(ap netip.AddrPort, proto Proto) (Socket, bool, error) {
	fd, err := unix.Socket(unix.AF_INET, sockType(proto)|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return InvalidSocket, false, api.NewError(api.ErrCodeConnect, "socket "+ap.String()).Wrap(err)
	}
	if proto == ProtoTCP {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	err = unix.Connect(fd, sockaddrOf(ap))
	switch {
	case err == nil:
		return Socket(fd), false, nil
	case errors.Is(err, unix.EINPROGRESS):
		return Socket(fd), true, nil
	default:
		unix.Close(fd)
		return InvalidSocket, false, api.NewError(api.ErrCodeConnect, "connect "+ap.String()).Wrap(err)
	}
}

// ConnectError returns the outcome of a non-blocking connect.
func ConnectError(s Socket) error {
	v, err := unix.GetsockoptInt(int(s), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// Read reads from a connected socket.
func Read(s Socket, p []byte) (int, error) {
	n, err := unix.Read(int(s), p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write writes to a connected socket without raising SIGPIPE.
func Write(s Socket, p []byte) (int, error) {
	n, err := unix.SendmsgN(int(s), p, nil, nil, unix.MSG_NOSIGNAL)
	if n < 0 {
		n = 0
	}
	return n, err
}

// RecvFrom reads one datagram.
func RecvFrom(s Socket, p []byte) (int, netip.AddrPort, error) {
	n, sa, err := unix.Recvfrom(int(s), p, 0)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, addrPortOf(sa), nil
}

// SendTo sends one datagram to peer.
func SendTo(s Socket, p []byte, peer netip.AddrPort) error {
	return unix.Sendto(int(s), p, unix.MSG_NOSIGNAL, sockaddrOf(peer))
}

// Close closes the descriptor.
func Close(s Socket) error {
	if s < 0 {
		return nil
	}
	return unix.Close(int(s))
}

// LocalAddr returns the bound address of s.
func LocalAddr(s Socket) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(int(s))
	if err != nil {
		return netip.AddrPort{}, err
	}
	return addrPortOf(sa), nil
}

// IsTemporary reports errors that mean "try again later".
func IsTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func socketPair() (Socket, Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return InvalidSocket, InvalidSocket, err
	}
	return Socket(fds[0]), Socket(fds[1]), nil
}

// WakeChannel is a connected socket pair used to interrupt the reactor's
// blocking poll from other goroutines.
type WakeChannel struct {
	mu     sync.RWMutex
	local  Socket
	remote Socket
	closed bool
}

// NewWakeChannel creates the pair.
func NewWakeChannel() (*WakeChannel, error) {
	l, r, err := socketPair()
	if err != nil {
		return nil, err
	}
	return &WakeChannel{local: l, remote: r}, nil
}

// Fd is the descriptor the reactor polls for readability.
func (w *WakeChannel) Fd() Socket { return w.local }

// Signal writes one byte. A full pair means a wake-up is already pending, so
// EAGAIN is ignored.
func (w *WakeChannel) Signal() {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	_, _ = Write(w.remote, []byte{1})
}

// Drain consumes all pending wake bytes and returns how many were read.
func (w *WakeChannel) Drain() int {
	var buf [64]byte
	total := 0
	for {
		n, err := Read(w.local, buf[:])
		if n <= 0 || err != nil {
			return total
		}
		total += n
	}
}

// Close closes both ends. Further Signals are no-ops.
func (w *WakeChannel) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := Close(w.local)
	if err2 := Close(w.remote); err == nil {
		err = err2
	}
	return err
}
