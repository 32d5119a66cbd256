//go:build !linux
// +build !linux

// internal/transport/transport_other.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stubs for platforms without a socket backend.

package transport

import (
	"crypto/tls"
	"net/netip"

	"github.com/momentics/hioload-net/api"
)

// Socket is a raw socket descriptor.
type Socket int

// InvalidSocket marks an unset descriptor.
const InvalidSocket Socket = -1

func Listen(a *Address) (Socket, error) { return InvalidSocket, api.ErrNotSupported }

func Accept(ls Socket) (Socket, netip.AddrPort, error) {
	return InvalidSocket, netip.AddrPort{}, api.ErrNotSupported
}

func ConnectNonblocking(a *Address) (Socket, bool, error) {
	return InvalidSocket, false, api.ErrNotSupported
}

func ConnectNonblockingTo(ap netip.AddrPort, proto Proto) (Socket, bool, error) {
	return InvalidSocket, false, api.ErrNotSupported
}

func ConnectError(s Socket) error { return api.ErrNotSupported }
func Read(s Socket, p []byte) (int, error) { return 0, api.ErrNotSupported }
func Write(s Socket, p []byte) (int, error) { return 0, api.ErrNotSupported }
func SendTo(s Socket, p []byte, _ netip.AddrPort) error { return api.ErrNotSupported }
func Close(s Socket) error { return nil }
func IsTemporary(err error) bool { return false }

func RecvFrom(s Socket, p []byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, api.ErrNotSupported
}

func LocalAddr(s Socket) (netip.AddrPort, error) {
	return netip.AddrPort{}, api.ErrNotSupported
}

// WakeChannel is unavailable on this platform.
type WakeChannel struct{}

func NewWakeChannel() (*WakeChannel, error) { return nil, api.ErrNotSupported }
func (w *WakeChannel) Fd() Socket { return InvalidSocket }
func (w *WakeChannel) Signal() {}
func (w *WakeChannel) Drain() int { return 0 }
func (w *WakeChannel) Close() error { return nil }

func ServerTLS(raw Socket, cfg *tls.Config, done func(error)) (Socket, error) {
	return InvalidSocket, api.ErrNotSupported
}

func ClientTLS(a *Address, cfg *tls.Config, done func(error)) (Socket, error) {
	return InvalidSocket, api.ErrNotSupported
}
