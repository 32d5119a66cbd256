// File: internal/transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listen/connect address specs: [proto://][host:]port[:cert[:ca]].

package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/momentics/hioload-net/api"
)

// Proto is the socket type requested by an address spec.
type Proto int

const (
	ProtoTCP Proto = iota
	ProtoUDP
)

func (p Proto) String() string {
	if p == ProtoUDP {
		return "udp"
	}
	return "tcp"
}

// Address is a parsed listen/connect spec.
type Address struct {
	Proto    Proto
	TLS      bool   // ssl:// scheme
	Host     string // empty binds all interfaces
	Port     int
	CertPath string // PEM holding certificate and private key
	CAPath   string // PEM bundle used to verify the peer
}

// ParseAddress parses spec. The scheme defaults to tcp; ssl implies TCP with
// TLS. The port must lie strictly between 0 and 65535.
func ParseAddress(spec string) (*Address, error) {
	a := &Address{Proto: ProtoTCP}
	rest := spec
	if i := strings.Index(rest, "://"); i >= 0 {
		switch rest[:i] {
		case "tcp":
		case "udp":
			a.Proto = ProtoUDP
		case "ssl":
			a.TLS = true
		default:
			return nil, parseError(spec, "unknown scheme")
		}
		rest = rest[i+3:]
	}
	if rest == "" {
		return nil, parseError(spec, "missing port")
	}

	parts := strings.Split(rest, ":")
	var portTok string
	if isDigits(parts[0]) {
		portTok, parts = parts[0], parts[1:]
	} else {
		if len(parts) < 2 {
			return nil, parseError(spec, "missing port")
		}
		if !validHost(parts[0]) {
			return nil, parseError(spec, "invalid host")
		}
		a.Host, portTok, parts = parts[0], parts[1], parts[2:]
	}
	if !isDigits(portTok) {
		return nil, parseError(spec, "port is not numeric")
	}
	port, err := strconv.Atoi(portTok)
	if err != nil || port <= 0 || port >= 65535 {
		return nil, parseError(spec, "port out of range")
	}
	a.Port = port

	switch len(parts) {
	case 0:
	case 1:
		a.CertPath = parts[0]
	case 2:
		a.CertPath, a.CAPath = parts[0], parts[1]
	default:
		return nil, parseError(spec, "trailing garbage")
	}
	if len(parts) > 0 && a.CertPath == "" {
		return nil, parseError(spec, "empty certificate path")
	}
	return a, nil
}

func parseError(spec, reason string) error {
	return api.NewError(api.ErrCodeAddressParse, reason).WithContext("spec", spec)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func validHost(h string) bool {
	if h == "" {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// String renders the address back into spec form.
func (a *Address) String() string {
	scheme := a.Proto.String()
	if a.TLS {
		scheme = "ssl"
	}
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if a.Host != "" {
		b.WriteString(a.Host)
		b.WriteByte(':')
	}
	b.WriteString(strconv.Itoa(a.Port))
	if a.CertPath != "" {
		b.WriteByte(':')
		b.WriteString(a.CertPath)
		if a.CAPath != "" {
			b.WriteByte(':')
			b.WriteString(a.CAPath)
		}
	}
	return b.String()
}

// Literal returns the connect address when it needs no name lookup: an
// empty host (loopback) or an IPv4 literal.
func (a *Address) Literal() (netip.AddrPort, bool) {
	port := uint16(a.Port)
	if a.Host == "" {
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port), true
	}
	ip, err := netip.ParseAddr(a.Host)
	if err != nil {
		return netip.AddrPort{}, false
	}
	ip = ip.Unmap()
	if !ip.Is4() {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip, port), true
}

const resolveTimeout = 5 * time.Second

// Resolve maps the host to an IPv4 socket address. An empty host means all
// interfaces when listening and loopback when connecting.
func (a *Address) Resolve(listen bool) (netip.AddrPort, error) {
	port := uint16(a.Port)
	if a.Host == "" && listen {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), port), nil
	}
	if ap, ok := a.Literal(); ok {
		return ap, nil
	}
	if _, err := netip.ParseAddr(a.Host); err == nil {
		return netip.AddrPort{}, fmt.Errorf("%s: only IPv4 is supported", a.Host)
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", a.Host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("%s: no IPv4 address", a.Host)
	}
	return netip.AddrPortFrom(ips[0].Unmap(), port), nil
}
