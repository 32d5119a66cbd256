// File: reactor/protocol.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

// Protocol is the layer that interprets a connection's bytes. All methods run
// on the reactor goroutine and must not block.
type Protocol interface {
	Kind() ProtocolKind
	// OnRecv is called after new bytes were appended to c.Recv().
	OnRecv(c *Conn)
	// OnClose is called once, right before c is destroyed.
	OnClose(c *Conn)
}

// Acceptor is implemented by protocols that want to know when an accepted
// connection enters the reactor.
type Acceptor interface {
	OnAccept(c *Conn)
}

// Connector is implemented by protocols on outbound connections. err is nil
// when the connection (and its TLS handshake, if any) succeeded.
type Connector interface {
	OnConnect(c *Conn, err error)
}

// Drainer is implemented by protocols that continue work once everything
// queued on c has been written.
type Drainer interface {
	OnDrain(c *Conn)
}

// Broadcaster receives Manager.Broadcast payloads when no manager-wide
// broadcast handler is installed.
type Broadcaster interface {
	OnBroadcast(c *Conn, payload []byte)
}

// Factory returns the protocol for a connection accepted on a listener. It
// may return nil to leave the connection unclassified.
type Factory func(c *Conn) Protocol
