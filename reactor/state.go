// File: reactor/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection state. Each concern has its own enum so that combinations such
// as "listening and connecting" cannot be expressed.

package reactor

// Role says what kind of socket a connection wraps.
type Role uint8

const (
	RoleStream   Role = iota // accepted or outbound TCP/UDP socket
	RoleListener             // listening TCP or bound UDP socket
	RoleDatagram             // one inbound datagram on a UDP listener
)

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleDatagram:
		return "datagram"
	default:
		return "stream"
	}
}

// Lifecycle is the connection's position between creation and removal.
type Lifecycle uint8

const (
	Connecting Lifecycle = iota // outbound handshake in progress
	Open
	Closing // removed by the end-of-iteration sweep
)

func (l Lifecycle) String() string {
	switch l {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "closing"
	}
}

// SendState is the half-close concern.
type SendState uint8

const (
	Sending   SendState = iota
	Finishing           // close once the send queue drains
)

// TLSState tracks the TLS bridge of an ssl:// connection.
type TLSState uint8

const (
	TLSNone TLSState = iota
	TLSHandshaking
	TLSEstablished
)

func (s TLSState) String() string {
	switch s {
	case TLSHandshaking:
		return "handshaking"
	case TLSEstablished:
		return "established"
	default:
		return "none"
	}
}

// ProtocolKind names the layer that owns a connection.
type ProtocolKind uint8

const (
	Unclassified ProtocolKind = iota
	KindHTTP
	KindWebSocket
	KindRelay
)

func (k ProtocolKind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindWebSocket:
		return "websocket"
	case KindRelay:
		return "relay"
	default:
		return "unclassified"
	}
}

// Event identifies a connection event passed to the event hook.
type Event uint8

const (
	EventAccept Event = iota + 1
	EventConnect
	EventRecv
	EventSend
	EventPoll
	EventClose
)

func (e Event) String() string {
	switch e {
	case EventAccept:
		return "accept"
	case EventConnect:
		return "connect"
	case EventRecv:
		return "recv"
	case EventSend:
		return "send"
	case EventPoll:
		return "poll"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}
