// File: protocol/handshake.go
// Author: momentics <momentics@gmail.com>
//
// Server side of the opening handshake.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"unicode/utf8"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketProto  = "Sec-WebSocket-Protocol"
	RequiredWebSocketVersion = "13"
)

// Close status codes.
const (
	CloseNormal          uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseUnsupported     uint16 = 1003
	CloseNoStatus        uint16 = 1005
	CloseInvalidPayload  uint16 = 1007
	CloseMessageTooBig   uint16 = 1009
	CloseInternalFailure uint16 = 1011
)

// AcceptKey computes Sec-WebSocket-Accept for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// AppendHandshakeResponse appends the 101 response for key. subprotocol may
// be empty.
func AppendHandshakeResponse(dst []byte, key, subprotocol string) []byte {
	dst = append(dst, "HTTP/1.1 101 Switching Protocols\r\n"...)
	dst = append(dst, HeaderUpgrade+": websocket\r\n"+HeaderConnection+": Upgrade\r\nSec-WebSocket-Accept: "...)
	dst = append(dst, AcceptKey(key)...)
	dst = append(dst, "\r\n"...)
	if subprotocol != "" {
		dst = append(dst, HeaderSecWebSocketProto+": "...)
		dst = append(dst, subprotocol...)
		dst = append(dst, "\r\n"...)
	}
	return append(dst, "\r\n"...)
}

// ClosePayload builds the body of a close frame.
func ClosePayload(code uint16, reason string) []byte {
	if len(reason) > MaxControlPayload-2 {
		reason = reason[:MaxControlPayload-2]
	}
	p := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), code)
	return append(p, reason...)
}

// ParseClosePayload splits a close frame body. An empty body means
// CloseNoStatus.
func ParseClosePayload(p []byte) (code uint16, reason string, err error) {
	switch {
	case len(p) == 0:
		return CloseNoStatus, "", nil
	case len(p) == 1:
		return 0, "", protocolError("truncated close payload")
	}
	code = binary.BigEndian.Uint16(p)
	if code < 1000 || code == CloseNoStatus || code == 1006 || code == 1015 || (code >= 1016 && code < 3000) {
		return 0, "", protocolError("invalid close code")
	}
	if !utf8.Valid(p[2:]) {
		return 0, "", protocolError("close reason is not utf-8")
	}
	return code, string(p[2:]), nil
}
