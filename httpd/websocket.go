// File: httpd/websocket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket upgrade and the frame layer of upgraded connections.

package httpd

import (
	"net/http"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/protocol"
	"github.com/momentics/hioload-net/reactor"
	"go.uber.org/zap"
)

// upgrade answers a request carrying Sec-WebSocket-Version and
// Sec-WebSocket-Key and hands the connection to a WebSocket.
func (s *Server) upgrade(x *Exchange) {
	if x.Method() != http.MethodGet {
		x.keepAlive = false
		x.ReplyError(http.StatusBadRequest)
		return
	}
	if x.Header(protocol.HeaderSecWebSocketVer) != protocol.RequiredWebSocketVersion {
		x.keepAlive = false
		x.SetHeader(protocol.HeaderSecWebSocketVer, protocol.RequiredWebSocketVersion)
		x.ReplyError(http.StatusUpgradeRequired)
		return
	}
	r, rest := s.match(x.Path, true)
	if r == nil {
		x.keepAlive = false
		x.ReplyError(http.StatusNotFound)
		return
	}
	x.PathInfo = rest
	c := x.Conn
	resp := protocol.AppendHandshakeResponse(nil, x.Header(protocol.HeaderSecWebSocketKey), "")
	if _, err := c.Write(resp); err != nil {
		c.Fail(err)
		return
	}
	x.replied = true
	x.status = http.StatusSwitchingProtocols
	c.Manager().Metrics().HTTPRequest(http.StatusSwitchingProtocols)

	ws := &WebSocket{c: c, h: r.ws, path: x.Path, maxPayload: s.opts.MaxFramePayload}
	c.SetProtocol(ws)
	c.Manager().Logger().Debug("websocket upgraded",
		zap.String("conn_id", c.ID().String()), zap.String("path", x.Path))
	if r.ws.Open != nil {
		r.ws.Open(ws, x)
	}
	if c.Recv().Len() > 0 && !c.Closing() {
		ws.OnRecv(c)
	}
}

// WebSocket is the protocol layer of an upgraded connection. Its methods
// run on the reactor goroutine; from elsewhere use reactor.Manager.Send
// with EncodeFrame, or Manager.Broadcast.
type WebSocket struct {
	c          *reactor.Conn
	h          *WebSocketHandlers
	path       string
	maxPayload int
	closeSent  bool

	// UserData is free for the application.
	UserData any
}

// EncodeFrame builds an unmasked final frame.
func EncodeFrame(op byte, payload []byte) []byte {
	return protocol.AppendFrame(nil, op, true, payload, nil)
}

func (ws *WebSocket) Kind() reactor.ProtocolKind { return reactor.KindWebSocket }

// Conn returns the underlying connection.
func (ws *WebSocket) Conn() *reactor.Conn { return ws.c }

// Path is the request path the connection was upgraded on.
func (ws *WebSocket) Path() string { return ws.path }

// SendFrame queues one final frame.
func (ws *WebSocket) SendFrame(op byte, payload []byte) error {
	if ws.closeSent {
		return api.ErrClosed
	}
	if _, err := ws.c.Write(EncodeFrame(op, payload)); err != nil {
		return err
	}
	ws.c.Manager().Metrics().WSFrame("out")
	return nil
}

// SendText queues a text frame.
func (ws *WebSocket) SendText(s string) error { return ws.SendFrame(protocol.OpText, []byte(s)) }

// SendBinary queues a binary frame.
func (ws *WebSocket) SendBinary(p []byte) error { return ws.SendFrame(protocol.OpBinary, p) }

// Close starts the closing handshake. The connection closes once the peer
// answers or the send queue drains after the answer.
func (ws *WebSocket) Close(code uint16, reason string) {
	if ws.closeSent {
		return
	}
	_ = ws.SendFrame(protocol.OpClose, protocol.ClosePayload(code, reason))
	ws.closeSent = true
}

// OnRecv decodes every complete frame in the receive queue. A frame's
// payload aliases the queue and is consumed after the handler returns.
func (ws *WebSocket) OnRecv(c *reactor.Conn) {
	for !c.Closing() && !c.Finishing() {
		f, n, err := protocol.DecodeFrame(c.Recv().Bytes(), ws.maxPayload)
		if err != nil {
			c.Fail(err)
			return
		}
		if n == 0 {
			return
		}
		if !f.Masked {
			c.Fail(api.NewError(api.ErrCodeMalformedRequest, "unmasked client frame"))
			return
		}
		c.Manager().Metrics().WSFrame("in")
		switch f.Opcode {
		case protocol.OpPing:
			_ = ws.SendFrame(protocol.OpPong, f.Payload)
		case protocol.OpPong:
		case protocol.OpClose:
			ws.onCloseFrame(f)
		default:
			if !ws.closeSent && ws.h.Message != nil {
				ws.h.Message(ws, f)
			}
		}
		c.Recv().Consume(n)
	}
}

func (ws *WebSocket) onCloseFrame(f protocol.Frame) {
	if !ws.closeSent {
		code, _, err := protocol.ParseClosePayload(f.Payload)
		switch {
		case err != nil:
			code = protocol.CloseProtocolError
		case code == protocol.CloseNoStatus:
			code = protocol.CloseNormal
		}
		_ = ws.SendFrame(protocol.OpClose, protocol.ClosePayload(code, ""))
		ws.closeSent = true
	}
	ws.c.FinishSending()
}

// OnClose runs the Close handler.
func (ws *WebSocket) OnClose(c *reactor.Conn) {
	if ws.h.Close != nil {
		ws.h.Close(ws)
	}
}

// OnBroadcast delivers a Manager.Broadcast payload.
func (ws *WebSocket) OnBroadcast(c *reactor.Conn, payload []byte) {
	if ws.h.Broadcast != nil {
		ws.h.Broadcast(ws, payload)
		return
	}
	_ = ws.SendFrame(protocol.OpText, payload)
}
