// File: httpd/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection request state machine.

package httpd

import (
	"io"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/reactor"
	"go.uber.org/zap"
)

type sessionState uint8

const (
	awaitingHeaders sessionState = iota
	awaitingBody
	dispatched
	responseSent
)

func (s sessionState) String() string {
	switch s {
	case awaitingHeaders:
		return "awaiting_headers"
	case awaitingBody:
		return "awaiting_body"
	case dispatched:
		return "dispatched"
	case responseSent:
		return "response_sent"
	}
	return "unknown"
}

// session is the HTTP protocol layer of one connection.
type session struct {
	srv   *Server
	state sessionState
	req   *Message
	need  int
	x     *Exchange
	body  io.ReadCloser // static file still being streamed
	left  int64
}

func (ss *session) Kind() reactor.ProtocolKind { return reactor.KindHTTP }

func (ss *session) OnRecv(c *reactor.Conn) { ss.process(c) }

func (ss *session) OnClose(c *reactor.Conn) {
	ss.closeBody()
	ss.x = nil
	ss.req = nil
}

// OnDrain continues a streamed file or, once the response is out, starts
// on the next pipelined request.
func (ss *session) OnDrain(c *reactor.Conn) {
	if ss.body != nil {
		ss.pumpBody(c)
		return
	}
	if ss.state != responseSent {
		return
	}
	ss.reset()
	ss.process(c)
}

func (ss *session) reset() {
	ss.state = awaitingHeaders
	ss.req = nil
	ss.x = nil
	ss.need = 0
}

// process handles every complete request already buffered. Pipelined
// requests are taken one at a time: the loop stops while a response is
// being sent and OnDrain resumes it.
func (ss *session) process(c *reactor.Conn) {
	opts := &ss.srv.opts
	for !c.Closing() && !c.Finishing() && c.Protocol() == reactor.Protocol(ss) {
		switch ss.state {
		case awaitingHeaders:
			buf := c.Recv().Bytes()
			n, err := ScanHeaderEnd(buf, opts.StrictTerminator)
			if err != nil {
				c.Fail(err)
				return
			}
			if n == 0 || n > opts.MaxHeaderSize {
				if len(buf) > opts.MaxHeaderSize {
					c.Fail(api.NewError(api.ErrCodeOversizedRequest, "header block too large"))
				}
				return
			}
			block := append([]byte(nil), buf[:n]...)
			c.Recv().Consume(n)
			m, err := ParseMessage(block)
			if err == nil && m.IsResponse {
				err = malformed("response on a server connection")
			}
			if err != nil {
				c.Fail(err)
				return
			}
			ss.begin(c, m)
		case awaitingBody:
			if c.Recv().Len() < ss.need {
				return
			}
			body := append([]byte(nil), c.Recv().Bytes()[:ss.need]...)
			c.Recv().Consume(ss.need)
			ss.x.Body = body
			ss.dispatch(c)
		default:
			return
		}
	}
}

// begin sets up the exchange for a freshly parsed request head and decides
// whether a body has to be collected first.
func (ss *session) begin(c *reactor.Conn, m *Message) {
	ss.req = m
	ss.x = newExchange(ss, c, m)
	ss.state = dispatched
	if m.HasHeader("Transfer-Encoding") {
		ss.x.keepAlive = false
		ss.x.ReplyError(411)
		return
	}
	n, err := m.ContentLength()
	if err != nil {
		c.Fail(err)
		return
	}
	if n > ss.srv.opts.MaxBodySize {
		ss.x.keepAlive = false
		ss.x.ReplyError(413)
		return
	}
	if n > 0 {
		ss.need = n
		ss.state = awaitingBody
		return
	}
	ss.dispatch(c)
}

func (ss *session) dispatch(c *reactor.Conn) {
	ss.state = dispatched
	x := ss.x
	if x.isUpgrade() {
		ss.srv.upgrade(x)
		return
	}
	if r, rest := ss.srv.match(x.Path, false); r != nil {
		x.PathInfo = rest
		r.handler(x)
		switch {
		case c.Closing():
		case !x.replied:
			c.Manager().Logger().Warn("handler returned without a reply",
				zap.String("path", x.Path), zap.Stringer("remote_addr", c.Peer()))
			x.ReplyError(500)
		case x.chunked:
			c.Manager().Logger().Warn("handler returned with an open chunked reply",
				zap.String("path", x.Path), zap.Stringer("remote_addr", c.Peer()))
			x.EndChunked()
		}
		return
	}
	ss.srv.serveStatic(x)
}

// done is called by the exchange once the whole response is queued.
func (ss *session) done(c *reactor.Conn, keepAlive bool) {
	ss.state = responseSent
	if !keepAlive {
		c.FinishSending()
	}
}

// stream queues the first part of r and keeps the rest for OnDrain.
func (ss *session) stream(c *reactor.Conn, r io.ReadCloser, n int64) {
	ss.body = r
	ss.left = n
	ss.pumpBody(c)
}

// streamChunk bounds what a streamed body adds to the send queue at once.
const streamChunk = 64 << 10

func (ss *session) pumpBody(c *reactor.Conn) {
	chunk := ss.left
	if chunk > streamChunk {
		chunk = streamChunk
	}
	buf := make([]byte, chunk)
	n, err := io.ReadFull(ss.body, buf)
	if n > 0 {
		if _, werr := c.Write(buf[:n]); werr != nil {
			c.Fail(werr)
			ss.closeBody()
			return
		}
		ss.left -= int64(n)
	}
	if err != nil && ss.left > 0 {
		c.Fail(api.NewError(api.ErrCodeIO, "read file").Wrap(err))
		ss.closeBody()
		return
	}
	if ss.left <= 0 {
		ss.closeBody()
		ss.done(c, ss.x != nil && ss.x.keepAlive)
	}
}

func (ss *session) closeBody() {
	if ss.body != nil {
		_ = ss.body.Close()
		ss.body = nil
	}
	ss.left = 0
}
