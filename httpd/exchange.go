// File: httpd/exchange.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request accessors and response writers handed to handlers.

package httpd

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/momentics/hioload-net/protocol"
	"github.com/momentics/hioload-net/reactor"
)

// Exchange is one request and its response. It is valid until the handler
// returns; keep nothing from it afterwards.
type Exchange struct {
	Conn    *reactor.Conn
	Request *Message
	// Path is the decoded, normalized request path.
	Path string
	// PathInfo is the part of Path below the matched handler pattern.
	PathInfo string
	// Body holds Content-Length bytes of request body, if any.
	Body []byte

	ss        *session
	headers   []Header
	keepAlive bool
	head      bool
	replied   bool
	chunked   bool
	status    int
}

func newExchange(ss *session, c *reactor.Conn, m *Message) *Exchange {
	return &Exchange{
		Conn:      c,
		Request:   m,
		Path:      NormalizePath(string(m.URI)),
		ss:        ss,
		keepAlive: m.KeepAlive(),
		head:      string(m.Method) == http.MethodHead,
	}
}

// Method returns the request method.
func (x *Exchange) Method() string { return string(x.Request.Method) }

// Header returns a request header, compared case-insensitively.
func (x *Exchange) Header(name string) string { return string(x.Request.Header(name)) }

// QueryVar returns a form-decoded query string variable.
func (x *Exchange) QueryVar(name string) (string, bool) {
	return Var(string(x.Request.Query), name)
}

// FormVar returns a variable from an urlencoded request body.
func (x *Exchange) FormVar(name string) (string, bool) {
	return Var(string(x.Body), name)
}

// KeepAlive reports whether the connection stays open after the response.
func (x *Exchange) KeepAlive() bool { return x.keepAlive }

// Status is the status sent, 0 before a reply.
func (x *Exchange) Status() int { return x.status }

func (x *Exchange) isUpgrade() bool {
	return x.Request.HasHeader(protocol.HeaderSecWebSocketVer) && x.Request.HasHeader(protocol.HeaderSecWebSocketKey)
}

// SetHeader adds a response header. Call it before replying.
func (x *Exchange) SetHeader(name, value string) {
	x.headers = append(x.headers, Header{Name: []byte(name), Value: []byte(value)})
}

// writeHead queues the status line and headers. n < 0 selects chunked
// encoding.
func (x *Exchange) writeHead(status int, n int64) {
	x.status = status
	x.replied = true
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(status))
	b.WriteByte(' ')
	b.WriteString(http.StatusText(status))
	b.WriteString("\r\n")
	if name := x.ss.srv.opts.ServerName; name != "" {
		b.WriteString("Server: " + name + "\r\n")
	}
	for _, h := range x.headers {
		b.Write(h.Name)
		b.WriteString(": ")
		b.Write(h.Value)
		b.WriteString("\r\n")
	}
	switch {
	case n < 0:
		b.WriteString("Transfer-Encoding: chunked\r\n")
	case status != http.StatusNotModified && status >= 200 && status != http.StatusNoContent:
		b.WriteString("Content-Length: " + strconv.FormatInt(n, 10) + "\r\n")
	}
	if x.keepAlive {
		b.WriteString("Connection: keep-alive\r\n")
	} else {
		b.WriteString("Connection: close\r\n")
	}
	b.WriteString("\r\n")
	x.write(b.Bytes())
	x.Conn.Manager().Metrics().HTTPRequest(status)
}

func (x *Exchange) write(p []byte) {
	if _, err := x.Conn.Write(p); err != nil {
		x.Conn.Fail(err)
	}
}

// Reply sends a complete response with body. HEAD requests get the headers
// only.
func (x *Exchange) Reply(status int, body []byte) {
	if x.replied {
		return
	}
	x.writeHead(status, int64(len(body)))
	if !x.head && len(body) > 0 {
		x.write(body)
	}
	x.ss.done(x.Conn, x.keepAlive)
}

// ReplyString is Reply with a text/plain body.
func (x *Exchange) ReplyString(status int, body string) {
	x.SetHeader("Content-Type", "text/plain; charset=utf-8")
	x.Reply(status, []byte(body))
}

// ReplyError sends the standard reason phrase as body.
func (x *Exchange) ReplyError(status int) {
	x.ReplyString(status, strconv.Itoa(status)+" "+http.StatusText(status)+"\n")
}

// Redirect sends a redirect to location.
func (x *Exchange) Redirect(status int, location string) {
	x.SetHeader("Location", location)
	x.ReplyString(status, "")
}

// StartChunked sends the head of a chunked response; follow with WriteChunk
// and EndChunked.
func (x *Exchange) StartChunked(status int) {
	if x.replied {
		return
	}
	x.chunked = true
	x.writeHead(status, -1)
}

// WriteChunk sends one chunk. Empty chunks are skipped since they would
// terminate the body.
func (x *Exchange) WriteChunk(p []byte) {
	if !x.chunked || len(p) == 0 || x.head {
		return
	}
	x.write([]byte(strconv.FormatInt(int64(len(p)), 16) + "\r\n"))
	x.write(p)
	x.write([]byte("\r\n"))
}

// EndChunked terminates a chunked response.
func (x *Exchange) EndChunked() {
	if !x.chunked {
		return
	}
	x.chunked = false
	if !x.head {
		x.write([]byte("0\r\n\r\n"))
	}
	x.ss.done(x.Conn, x.keepAlive)
}
