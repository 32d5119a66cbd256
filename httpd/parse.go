// File: httpd/parse.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Header block detection and destructive tokenizing.

package httpd

import (
	"bytes"
	"strconv"

	"github.com/momentics/hioload-net/api"
)

// MaxHeaders is the number of headers kept per message. Further headers are
// dropped silently.
const MaxHeaders = 40

// Header is one name/value pair.
type Header struct {
	Name  []byte
	Value []byte
}

// Message is a parsed request or response head. Its slices alias the header
// block passed to ParseMessage.
type Message struct {
	IsResponse bool

	Method  []byte // requests
	URI     []byte // requests, percent-decoded
	RawURI  []byte // requests, as received without the query
	Query   []byte // requests, still encoded
	Version []byte // "1.1"

	Status int    // responses
	Reason []byte // responses

	Headers    [MaxHeaders]Header
	NumHeaders int
}

var methods = [][]byte{
	[]byte("GET"), []byte("POST"), []byte("PUT"), []byte("DELETE"), []byte("HEAD"),
	[]byte("OPTIONS"), []byte("PATCH"), []byte("CONNECT"), []byte("TRACE"),
}

func isMethod(b []byte) bool {
	for _, m := range methods {
		if bytes.Equal(b, m) {
			return true
		}
	}
	return false
}

func malformed(msg string) error {
	return api.NewError(api.ErrCodeMalformedRequest, msg)
}

// ScanHeaderEnd returns the length of the header block at the start of buf,
// terminator included, or 0 if the block is not complete yet. Besides
// "\r\n\r\n" it accepts "\n\n" and "\n\r\n" unless strict is set. Control
// bytes other than CR and LF are an error.
func ScanHeaderEnd(buf []byte, strict bool) (int, error) {
	for i, c := range buf {
		if c < 0x20 && c != '\r' && c != '\n' || c == 0x7f {
			return 0, malformed("control byte in header block")
		}
		if c != '\n' {
			continue
		}
		if strict {
			if i >= 3 && buf[i-3] == '\r' && buf[i-2] == '\n' && buf[i-1] == '\r' {
				return i + 1, nil
			}
			continue
		}
		if i+1 < len(buf) && buf[i+1] == '\n' {
			return i + 2, nil
		}
		if i+2 < len(buf) && buf[i+1] == '\r' && buf[i+2] == '\n' {
			return i + 3, nil
		}
	}
	return 0, nil
}

// nextToken returns the token at the start of b up to a space, and the rest
// after the run of spaces. The delimiter is overwritten with NUL.
func nextToken(b []byte) (tok, rest []byte) {
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return b, nil
	}
	tok = b[:i]
	b[i] = 0
	i++
	for i < len(b) && b[i] == ' ' {
		i++
	}
	return tok, b[i:]
}

// nextLine splits off one line ending in "\n" or "\r\n" and blanks the line
// terminator in place.
func nextLine(b []byte) (line, rest []byte) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return b, nil
	}
	line, rest = b[:i], b[i+1:]
	b[i] = 0
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line[n-1] = 0
		line = line[:n-1]
	}
	return line, rest
}

// ParseMessage tokenizes a header block found by ScanHeaderEnd. block is
// modified: delimiters are overwritten and the URI is decoded in place.
func ParseMessage(block []byte) (*Message, error) {
	m := &Message{}
	first, rest := nextLine(block)
	a, tail := nextToken(first)
	b, c := nextToken(tail)

	switch {
	case isMethod(a) && bytes.HasPrefix(c, []byte("HTTP/")):
		m.Method = a
		m.Version = c[len("HTTP/"):]
		if q := bytes.IndexByte(b, '?'); q >= 0 {
			m.Query = b[q+1:]
			b[q] = 0
			b = b[:q]
		}
		if len(b) == 0 {
			return nil, malformed("empty request uri")
		}
		m.RawURI = append([]byte(nil), b...)
		n, err := DecodeInPlace(b, false)
		if err != nil {
			return nil, err
		}
		m.URI = b[:n]
	case bytes.HasPrefix(a, []byte("HTTP/")):
		st, err := strconv.Atoi(string(b))
		if err != nil || len(b) != 3 {
			return nil, malformed("bad status code")
		}
		m.IsResponse = true
		m.Version = a[len("HTTP/"):]
		m.Status = st
		m.Reason = c
	default:
		return nil, malformed("bad request line")
	}
	if len(m.Version) == 0 {
		return nil, malformed("missing protocol version")
	}

	for len(rest) > 0 {
		var line []byte
		line, rest = nextLine(rest)
		if len(line) == 0 {
			break
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		if m.NumHeaders == MaxHeaders {
			continue
		}
		line[colon] = 0
		m.Headers[m.NumHeaders] = Header{
			Name:  bytes.TrimRight(line[:colon], " \t"),
			Value: bytes.Trim(line[colon+1:], " \t"),
		}
		m.NumHeaders++
	}
	return m, nil
}

// Header returns the value of the first header called name, compared
// case-insensitively, or nil.
func (m *Message) Header(name string) []byte {
	for i := 0; i < m.NumHeaders; i++ {
		if bytes.EqualFold(m.Headers[i].Name, []byte(name)) {
			return m.Headers[i].Value
		}
	}
	return nil
}

// HasHeader reports whether name is present.
func (m *Message) HasHeader(name string) bool {
	return m.Header(name) != nil
}

// ContentLength returns the Content-Length header, -1 if it is absent.
func (m *Message) ContentLength() (int, error) {
	v := m.Header("Content-Length")
	if v == nil {
		return -1, nil
	}
	n, err := strconv.Atoi(string(v))
	if err != nil || n < 0 {
		return 0, malformed("bad content-length")
	}
	return n, nil
}

// KeepAlive reports whether the connection stays open after this request:
// an explicit Connection header decides, otherwise only HTTP/1.1 GET does.
func (m *Message) KeepAlive() bool {
	if v := m.Header("Connection"); v != nil {
		if containsToken(v, "close") {
			return false
		}
		if containsToken(v, "keep-alive") {
			return true
		}
	}
	return string(m.Method) == "GET" && string(m.Version) == "1.1"
}

func containsToken(v []byte, tok string) bool {
	for _, p := range bytes.Split(v, []byte(",")) {
		if bytes.EqualFold(bytes.TrimSpace(p), []byte(tok)) {
			return true
		}
	}
	return false
}
