// File: httpd/limits_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package httpd_test

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/momentics/hioload-net/httpd"
	"github.com/momentics/hioload-net/protocol"
	"github.com/momentics/hioload-net/reactor"
)

func TestServerRecvLimit(t *testing.T) {
	cases := []struct {
		name string
		opts httpd.Options
		want int
	}{
		{"defaults", httpd.Options{}, httpd.DefaultMaxHeaderSize + protocol.DefaultMaxPayload + 14},
		{"body", httpd.Options{MaxBodySize: 4 << 20}, httpd.DefaultMaxHeaderSize + 4<<20},
		{"frame", httpd.Options{MaxHeaderSize: 1024, MaxBodySize: 100, MaxFramePayload: 200}, 1024 + 200 + 8},
	}
	for _, c := range cases {
		if got := httpd.New(c.opts).RecvLimit(); got != c.want {
			t.Errorf("%s: RecvLimit = %d, want %d", c.name, got, c.want)
		}
	}
}

// bodyLen replies with the number of body bytes it was handed and the
// connection's receive cap.
func bodyLen(x *httpd.Exchange) {
	x.ReplyString(http.StatusOK, strconv.Itoa(len(x.Body))+" "+strconv.Itoa(x.Conn.RecvLimit()))
}

func TestBodyAtLimit(t *testing.T) {
	const limit = 2 << 20
	cases := []struct {
		name   string
		opts   []reactor.Option
		limit  int
		size   int
		status int
	}{
		{"below", nil, limit, limit - 1, http.StatusOK},
		{"at", nil, limit, limit, http.StatusOK},
		{"above", nil, limit, limit + 1, http.StatusRequestEntityTooLarge},
		{"small reactor cap", []reactor.Option{reactor.WithMaxRecv(64 << 10)}, 1 << 20, 1 << 20, http.StatusOK},
		{"unbounded reactor", []reactor.Option{reactor.WithMaxRecv(0)}, 1 << 20, 1 << 20, http.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httpd.New(httpd.Options{MaxBodySize: c.limit})
			srv.Handle("/len", bodyLen)
			_, addr := serve(t, srv, c.opts...)
			cl := dial(t, addr)

			head := "POST /len HTTP/1.1\r\nContent-Length: " + strconv.Itoa(c.size) + "\r\n\r\n"
			if c.status != http.StatusOK {
				cl.send(head)
				resp, _ := cl.read(http.MethodPost)
				if resp.StatusCode != c.status {
					t.Fatalf("status %d, want %d", resp.StatusCode, c.status)
				}
				return
			}
			cl.send(head + strings.Repeat("b", c.size))
			resp, body := cl.read(http.MethodPost)
			if resp.StatusCode != c.status {
				t.Fatalf("status %d, want %d", resp.StatusCode, c.status)
			}
			fields := strings.Fields(body)
			if len(fields) != 2 || fields[0] != strconv.Itoa(c.size) {
				t.Fatalf("body %q", body)
			}
			if lim, _ := strconv.Atoi(fields[1]); lim != 0 && lim < srv.RecvLimit() {
				t.Fatalf("receive cap %d below %d", lim, srv.RecvLimit())
			}
		})
	}
}

// upgrade performs a raw opening handshake on cl.
func upgrade(t *testing.T, cl *client, path string) {
	t.Helper()
	cl.send("GET " + path + " HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Version: 13\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n")
	line, err := cl.br.ReadString('\n')
	if err != nil || !strings.Contains(line, "101") {
		t.Fatalf("status line %q %v", line, err)
	}
	for line != "\r\n" {
		if line, err = cl.br.ReadString('\n'); err != nil {
			t.Fatal(err)
		}
	}
}

func maskedFrame(op byte, payload []byte) []byte {
	key := [4]byte{0x5a, 0x01, 0xc3, 0x7e}
	return protocol.AppendFrame(nil, op, true, payload, &key)
}

// readFrame reads one server frame from cl.
func readFrame(t *testing.T, cl *client, maxPayload int) protocol.Frame {
	t.Helper()
	var buf []byte
	chunk := make([]byte, 64<<10)
	for {
		f, n, err := protocol.DecodeFrame(buf, maxPayload)
		if err != nil {
			t.Fatal(err)
		}
		if n > 0 {
			return f
		}
		k, err := cl.br.Read(chunk)
		if err != nil {
			t.Fatalf("read after %d bytes: %v", len(buf), err)
		}
		buf = append(buf, chunk[:k]...)
	}
}

func TestFrameAtLimit(t *testing.T) {
	cases := []struct {
		name  string
		limit int // MaxFramePayload, 0 for the default
		opts  []reactor.Option
		size  int
		ok    bool
	}{
		{"default below", 0, nil, protocol.DefaultMaxPayload - 1, true},
		{"default at", 0, nil, protocol.DefaultMaxPayload, true},
		{"default above", 0, nil, protocol.DefaultMaxPayload + 1, false},
		{"large at", 3 << 20, nil, 3 << 20, true},
		{"small reactor cap", 0, []reactor.Option{reactor.WithMaxRecv(4096)}, protocol.DefaultMaxPayload, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httpd.New(httpd.Options{MaxFramePayload: c.limit})
			srv.HandleWebSocket("/ws", httpd.WebSocketHandlers{
				Message: func(ws *httpd.WebSocket, f protocol.Frame) { ws.SendFrame(f.Opcode, f.Payload) },
			})
			_, addr := serve(t, srv, c.opts...)
			cl := dial(t, addr)
			upgrade(t, cl, "/ws")

			payload := bytes.Repeat([]byte{0xa5}, c.size)
			frame := maskedFrame(protocol.OpBinary, payload)
			if !c.ok {
				// The server gives up once the header is decoded.
				go cl.c.Write(frame)
				cl.expectEOF()
				return
			}
			done := make(chan error, 1)
			go func() {
				_, err := cl.c.Write(frame)
				done <- err
			}()
			f := readFrame(t, cl, c.size)
			if err := <-done; err != nil {
				t.Fatal(err)
			}
			if f.Opcode != protocol.OpBinary || !bytes.Equal(f.Payload, payload) {
				t.Fatalf("echo: op %d, %d bytes", f.Opcode, len(f.Payload))
			}
		})
	}
}
