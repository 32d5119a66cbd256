// File: protocol/frame_codec_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/protocol"
)

func payload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}

func TestFrameRoundTrip(t *testing.T) {
	mask := [4]byte{0x11, 0x22, 0x33, 0x44}
	cases := []struct {
		n      int
		header int // unmasked header width
	}{
		{10, 2},
		{200, 4},
		{70000, 10},
	}
	for _, c := range cases {
		want := payload(c.n)

		server := protocol.AppendFrame(nil, protocol.OpText, true, want, nil)
		if hl := len(server) - c.n; hl != c.header || hl != protocol.HeaderLen(c.n, false) {
			t.Errorf("n=%d: server header %d bytes, want %d", c.n, hl, c.header)
		}
		if server[1]&protocol.MaskBit != 0 {
			t.Errorf("n=%d: server frame is masked", c.n)
		}

		client := protocol.AppendFrame(nil, protocol.OpText, true, want, &mask)
		if hl := len(client) - c.n; hl != c.header+4 {
			t.Errorf("n=%d: client header %d bytes", c.n, hl)
		}
		if bytes.Equal(client[c.header+4:], want) {
			t.Errorf("n=%d: payload not masked on the wire", c.n)
		}
		f, used, err := protocol.DecodeFrame(client, 1<<20)
		if err != nil || used != len(client) {
			t.Fatalf("n=%d: decode used=%d err=%v", c.n, used, err)
		}
		if !f.Fin || !f.Masked || f.Opcode != protocol.OpText || !bytes.Equal(f.Payload, want) {
			t.Errorf("n=%d: decoded frame differs", c.n)
		}
	}
}

func TestDecodeIncomplete(t *testing.T) {
	mask := [4]byte{1, 2, 3, 4}
	for _, n := range []int{0, 5, 126, 300, 65536} {
		frame := protocol.AppendFrame(nil, protocol.OpBinary, true, payload(n), &mask)
		for cut := 0; cut < len(frame); cut += 1 + len(frame)/64 {
			buf := append([]byte(nil), frame[:cut]...)
			_, used, err := protocol.DecodeFrame(buf, 0)
			if err != nil || used != 0 {
				t.Fatalf("n=%d cut=%d: used=%d err=%v", n, cut, used, err)
			}
		}
	}
}

func TestDecodeLeavesFollowingFrame(t *testing.T) {
	buf := protocol.AppendFrame(nil, protocol.OpText, true, []byte("one"), nil)
	first := len(buf)
	buf = protocol.AppendFrame(buf, protocol.OpText, true, []byte("two"), nil)
	f, used, err := protocol.DecodeFrame(buf, 0)
	if err != nil || used != first || string(f.Payload) != "one" {
		t.Fatalf("first: %q used=%d err=%v", f.Payload, used, err)
	}
	f, used, err = protocol.DecodeFrame(buf[used:], 0)
	if err != nil || string(f.Payload) != "two" || used != len(buf)-first {
		t.Fatalf("second: %q used=%d err=%v", f.Payload, used, err)
	}
}

func TestDecodeErrors(t *testing.T) {
	big := protocol.AppendFrame(nil, protocol.OpBinary, true, payload(2000), nil)
	if _, _, err := protocol.DecodeFrame(big, 1000); !errors.Is(err, api.ErrOversizedRequest) {
		t.Errorf("oversized: %v", err)
	}
	bad := map[string][]byte{
		"rsv":             {0xC1, 0x00},
		"opcode":          {0x83, 0x00},
		"fragmented ping": {0x09, 0x00},
		"long ping":       protocol.AppendFrame(nil, protocol.OpPing, true, payload(126), nil),
	}
	for name, b := range bad {
		if _, _, err := protocol.DecodeFrame(b, 0); !errors.Is(err, api.ErrMalformedRequest) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestAcceptKey(t *testing.T) {
	// RFC 6455 section 1.3.
	if got := protocol.AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("AcceptKey = %q", got)
	}
	resp := string(protocol.AppendHandshakeResponse(nil, "dGhlIHNhbXBsZSBub25jZQ==", "chat"))
	want := "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\nSec-WebSocket-Protocol: chat\r\n\r\n"
	if resp != want {
		t.Fatalf("response:\n%q\nwant\n%q", resp, want)
	}
}

func TestClosePayload(t *testing.T) {
	p := protocol.ClosePayload(protocol.CloseGoingAway, "bye")
	code, reason, err := protocol.ParseClosePayload(p)
	if err != nil || code != protocol.CloseGoingAway || reason != "bye" {
		t.Fatalf("got %d %q %v", code, reason, err)
	}
	if code, _, err := protocol.ParseClosePayload(nil); err != nil || code != protocol.CloseNoStatus {
		t.Fatalf("empty: %d %v", code, err)
	}
	for _, b := range [][]byte{{0x03}, {0x03, 0xED}, {0x03, 0xE8, 0xff}} {
		if _, _, err := protocol.ParseClosePayload(b); err == nil {
			t.Errorf("ParseClosePayload(%x) accepted", b)
		}
	}
}
