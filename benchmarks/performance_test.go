// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-net components.

package benchmarks

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/httpd"
	"github.com/momentics/hioload-net/internal/transport"
	"github.com/momentics/hioload-net/pool"
	"github.com/momentics/hioload-net/protocol"
	"github.com/momentics/hioload-net/reactor"
)

var request = []byte("GET /api/status?verbose=1 HTTP/1.1\r\n" +
	"Host: bench.local\r\n" +
	"User-Agent: bench/1.0\r\n" +
	"Accept: */*\r\n" +
	"Connection: keep-alive\r\n\r\n")

// BenchmarkScratchPool measures the read scratch pool under contention.
func BenchmarkScratchPool(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := pool.Scratch.GetBuffer()
			(*buf)[0] = 1
			pool.Scratch.PutBuffer(buf)
		}
	})
}

// BenchmarkIOBufferAppendConsume feeds a queue the way the reactor does:
// append a read, consume what the protocol parsed.
func BenchmarkIOBufferAppendConsume(b *testing.B) {
	q := buffer.New(buffer.DefaultSize)
	chunk := bytes.Repeat([]byte{'x'}, 1500)
	b.SetBytes(int64(len(chunk)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Append(chunk)
		q.Consume(q.Len())
	}
}

// BenchmarkHeaderScan locates the end of a request head.
func BenchmarkHeaderScan(b *testing.B) {
	b.SetBytes(int64(len(request)))
	for i := 0; i < b.N; i++ {
		if n, err := httpd.ScanHeaderEnd(request, false); err != nil || n != len(request) {
			b.Fatalf("scan = %d %v", n, err)
		}
	}
}

// BenchmarkParseMessage parses a complete request head.
func BenchmarkParseMessage(b *testing.B) {
	b.SetBytes(int64(len(request)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m, err := httpd.ParseMessage(request)
		if err != nil {
			b.Fatal(err)
		}
		if !m.KeepAlive() {
			b.Fatal("keep-alive lost")
		}
	}
}

// BenchmarkFrameCodec encodes a masked frame and decodes it back.
func BenchmarkFrameCodec(b *testing.B) {
	for _, size := range []int{16, 1024, 64 << 10} {
		payload := bytes.Repeat([]byte{'p'}, size)
		b.Run(byteSize(size), func(b *testing.B) {
			mask := [4]byte{1, 2, 3, 4}
			dst := make([]byte, 0, protocol.HeaderLen(size, true)+size)
			b.SetBytes(int64(size))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				dst = protocol.AppendFrame(dst[:0], protocol.OpBinary, true, payload, &mask)
				f, n, err := protocol.DecodeFrame(dst, 0)
				if err != nil || n != len(dst) || len(f.Payload) != size {
					b.Fatalf("decode = %d %v", n, err)
				}
			}
		})
	}
}

type echo struct{}

func (echo) Kind() reactor.ProtocolKind { return reactor.Unclassified }
func (echo) OnClose(*reactor.Conn)      {}
func (echo) OnRecv(c *reactor.Conn) {
	c.Write(c.Recv().Bytes())
	c.Recv().Consume(c.Recv().Len())
}

// BenchmarkReactorEcho round-trips 512 bytes over loopback through one
// reactor goroutine.
func BenchmarkReactorEcho(b *testing.B) {
	m, err := reactor.New()
	if err != nil {
		b.Fatal(err)
	}
	l, err := m.ListenAddress(&transport.Address{Proto: transport.ProtoTCP, Host: "127.0.0.1"},
		func(*reactor.Conn) reactor.Protocol { return echo{} })
	if err != nil {
		b.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
		m.Close()
	}()

	conn, err := net.Dial("tcp", l.LocalAddr().String())
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()
	msg := bytes.Repeat([]byte{'e'}, 512)
	reply := make([]byte, len(msg))
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write(msg); err != nil {
			b.Fatal(err)
		}
		if _, err := io.ReadFull(conn, reply); err != nil {
			b.Fatal(err)
		}
	}
}

func byteSize(n int) string {
	if n >= 1<<10 && n%(1<<10) == 0 {
		return strconv.Itoa(n>>10) + "KiB"
	}
	return strconv.Itoa(n) + "B"
}
