//go:build linux
// +build linux

// internal/transport/tls_linux.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TLS bridge. crypto/tls needs a blocking net.Conn, so the TLS session runs
// on its own goroutines and the reactor polls the plaintext end of a socket
// pair like any other connection.

package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"os"
	"sync"

	"github.com/momentics/hioload-net/api"
)

// fileConn turns s into a net.Conn. Ownership of s moves to the result.
func fileConn(s Socket, name string) (net.Conn, error) {
	f := os.NewFile(uintptr(s), name)
	c, err := net.FileConn(f)
	f.Close()
	return c, err
}

// ServerTLS takes ownership of the accepted socket raw, performs the server
// handshake in the background and returns the plaintext socket for the
// reactor. done is called exactly once with the handshake result, from a
// goroutine other than the caller's.
func ServerTLS(raw Socket, cfg *tls.Config, done func(error)) (Socket, error) {
	inner, outer, err := socketPair()
	if err != nil {
		Close(raw)
		return InvalidSocket, err
	}
	rc, err := fileConn(raw, "tls-raw")
	if err != nil {
		Close(inner)
		Close(outer)
		return InvalidSocket, err
	}
	pc, err := fileConn(outer, "tls-plain")
	if err != nil {
		rc.Close()
		Close(inner)
		return InvalidSocket, err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout)
		tc := tls.Server(rc, cfg)
		err := tc.HandshakeContext(ctx)
		cancel()
		if err != nil {
			done(api.NewError(api.ErrCodeTLSHandshake, "server handshake").Wrap(err))
			tc.Close()
			pc.Close()
			return
		}
		done(nil)
		pump(tc, pc)
	}()
	return inner, nil
}

// ClientTLS dials a in the background, performs the client handshake and
// returns the plaintext socket immediately. Bytes the reactor writes before
// the handshake completes wait in the socket pair.
func ClientTLS(a *Address, cfg *tls.Config, done func(error)) (Socket, error) {
	inner, outer, err := socketPair()
	if err != nil {
		return InvalidSocket, api.NewError(api.ErrCodeConnect, "socketpair").Wrap(err)
	}
	pc, err := fileConn(outer, "tls-plain")
	if err != nil {
		Close(inner)
		return InvalidSocket, api.NewError(api.ErrCodeConnect, "socketpair").Wrap(err)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout)
		defer cancel()
		ap, err := a.Resolve(false)
		if err != nil {
			done(api.NewError(api.ErrCodeConnect, "resolve "+a.String()).Wrap(err))
			pc.Close()
			return
		}
		var d net.Dialer
		rc, err := d.DialContext(ctx, "tcp", ap.String())
		if err != nil {
			done(api.NewError(api.ErrCodeConnect, "dial "+a.String()).Wrap(err))
			pc.Close()
			return
		}
		tc := tls.Client(rc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			done(api.NewError(api.ErrCodeTLSHandshake, "client handshake").Wrap(err))
			tc.Close()
			pc.Close()
			return
		}
		done(nil)
		pump(tc, pc)
	}()
	return inner, nil
}

// pump copies both directions. The TLS peer's EOF becomes a half-close on
// the plaintext side; the reactor closing its end tears everything down.
func pump(tc *tls.Conn, pc net.Conn) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(pc, tc)
		if cw, ok := pc.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()
	_, _ = io.Copy(tc, pc)
	_ = tc.Close()
	_ = pc.Close()
	wg.Wait()
}
