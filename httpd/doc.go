// Package httpd
// Author: momentics <momentics@gmail.com>
//
// HTTP/1.x on top of the reactor: request detection and tokenizing, URI
// decoding and path normalization, a prefix router, static files with
// ETag, Range and conditional requests, keep-alive pipelining and the
// WebSocket upgrade.
//
// Everything runs on the reactor goroutine. Handlers must not block; work
// done elsewhere reports back through reactor.Manager.Submit.
package httpd
