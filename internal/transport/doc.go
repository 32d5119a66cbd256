// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking socket primitives for the reactor: listen/connect address
// parsing, listening sockets, outbound connects whose completion is observed
// through writability, the socketpair wake channel and the TLS bridge that
// exposes a TLS session as a plaintext socket. Platform code is split by
// build tags; unsupported platforms get stubs returning api.ErrNotSupported.

package transport
