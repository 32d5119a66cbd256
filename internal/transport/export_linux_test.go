//go:build linux

// File: internal/transport/export_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import "golang.org/x/sys/unix"

// ErrAgainForTest is a temporary error for retry helpers.
var ErrAgainForTest error = unix.EAGAIN
