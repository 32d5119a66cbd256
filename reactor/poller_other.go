//go:build !linux
// +build !linux

// File: reactor/poller_other.go
// Author: momentics <momentics@gmail.com>
//
// Stub for unsupported platforms. New already fails there because the wake
// channel is unavailable.

package reactor

import (
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/transport"
)

type pollSet struct{}

func (p *pollSet) reset() {}
func (p *pollSet) add(fd transport.Socket, read, write bool) {}
func (p *pollSet) wait(timeout time.Duration) (int, error) { return 0, api.ErrNotSupported }
func (p *pollSet) readable(i int) bool { return false }
func (p *pollSet) writable(i int) bool { return false }
