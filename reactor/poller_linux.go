//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// poll(2) readiness set, rebuilt every iteration.

package reactor

import (
	"errors"
	"time"

	"github.com/momentics/hioload-net/internal/transport"
	"golang.org/x/sys/unix"
)

type pollSet struct {
	fds []unix.PollFd
}

func (p *pollSet) reset() { p.fds = p.fds[:0] }

func (p *pollSet) add(fd transport.Socket, read, write bool) {
	var ev int16
	if read {
		ev |= unix.POLLIN
	}
	if write {
		ev |= unix.POLLOUT
	}
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: ev})
}

// wait blocks up to timeout; a negative timeout blocks indefinitely.
func (p *pollSet) wait(timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.Poll(p.fds, ms)
	if errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	return n, err
}

func (p *pollSet) readable(i int) bool {
	return p.fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
}

func (p *pollSet) writable(i int) bool {
	return p.fds[i].Revents&(unix.POLLOUT|unix.POLLERR) != 0
}
