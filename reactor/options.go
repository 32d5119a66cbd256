// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"time"

	"github.com/momentics/hioload-net/acl"
	"github.com/momentics/hioload-net/control"
	"go.uber.org/zap"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the reactor and its protocol layers.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithIdleTimeout evicts connections without I/O for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idle = d }
}

// WithPollInterval sets the per-iteration wait budget used by Run.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithACL installs the admission rules applied on accept.
func WithACL(l *acl.List) Option {
	return func(m *Manager) { m.acl = l }
}

// WithMetrics reports reactor activity to mt.
func WithMetrics(mt *control.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithDebugProbes registers the reactor's probes on dp.
func WithDebugProbes(dp *control.DebugProbes) Option {
	return func(m *Manager) { m.probes = dp }
}

// WithMaxRecv sets the default receive queue cap of stream connections.
// A connection whose queue is still full after OnRecv fails with
// api.ErrOversizedRequest; protocols may raise the cap per connection with
// Conn.SetRecvLimit. Zero means unbounded.
func WithMaxRecv(n int) Option {
	return func(m *Manager) { m.maxRecv = n }
}

// WithBroadcastHandler installs the callback run once per active connection
// for every Broadcast.
func WithBroadcastHandler(fn func(c *Conn, payload []byte)) Option {
	return func(m *Manager) { m.onBroadcast = fn }
}

// WithEventHook installs a callback observing every connection event.
func WithEventHook(fn func(c *Conn, ev Event)) Option {
	return func(m *Manager) { m.hook = fn }
}
