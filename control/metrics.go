// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus instrumentation for the reactor and its protocol layers. All
// methods are safe on a nil *Metrics.

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors, registered on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	accepted     prometheus.Counter
	rejected     prometheus.Counter
	closed       *prometheus.CounterVec
	idleEvicted  prometheus.Counter
	active       prometheus.Gauge
	bytesIn      prometheus.Counter
	bytesOut     prometheus.Counter
	httpRequests *prometheus.CounterVec
	wsFrames     *prometheus.CounterVec
	relayBytes   *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace (default "hioload").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hioload"
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_accepted_total",
			Help: "Connections admitted by the reactor",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_rejected_total",
			Help: "Connections refused by the ACL",
		}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_closed_total",
			Help: "Connections destroyed by the sweep",
		}, []string{"reason"}),
		idleEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_idle_evicted_total",
			Help: "Connections removed by the idle timeout",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Connections currently owned by the reactor",
		}),
		bytesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total",
			Help: "Bytes read from sockets",
		}),
		bytesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Bytes written to sockets",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP responses by status class",
		}, []string{"class"}),
		wsFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_frames_total",
			Help: "WebSocket frames by direction",
		}, []string{"direction"}),
		relayBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_bytes_total",
			Help: "Bytes forwarded between relay legs",
		}, []string{"direction"}),
	}
}

// Registry exposes the private registry for promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ConnAccepted() {
	if m != nil {
		m.accepted.Inc()
		m.active.Inc()
	}
}

func (m *Metrics) ConnRejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

// ConnClosed records a destroyed connection that was counted by ConnAccepted.
func (m *Metrics) ConnClosed(reason string) {
	if m != nil {
		m.closed.WithLabelValues(reason).Inc()
		m.active.Dec()
	}
}

func (m *Metrics) IdleEvicted() {
	if m != nil {
		m.idleEvicted.Inc()
	}
}

func (m *Metrics) BytesIn(n int) {
	if m != nil && n > 0 {
		m.bytesIn.Add(float64(n))
	}
}

func (m *Metrics) BytesOut(n int) {
	if m != nil && n > 0 {
		m.bytesOut.Add(float64(n))
	}
}

// HTTPRequest counts a response by class ("2xx", "4xx", ...).
func (m *Metrics) HTTPRequest(status int) {
	if m != nil {
		m.httpRequests.WithLabelValues(strconv.Itoa(status/100) + "xx").Inc()
	}
}

// WSFrame counts a frame; dir is "in" or "out".
func (m *Metrics) WSFrame(dir string) {
	if m != nil {
		m.wsFrames.WithLabelValues(dir).Inc()
	}
}

// RelayBytes counts forwarded bytes; dir is "upstream" or "downstream".
func (m *Metrics) RelayBytes(dir string, n int) {
	if m != nil && n > 0 {
		m.relayBytes.WithLabelValues(dir).Add(float64(n))
	}
}
