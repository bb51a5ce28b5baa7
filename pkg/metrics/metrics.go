// Package metrics exposes GERTi client counters to Prometheus.
//
// # Metric Names
//
//	gerti_connections_opened_total
//	gerti_connections_closed_total{reason="local|remote|error"}
//	gerti_handshake_results_total{result="accepted|version|identity|internal|unknown"}
//	gerti_frames_sent_total
//	gerti_frames_received_total
//	gerti_frames_rejected_total{reason="replay|unknown_signer|bad_signature|malformed"}
//	gerti_bytes_sent_total
//	gerti_bytes_received_total
//	gerti_pending_packets
//	gerti_handshake_duration_seconds
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "gerti"

// Recorder holds the client's Prometheus collectors. Safe for concurrent use.
type Recorder struct {
	connectionsOpened prometheus.Counter
	connectionsClosed *prometheus.CounterVec
	handshakeResults  *prometheus.CounterVec
	handshakeDuration prometheus.Histogram

	framesSent     prometheus.Counter
	framesReceived prometheus.Counter
	framesRejected *prometheus.CounterVec
	bytesSent      prometheus.Counter
	bytesReceived  prometheus.Counter

	pendingPackets prometheus.Gauge
}

// New creates a recorder registered with registerer. A nil registerer leaves
// the collectors unregistered.
func New(namespace string, registerer prometheus.Registerer) *Recorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	r := &Recorder{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Total number of transports opened",
		}),
		connectionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_closed_total",
				Help:      "Total number of connections closed by reason",
			},
			[]string{"reason"},
		),
		handshakeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshake_results_total",
				Help:      "Total number of handshake replies by outcome",
			},
			[]string{"result"},
		),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time between greeting and accepted reply",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of signed frames written",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames accepted",
		}),
		framesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_rejected_total",
				Help:      "Total number of inbound frames dropped by reason",
			},
			[]string{"reason"},
		),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes sent",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received",
		}),
		pendingPackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_packets",
			Help:      "Packets queued until a handshake completes",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			r.connectionsOpened,
			r.connectionsClosed,
			r.handshakeResults,
			r.handshakeDuration,
			r.framesSent,
			r.framesReceived,
			r.framesRejected,
			r.bytesSent,
			r.bytesReceived,
			r.pendingPackets,
		)
	}

	return r
}

// ConnectionOpened counts a new transport.
func (r *Recorder) ConnectionOpened() {
	if r == nil {
		return
	}
	r.connectionsOpened.Inc()
}

// ConnectionClosed counts a closed connection. reason is "local", "remote"
// or "error".
func (r *Recorder) ConnectionClosed(reason string) {
	if r == nil {
		return
	}
	r.connectionsClosed.WithLabelValues(reason).Inc()
}

// HandshakeAccepted records a successful handshake and how long it took.
func (r *Recorder) HandshakeAccepted(d time.Duration) {
	if r == nil {
		return
	}
	r.handshakeResults.WithLabelValues("accepted").Inc()
	r.handshakeDuration.Observe(d.Seconds())
}

// HandshakeFailed records a [0, 0, code] reply.
func (r *Recorder) HandshakeFailed(code uint8) {
	if r == nil {
		return
	}
	r.handshakeResults.WithLabelValues(HandshakeLabel(code)).Inc()
}

// FrameSent counts an emitted frame carrying n payload bytes.
func (r *Recorder) FrameSent(n int) {
	if r == nil {
		return
	}
	r.framesSent.Inc()
	r.bytesSent.Add(float64(n))
}

// FrameReceived counts an accepted frame carrying n payload bytes.
func (r *Recorder) FrameReceived(n int) {
	if r == nil {
		return
	}
	r.framesReceived.Inc()
	r.bytesReceived.Add(float64(n))
}

// FrameRejected counts a dropped inbound frame.
func (r *Recorder) FrameRejected(err error) {
	if r == nil {
		return
	}
	r.framesRejected.WithLabelValues(RejectionLabel(err)).Inc()
}

// PendingDelta adjusts the queued packet gauge.
func (r *Recorder) PendingDelta(delta int) {
	if r == nil {
		return
	}
	r.pendingPackets.Add(float64(delta))
}

// HandshakeLabel maps a handshake failure code to its label value.
func HandshakeLabel(code uint8) string {
	switch code {
	case protocol.HandshakeCodeVersion:
		return "version"
	case protocol.HandshakeCodeBadIdentity:
		return "identity"
	case protocol.HandshakeCodeInternal:
		return "internal"
	case protocol.HandshakeCodeMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// RejectionLabel maps a frame decode error to its label value.
func RejectionLabel(err error) string {
	switch {
	case errors.Is(err, protocol.ErrReplayRejected):
		return "replay"
	case errors.Is(err, protocol.ErrUnknownSigner):
		return "unknown_signer"
	case errors.Is(err, protocol.ErrBadSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}
