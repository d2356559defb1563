// Package metrics exposes process-wide Prometheus collectors for receivers,
// registries and dispatchers.
//
// Collectors are registered with the default Prometheus registry on first use.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "framer"

// Drop reasons used with RecordDroppedFrame.
const (
	DropUnknownType   = "unknown_type"
	DropDecodeError   = "decode_error"
	DropMalformed     = "malformed"
	DropLineTooLong   = "line_too_long"
	DropAfterDisposal = "disposed"
)

// Disconnect reasons used with RecordDisconnect.
const (
	DisconnectPeerClosed = "peer_closed"
	DisconnectReadError  = "read_error"
	DisconnectFrameError = "frame_error"
	DisconnectSetup      = "setup_failed"
	DisconnectDisposed   = "disposed"
)

var (
	registerOnce sync.Once

	receiverEnvelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "envelopes_total",
			Help:      "Envelopes pushed to the dispatch queue.",
		},
		[]string{"transport", "framing"},
	)
	receiverBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "bytes_total",
			Help:      "Bytes read from transports.",
		},
		[]string{"transport", "framing"},
	)
	receiverReadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "read_errors_total",
			Help:      "Transient read errors swallowed by read loops.",
		},
		[]string{"transport", "framing"},
	)
	receiverDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped without producing an envelope.",
		},
		[]string{"transport", "framing", "reason"},
	)
	receiverDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "disconnects_total",
			Help:      "Receivers that left the connected state.",
		},
		[]string{"transport", "reason"},
	)
	receiverActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "receiver",
			Name:      "active",
			Help:      "Receivers currently attached.",
		},
		[]string{"transport"},
	)
	dispatchHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "envelopes_total",
			Help:      "Envelopes drained from the dispatch queue.",
		},
		[]string{"outcome"},
	)
	dispatchTick = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one drain tick in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	dispatchDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Envelopes waiting in the dispatch queue after the last tick.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			receiverEnvelopes, receiverBytes, receiverReadErrors, receiverDropped,
			receiverDisconnects, receiverActive,
			dispatchHandled, dispatchTick, dispatchDepth,
		)
	})
}

func RecordEnvelope(transport, framing string) {
	RegisterMetrics()
	receiverEnvelopes.WithLabelValues(transport, framing).Inc()
}

func RecordBytes(transport, framing string, n int) {
	RegisterMetrics()
	if n > 0 {
		receiverBytes.WithLabelValues(transport, framing).Add(float64(n))
	}
}

func RecordReadError(transport, framing string) {
	RegisterMetrics()
	receiverReadErrors.WithLabelValues(transport, framing).Inc()
}

func RecordDroppedFrame(transport, framing, reason string) {
	RegisterMetrics()
	receiverDropped.WithLabelValues(transport, framing, reason).Inc()
}

func RecordAttach(transport string) {
	RegisterMetrics()
	receiverActive.WithLabelValues(transport).Inc()
}

func RecordDisconnect(transport, reason string) {
	RegisterMetrics()
	receiverActive.WithLabelValues(transport).Dec()
	receiverDisconnects.WithLabelValues(transport, reason).Inc()
}

func RecordDispatchTick(handled, panicked, depth int, duration time.Duration) {
	RegisterMetrics()
	if handled > 0 {
		dispatchHandled.WithLabelValues("ok").Add(float64(handled))
	}
	if panicked > 0 {
		dispatchHandled.WithLabelValues("panic").Add(float64(panicked))
	}
	dispatchTick.Observe(duration.Seconds())
	dispatchDepth.Set(float64(depth))
}
