package receiver

import (
	"sync/atomic"
)

// ReceiverMetrics contains atomic counters of a single receiver.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
//
// The process-wide totals are kept in the metrics package.
type ReceiverMetrics struct {
	// BytesRead indicates the number of bytes read from the transport.
	BytesRead atomic.Uint64
	// EnvelopeCount indicates the number of envelopes pushed to the queue.
	EnvelopeCount atomic.Uint64
	// DroppedFrameCount indicates the number of frames dropped without an envelope.
	DroppedFrameCount atomic.Uint64
	// ReadErrCount indicates the number of transient read errors.
	ReadErrCount atomic.Uint64
}

func (m *ReceiverMetrics) addBytesRead(n int) {
	if n > 0 {
		m.BytesRead.Add(uint64(n))
	}
}

func (m *ReceiverMetrics) incEnvelopeCount() {
	m.EnvelopeCount.Add(1)
}

func (m *ReceiverMetrics) incDroppedFrameCount() {
	m.DroppedFrameCount.Add(1)
}

func (m *ReceiverMetrics) incReadErrCount() {
	m.ReadErrCount.Add(1)
}
