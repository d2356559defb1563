package framing

import (
	"fmt"
)

// RecordAccumulator buffers bytes and releases them in records of a fixed size.
//
// Fewer than size buffered bytes never produce a record; the bytes stay buffered
// until later writes complete the record.
//
// RecordAccumulator is NOT goroutine-safe.
type RecordAccumulator struct {
	size    int
	pending []byte
}

// NewRecordAccumulator creates an accumulator for records of size bytes.
func NewRecordAccumulator(size int) (*RecordAccumulator, error) {
	if size <= 0 {
		return nil, fmt.Errorf("framing: record size must be positive, got %d", size)
	}

	return &RecordAccumulator{size: size, pending: make([]byte, 0, size)}, nil
}

// Size returns the record size.
func (a *RecordAccumulator) Size() int {
	return a.size
}

// Buffered returns the number of bytes waiting for a complete record.
func (a *RecordAccumulator) Buffered() int {
	return len(a.pending)
}

// Write appends p to the pending bytes. It never fails.
func (a *RecordAccumulator) Write(p []byte) (int, error) {
	a.pending = append(a.pending, p...)
	return len(p), nil
}

// Next returns the next complete record in a fresh buffer, or false when fewer
// than Size bytes are buffered.
func (a *RecordAccumulator) Next() ([]byte, bool) {
	if len(a.pending) < a.size {
		return nil, false
	}

	record := make([]byte, a.size)
	copy(record, a.pending)

	rest := copy(a.pending, a.pending[a.size:])
	a.pending = a.pending[:rest]

	return record, true
}

// Reset discards the pending bytes.
func (a *RecordAccumulator) Reset() {
	a.pending = a.pending[:0]
}
