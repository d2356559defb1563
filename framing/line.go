package framing

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// DefaultLineDelimiter terminates a line unless configured otherwise.
	DefaultLineDelimiter = "\n"
	// DefaultMaxLineLength bounds the bytes buffered while waiting for a delimiter.
	DefaultMaxLineLength = 64 * 1024
)

// LineSplitter buffers bytes and releases delimiter-terminated lines.
//
// Lines are returned without the delimiter. Bytes after the last delimiter stay
// buffered until a later write completes the line. A line longer than the
// maximum length is dropped whole, including the part that arrives after the
// drop, up to and including its delimiter.
//
// LineSplitter is NOT goroutine-safe.
type LineSplitter struct {
	delim   []byte
	maxLen  int
	partial []byte
	ready   []string
	// discarding is set while the rest of an oversized line is skipped.
	discarding bool
	dropped    uint64
}

// NewLineSplitter creates a splitter for the given delimiter. A maxLen of zero
// selects DefaultMaxLineLength.
func NewLineSplitter(delim string, maxLen int) (*LineSplitter, error) {
	if delim == "" {
		return nil, errors.New("framing: line delimiter is empty")
	}
	if maxLen < 0 {
		return nil, fmt.Errorf("framing: max line length must not be negative, got %d", maxLen)
	}
	if maxLen == 0 {
		maxLen = DefaultMaxLineLength
	}

	return &LineSplitter{delim: []byte(delim), maxLen: maxLen}, nil
}

// Buffered returns the number of bytes of the incomplete line.
func (s *LineSplitter) Buffered() int {
	return len(s.partial)
}

// Dropped returns the number of oversized lines dropped so far.
func (s *LineSplitter) Dropped() uint64 {
	return s.dropped
}

// Write appends p and splits off every completed line.
//
// Lines longer than the maximum length are dropped and reported with
// ErrLineTooLong; lines completed by the same write are still released. The
// splitter remains usable.
func (s *LineSplitter) Write(p []byte) (int, error) {
	buf := append(s.partial, p...)
	dropped := 0

	for {
		idx := bytes.Index(buf, s.delim)
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+len(s.delim):]

		switch {
		case s.discarding:
			s.discarding = false
		case len(line) > s.maxLen:
			dropped++
		default:
			s.ready = append(s.ready, string(line))
		}
	}

	if !s.discarding && len(buf) > s.maxLen {
		dropped++
		s.discarding = true
	}
	if s.discarding {
		// keep only bytes that may start a delimiter split across writes
		if keep := len(s.delim) - 1; len(buf) > keep {
			buf = buf[len(buf)-keep:]
		}
	}
	s.partial = append(s.partial[:0], buf...)

	if dropped > 0 {
		s.dropped += uint64(dropped)
		return len(p), fmt.Errorf("%w: %d line(s) over %d bytes dropped", ErrLineTooLong, dropped, s.maxLen)
	}

	return len(p), nil
}

// Next returns the next complete line, or false when none is ready.
func (s *LineSplitter) Next() (string, bool) {
	if len(s.ready) == 0 {
		return "", false
	}

	line := s.ready[0]
	s.ready[0] = ""
	s.ready = s.ready[1:]
	if len(s.ready) == 0 {
		s.ready = nil
	}

	return line, true
}

// Reset discards the pending bytes and lines.
func (s *LineSplitter) Reset() {
	s.partial = s.partial[:0]
	s.ready = nil
	s.discarding = false
}
