package receiver

import "errors"

var (
	// ErrConfigNil is returned when a receiver is created without a configuration.
	ErrConfigNil = errors.New("receiver: config is nil")
	// ErrAlreadyAttached is returned when Attach is called on a receiver that is
	// already attached to a transport. Receivers are never reattached; create a
	// new one per connection.
	ErrAlreadyAttached = errors.New("receiver: already attached")
	// ErrDisposed is returned when Attach is called on a disposed receiver.
	ErrDisposed = errors.New("receiver: disposed")
	// ErrNilTransport is returned when Attach is called with a nil transport.
	ErrNilTransport = errors.New("receiver: transport is nil")
	// ErrNilQueue is returned when Attach is called with a nil queue.
	ErrNilQueue = errors.New("receiver: queue is nil")
	// ErrIncompatibleFraming is returned when the framing strategy cannot run on
	// the transport, such as line framing on a TCP socket.
	ErrIncompatibleFraming = errors.New("receiver: framing not supported on transport")
	// ErrNoPeer is returned when writing to an unconnected UDP socket that has not
	// received a datagram yet.
	ErrNoPeer = errors.New("receiver: no remote peer")
)
