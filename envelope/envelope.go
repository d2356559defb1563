// Package envelope defines the message data model produced by receivers: one
// fully framed inbound message plus the transport metadata it arrived with.
//
// An Envelope is immutable. All of its content and metadata is supplied to one of
// the constructors exactly once, by the receiver that framed it, before the
// envelope is pushed to a dispatch queue. Envelopes can therefore be read from
// any goroutine without locking.
package envelope

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/arloliu/go-framer/internal/util"
)

// TransportKind identifies the kind of transport an envelope arrived on.
type TransportKind uint8

const (
	// UnknownTransport is the zero value.
	UnknownTransport TransportKind = iota
	// TCPTransport is a connected TCP stream.
	TCPTransport
	// UDPTransport is a datagram socket.
	UDPTransport
	// SerialTransport is a serial port.
	SerialTransport
)

// String returns the lower-case transport name.
func (k TransportKind) String() string {
	switch k {
	case TCPTransport:
		return "tcp"
	case UDPTransport:
		return "udp"
	case SerialTransport:
		return "serial"
	default:
		return "unknown"
	}
}

// Meta carries the transport metadata of an envelope.
type Meta struct {
	// Transport is the transport kind the frame was read from.
	Transport TransportKind
	// ReceiverKey is the connection key of the receiver that framed the message.
	ReceiverKey string
	// SourceLabel is a transport-specific tag, the port name for serial transports
	// and empty for sockets.
	SourceLabel string
	// LocalAddress and LocalPort describe the address the receiving socket is bound to.
	LocalAddress string
	LocalPort    int
	// RemoteAddress and RemotePort describe the peer. For UDP they are taken from
	// the datagram that produced this envelope.
	RemoteAddress string
	RemotePort    int
	// ReceivedAt is the time the frame was completed.
	ReceivedAt time.Time
}

// Envelope is one fully framed inbound message.
type Envelope struct {
	payload  []byte
	text     string
	hasText  bool
	typeName string
	typed    bool
	decoded  any
	meta     Meta
}

// New creates an envelope holding a copy of payload.
func New(payload []byte, meta Meta) *Envelope {
	return &Envelope{
		payload: util.CloneSlice(payload),
		meta:    meta,
	}
}

// NewTyped creates an envelope for a binary-framed message: the payload is tagged
// with the name of its intended type, and decoded holds the domain object resolved
// from it (nil when no type registry was consulted).
func NewTyped(typeName string, payload []byte, decoded any, meta Meta) *Envelope {
	return &Envelope{
		payload:  util.CloneSlice(payload),
		typeName: typeName,
		typed:    true,
		decoded:  decoded,
		meta:     meta,
	}
}

// NewText creates an envelope for a text line. The payload holds the line's bytes.
func NewText(text string, meta Meta) *Envelope {
	return &Envelope{
		payload: []byte(text),
		text:    text,
		hasText: true,
		meta:    meta,
	}
}

// Payload returns the raw frame content. It may be empty but is never nil.
//
// The returned slice is owned by the envelope and must not be modified.
func (e *Envelope) Payload() []byte { return e.payload }

// Len returns the payload length in bytes.
func (e *Envelope) Len() int { return len(e.payload) }

// Text returns the decoded line and true for envelopes built by NewText.
func (e *Envelope) Text() (string, bool) { return e.text, e.hasText }

// TypeName returns the fully-qualified payload type name of a binary-framed message.
func (e *Envelope) TypeName() string { return e.typeName }

// IsTyped reports whether the envelope came from binary framing.
func (e *Envelope) IsTyped() bool { return e.typed }

// Decoded returns the domain object resolved from the payload, if any.
func (e *Envelope) Decoded() any { return e.decoded }

// Meta returns a copy of the transport metadata.
func (e *Envelope) Meta() Meta { return e.meta }

// Transport returns the kind of transport the frame was read from.
func (e *Envelope) Transport() TransportKind { return e.meta.Transport }

// ReceiverKey returns the connection key of the receiver that framed the message.
func (e *Envelope) ReceiverKey() string { return e.meta.ReceiverKey }

// SourceLabel returns the serial port name, or "" for sockets.
func (e *Envelope) SourceLabel() string { return e.meta.SourceLabel }

// LocalAddress returns the host the receiving socket is bound to.
func (e *Envelope) LocalAddress() string { return e.meta.LocalAddress }

// LocalPort returns the port the receiving socket is bound to.
func (e *Envelope) LocalPort() int { return e.meta.LocalPort }

// RemoteAddress returns the peer host. For UDP it is the datagram sender.
func (e *Envelope) RemoteAddress() string { return e.meta.RemoteAddress }

// RemotePort returns the peer port. For UDP it is the datagram sender's port.
func (e *Envelope) RemotePort() int { return e.meta.RemotePort }

// ReceivedAt returns the time the frame was completed.
func (e *Envelope) ReceivedAt() time.Time { return e.meta.ReceivedAt }

// String returns a short human readable description for logging.
func (e *Envelope) String() string {
	if e.typed {
		return fmt.Sprintf("envelope{%s %s type=%q len=%d}", e.meta.Transport, e.meta.ReceiverKey, e.typeName, len(e.payload))
	}

	return fmt.Sprintf("envelope{%s %s len=%d}", e.meta.Transport, e.meta.ReceiverKey, len(e.payload))
}

// SplitAddr splits a socket address into host and port.
// It returns an empty host and zero port for a nil address or one without a port.
func SplitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}

	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String(), a.Port
	case *net.UDPAddr:
		return a.IP.String(), a.Port
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, _ := strconv.Atoi(port)

	return host, p
}
