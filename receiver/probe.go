package receiver

import (
	"net"
)

// LivenessProbe decides whether a TCP peer is still connected.
//
// Raw framing over TCP runs the probe before every read, and IsConnected runs it
// on demand. It must not block.
type LivenessProbe interface {
	// Connected reports whether conn still appears connected.
	Connected(conn net.Conn) bool
}

// LivenessProbeFunc adapts a function to LivenessProbe.
type LivenessProbeFunc func(conn net.Conn) bool

func (f LivenessProbeFunc) Connected(conn net.Conn) bool { return f(conn) }

// ReadinessProbe returns the default probe. It treats a socket as disconnected
// when it is readable but has no data available, which is how a peer close
// shows up before it is read. This is a heuristic rather than a heartbeat:
// a half-closed peer that still reads counts as gone.
//
// Connections that do not expose a file descriptor always report connected and
// rely on the read result instead.
func ReadinessProbe() LivenessProbe {
	return LivenessProbeFunc(peekConnected)
}

// ReadResultProbe returns a probe that always reports connected, leaving peer
// close detection to the zero-byte read or io.EOF returned by the read loop.
func ReadResultProbe() LivenessProbe {
	return LivenessProbeFunc(func(net.Conn) bool { return true })
}
