package receiver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/go-framer/envelope"
	"go.bug.st/serial"
)

// Transport is an open byte-stream handle a receiver reads from.
//
// The owner opens the handle and passes it to Attach; from then on the receiver
// shuts it down on disconnect or disposal.
type Transport interface {
	// Kind returns the transport kind.
	Kind() envelope.TransportKind
	// Key returns the connection key: "{remoteAddress}_{remotePort}" for sockets
	// and the port name for serial ports.
	Key() string
	// LocalAddr returns the local socket address, or nil for serial ports.
	LocalAddr() net.Addr
	// RemoteAddr returns the peer address, or nil when there is none.
	RemoteAddr() net.Addr
	// Write sends p to the peer.
	Write(p []byte) (int, error)
	// Close shuts the handle down and releases it.
	Close() error
}

// ConnKey builds the connection key of a socket address.
func ConnKey(addr net.Addr) string {
	host, port := envelope.SplitAddr(addr)
	return host + "_" + strconv.Itoa(port)
}

// TCPTransport wraps a connected stream socket.
type TCPTransport struct {
	conn net.Conn
}

var _ Transport = (*TCPTransport)(nil)

// NewTCP wraps conn. Any net.Conn works; *net.TCPConn additionally gets both
// directions shut down before close and the readiness liveness probe.
func NewTCP(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn}
}

func (t *TCPTransport) Kind() envelope.TransportKind { return envelope.TCPTransport }

func (t *TCPTransport) Key() string { return ConnKey(t.conn.RemoteAddr()) }

func (t *TCPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

func (t *TCPTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// Conn returns the wrapped connection.
func (t *TCPTransport) Conn() net.Conn { return t.conn }

func (t *TCPTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }

// Close shuts down both directions and closes the socket. Errors caused by a
// peer that is already gone are not reported.
func (t *TCPTransport) Close() error {
	var errs []error

	type halfCloser interface {
		CloseRead() error
		CloseWrite() error
	}
	if hc, ok := t.conn.(halfCloser); ok {
		if err := hc.CloseRead(); err != nil && !isClosedErr(err) {
			errs = append(errs, fmt.Errorf("shutdown read: %w", err))
		}
		if err := hc.CloseWrite(); err != nil && !isClosedErr(err) {
			errs = append(errs, fmt.Errorf("shutdown write: %w", err))
		}
	}

	if err := t.conn.Close(); err != nil && !isClosedErr(err) {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}

	return errors.Join(errs...)
}

// UDPTransport wraps a datagram socket. The remote peer is re-learned from every
// received datagram unless the socket is connected to a fixed peer.
type UDPTransport struct {
	conn net.PacketConn

	mu   sync.RWMutex
	peer net.Addr
}

var _ Transport = (*UDPTransport)(nil)

// NewUDP wraps conn.
func NewUDP(conn net.PacketConn) *UDPTransport {
	return &UDPTransport{conn: conn}
}

func (t *UDPTransport) Kind() envelope.TransportKind { return envelope.UDPTransport }

// Key returns the key of the fixed peer of a connected socket, and the key of
// the local address otherwise.
func (t *UDPTransport) Key() string {
	if remote := t.fixedPeer(); remote != nil {
		return ConnKey(remote)
	}

	return ConnKey(t.conn.LocalAddr())
}

func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the fixed peer, or the sender of the last datagram.
func (t *UDPTransport) RemoteAddr() net.Addr {
	if remote := t.fixedPeer(); remote != nil {
		return remote
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.peer
}

// Conn returns the wrapped socket.
func (t *UDPTransport) Conn() net.PacketConn { return t.conn }

// Write sends p to the fixed peer or to the sender of the last datagram.
func (t *UDPTransport) Write(p []byte) (int, error) {
	if t.fixedPeer() != nil {
		if w, ok := t.conn.(io.Writer); ok {
			return w.Write(p)
		}
	}

	peer := t.RemoteAddr()
	if peer == nil {
		return 0, ErrNoPeer
	}

	return t.conn.WriteTo(p, peer)
}

// WriteTo sends p to addr.
func (t *UDPTransport) WriteTo(p []byte, addr net.Addr) (int, error) {
	return t.conn.WriteTo(p, addr)
}

func (t *UDPTransport) Close() error {
	if err := t.conn.Close(); err != nil && !isClosedErr(err) {
		return err
	}

	return nil
}

func (t *UDPTransport) setPeer(addr net.Addr) {
	t.mu.Lock()
	t.peer = addr
	t.mu.Unlock()
}

func (t *UDPTransport) fixedPeer() net.Addr {
	if c, ok := t.conn.(interface{ RemoteAddr() net.Addr }); ok {
		if remote := c.RemoteAddr(); remote != nil && !isNilAddr(remote) {
			return remote
		}
	}

	return nil
}

// SerialPort is the subset of go.bug.st/serial.Port used by receivers.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

var _ SerialPort = (serial.Port)(nil)

// SerialTransport wraps an open serial port.
type SerialTransport struct {
	name string
	port SerialPort
}

var _ Transport = (*SerialTransport)(nil)

// NewSerial wraps port, opened under name.
func NewSerial(name string, port SerialPort) *SerialTransport {
	return &SerialTransport{name: name, port: port}
}

func (t *SerialTransport) Kind() envelope.TransportKind { return envelope.SerialTransport }

func (t *SerialTransport) Key() string { return t.name }

// Name returns the port name.
func (t *SerialTransport) Name() string { return t.name }

func (t *SerialTransport) LocalAddr() net.Addr { return nil }

func (t *SerialTransport) RemoteAddr() net.Addr { return nil }

// Port returns the wrapped port.
func (t *SerialTransport) Port() SerialPort { return t.port }

func (t *SerialTransport) Write(p []byte) (int, error) { return t.port.Write(p) }

func (t *SerialTransport) Close() error {
	if err := t.port.Close(); err != nil && !isClosedErr(err) {
		return err
	}

	return nil
}

// isClosedErr reports whether err means the handle is closed or the peer is gone.
func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return true
	}

	return false
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNilAddr(addr net.Addr) bool {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a == nil
	case *net.TCPAddr:
		return a == nil
	}

	return false
}
