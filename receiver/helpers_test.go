package receiver

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-framer/dispatch"
	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/framing"
)

// newTestConfig creates a Config with short timeouts suitable for tests.
func newTestConfig(t *testing.T, kind framing.Kind, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{
		WithPollTimeout(5 * time.Millisecond),
		WithDisposeTimeout(time.Second),
	}

	cfg, err := NewConfig(kind, append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// newTestReceiver creates a receiver that is disposed when the test ends.
func newTestReceiver(t *testing.T, cfg *Config) *Receiver {
	t.Helper()

	r, err := New(cfg)
	if err != nil {
		t.Fatalf("newTestReceiver: %v", err)
	}
	t.Cleanup(r.Dispose)

	return r
}

// attachPipe attaches r to the local end of a net.Pipe and returns the queue and
// the remote end.
func attachPipe(t *testing.T, r *Receiver) (*dispatch.Queue, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	q := dispatch.NewQueue()
	if err := r.Attach(context.Background(), NewTCP(local), q); err != nil {
		t.Fatalf("attachPipe: %v", err)
	}

	return q, remote
}

// waitEnvelopes waits until q holds n envelopes and pops them.
func waitEnvelopes(t *testing.T, q *dispatch.Queue, n int) []*envelope.Envelope {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("waitEnvelopes: got %d envelopes, want %d", q.Len(), n)
		}
		time.Sleep(2 * time.Millisecond)
	}

	envs := make([]*envelope.Envelope, 0, n)
	for i := 0; i < n; i++ {
		env, _ := q.Pop()
		envs = append(envs, env)
	}

	return envs
}

// disconnectRecorder counts disconnect callbacks.
type disconnectRecorder struct {
	mu    sync.Mutex
	calls int
	keys  []string
}

func (d *disconnectRecorder) callback(key string, _ Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	d.keys = append(d.keys, key)
}

func (d *disconnectRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

// fakeSerialPort simulates a serial port. Every Feed call is delivered by exactly
// one Read; an idle Read returns (0, nil) after the read timeout like a real port.
type fakeSerialPort struct {
	chunks    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	timeout       time.Duration
	written       []byte
	setTimeoutErr error
}

var _ SerialPort = (*fakeSerialPort)(nil)

func newFakeSerialPort() *fakeSerialPort {
	return &fakeSerialPort{
		chunks:  make(chan []byte, 64),
		closed:  make(chan struct{}),
		timeout: 10 * time.Millisecond,
	}
}

// Feed makes data available to the next Read.
func (p *fakeSerialPort) Feed(data []byte) {
	chunk := make([]byte, len(data))
	copy(chunk, data)
	p.chunks <- chunk
}

func (p *fakeSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	select {
	case <-p.closed:
		return 0, os.ErrClosed
	default:
	}

	select {
	case chunk := <-p.chunks:
		return copy(b, chunk), nil
	case <-p.closed:
		return 0, os.ErrClosed
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakeSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.written = append(p.written, b...)

	return len(b), nil
}

func (p *fakeSerialPort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.setTimeoutErr != nil {
		return p.setTimeoutErr
	}
	p.timeout = d

	return nil
}

func (p *fakeSerialPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakeSerialPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]byte(nil), p.written...)
}

var errSetTimeout = errors.New("fake: set timeout failed")

// errTransientRead is neither a timeout nor a closed-handle error.
var errTransientRead = errors.New("fake: transient read failure")

// readFailures hands out a fixed number of read failures.
type readFailures struct {
	mu   sync.Mutex
	left int
}

func (f *readFailures) next() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.left == 0 {
		return false
	}
	f.left--

	return true
}

// flakySerialPort fails its first reads with errTransientRead and then behaves
// like fakeSerialPort.
type flakySerialPort struct {
	*fakeSerialPort
	failures readFailures
}

func newFlakySerialPort(failures int) *flakySerialPort {
	return &flakySerialPort{
		fakeSerialPort: newFakeSerialPort(),
		failures:       readFailures{left: failures},
	}
}

func (p *flakySerialPort) Read(b []byte) (int, error) {
	if p.failures.next() {
		return 0, errTransientRead
	}

	return p.fakeSerialPort.Read(b)
}

// flakyConn fails its first reads with errTransientRead and then reads from the
// wrapped connection.
type flakyConn struct {
	net.Conn
	failures readFailures
}

func newFlakyConn(conn net.Conn, failures int) *flakyConn {
	return &flakyConn{Conn: conn, failures: readFailures{left: failures}}
}

func (c *flakyConn) Read(b []byte) (int, error) {
	if c.failures.next() {
		return 0, errTransientRead
	}

	return c.Conn.Read(b)
}

// listenUDP opens a loopback UDP socket closed when the test ends.
func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listenUDP: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server *net.TCPConn, client *net.TCPConn) {
	t.Helper()

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("tcpPair listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.AcceptTCP()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	client, err = net.DialTCP("tcp", nil, ln.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("tcpPair dial: %v", err)
	}

	server = <-accepted
	if server == nil {
		t.Fatalf("tcpPair accept failed")
	}

	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	return server, client
}
