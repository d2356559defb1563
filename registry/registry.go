// Package registry opens transports, attaches a receiver to each of them and
// keeps the active receivers by connection key.
//
// A receiver is removed from the registry when its connection is lost; the
// registry never reconnects. Applications that want to reconnect do so from the
// disconnect handler.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-framer/framing"
	"github.com/arloliu/go-framer/internal/pool"
	"github.com/arloliu/go-framer/internal/task"
	"github.com/arloliu/go-framer/logger"
	"github.com/arloliu/go-framer/receiver"
	"github.com/puzpuzpuz/xsync/v3"
	"go.bug.st/serial"
)

var (
	// ErrReceiverNotFound is returned when no active receiver has the given key.
	ErrReceiverNotFound = errors.New("registry: receiver not found")
	// ErrRegistryClosed is returned when the registry has been closed.
	ErrRegistryClosed = errors.New("registry: closed")
	// ErrSendUnsupported is returned by SendTyped for receivers not using binary framing.
	ErrSendUnsupported = errors.New("registry: typed send requires binary framing")
)

// DefaultCloseTimeout bounds how long Close waits for accept loops to return.
const DefaultCloseTimeout = 3 * time.Second

// DisconnectHandler is notified after a receiver that lost its connection was
// removed from the registry.
type DisconnectHandler func(key string, t receiver.Transport)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to the package default logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDisconnectHandler sets the handler notified when a receiver disconnects.
func WithDisconnectHandler(h DisconnectHandler) Option {
	return func(r *Registry) {
		r.onDisconnect = h
	}
}

// WithCloseTimeout sets how long Close waits for accept loops to return.
func WithCloseTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.closeTimeout = d
		}
	}
}

// Registry owns the transports of a set of links and their receivers.
// It is safe for concurrent use.
type Registry struct {
	queue        receiver.Sink
	logger       logger.Logger
	onDisconnect DisconnectHandler
	closeTimeout time.Duration

	receivers *xsync.MapOf[string, *receiver.Receiver]
	listeners *xsync.MapOf[string, io.Closer]

	taskMgr   *task.Manager
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a registry pushing every envelope into queue.
func New(queue receiver.Sink, opts ...Option) *Registry {
	r := &Registry{
		queue:        queue,
		logger:       logger.GetLogger(),
		closeTimeout: DefaultCloseTimeout,
		receivers:    xsync.NewMapOf[string, *receiver.Receiver](),
		listeners:    xsync.NewMapOf[string, io.Closer](),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.taskMgr = task.NewManager(context.Background(), r.logger)

	return r
}

// DialTCP connects to addr and attaches a receiver to the connection.
func (r *Registry) DialTCP(ctx context.Context, addr string, cfg *receiver.Config) (*receiver.Receiver, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("registry: dial %s: %w", addr, err)
	}

	rcv, err := r.AttachTransport(receiver.NewTCP(conn), cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return rcv, nil
}

// ListenTCP listens on addr and attaches a receiver to every accepted
// connection. The listener stops when ctx is done or the registry is closed.
//
// It returns the bound address, which resolves a ":0" port.
func (r *Registry) ListenTCP(ctx context.Context, addr string, cfg *receiver.Config) (net.Addr, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	if cfg == nil {
		return nil, receiver.ErrConfigNil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("registry: listen %s: %w", addr, err)
	}

	bound := ln.Addr()
	r.listeners.Store(bound.String(), ln)
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })

	err = r.taskMgr.Go("acceptLoop", func(taskCtx context.Context) {
		defer stop()
		defer r.listeners.Delete(bound.String())
		r.acceptLoop(taskCtx, ln, cfg)
	})
	if err != nil {
		stop()
		r.listeners.Delete(bound.String())
		_ = ln.Close()

		return nil, ErrRegistryClosed
	}

	r.logger.Info("listening", "transport", "tcp", "addr", bound.String(), "framing", cfg.Framing().String())

	return bound, nil
}

func (r *Registry) acceptLoop(ctx context.Context, ln net.Listener, cfg *receiver.Config) {
	// closing the listener unblocks Accept
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Debug("accept loop stopped", "addr", ln.Addr().String())
				return
			}

			r.logger.Warn("accept failed", "addr", ln.Addr().String(), "error", err)
			if !waitOrDone(ctx, cfg.PollTimeout()) {
				return
			}

			continue
		}

		if _, err := r.AttachTransport(receiver.NewTCP(conn), cfg); err != nil {
			r.logger.Error("attach accepted connection failed", "remote", conn.RemoteAddr().String(), "error", err)
			_ = conn.Close()
		}
	}
}

// ListenUDP binds a datagram socket on addr and attaches a receiver to it.
func (r *Registry) ListenUDP(ctx context.Context, addr string, cfg *receiver.Config) (*receiver.Receiver, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("registry: listen udp %s: %w", addr, err)
	}

	rcv, err := r.AttachTransport(receiver.NewUDP(pc), cfg)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	return rcv, nil
}

// OpenSerial opens the serial port name at the given baud rate, 8N1, and
// attaches a receiver to it.
func (r *Registry) OpenSerial(name string, baudRate int, cfg *receiver.Config) (*receiver.Receiver, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: open serial %s: %w", name, err)
	}

	rcv, err := r.AttachTransport(receiver.NewSerial(name, port), cfg)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	return rcv, nil
}

// AttachTransport creates a receiver from cfg and attaches it to an already open
// transport. A receiver registered under the same key is disposed and replaced.
//
// On error the transport is left open for the caller. A transport whose read
// loop cannot be set up is reported through the disconnect handler, and the
// returned receiver is already disposed.
func (r *Registry) AttachTransport(t receiver.Transport, cfg *receiver.Config) (*receiver.Receiver, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	if t == nil {
		return nil, receiver.ErrNilTransport
	}

	rcv, err := receiver.New(cfg)
	if err != nil {
		return nil, err
	}
	rcv.OnDisconnect(func(key string, tr receiver.Transport) {
		r.remove(key, rcv)
		r.logger.Info("receiver removed", "key", key)

		if h := r.onDisconnect; h != nil {
			h(key, tr)
		}
	})

	key := t.Key()
	if old, loaded := r.receivers.LoadAndStore(key, rcv); loaded {
		r.logger.Warn("replacing receiver with the same key", "key", key, "old_id", old.ID())
		old.Dispose()
	}

	if err := rcv.Attach(r.taskMgr.Context(), t, r.queue); err != nil {
		r.remove(key, rcv)
		return nil, err
	}

	return rcv, nil
}

// Send writes p on the transport of the receiver with the given key.
func (r *Registry) Send(key string, p []byte) error {
	rcv, ok := r.Get(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrReceiverNotFound, key)
	}

	if _, err := rcv.Write(p); err != nil {
		return fmt.Errorf("registry: send to %q: %w", key, err)
	}

	return nil
}

// SendTyped packs typeName and payload into a binary frame and sends it. A frame
// exceeding the receiver's frame limits is rejected without writing.
func (r *Registry) SendTyped(key string, typeName string, payload []byte) error {
	rcv, ok := r.Get(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrReceiverNotFound, key)
	}
	if rcv.Config().Framing() != framing.Binary {
		return fmt.Errorf("%w: %q uses %s framing", ErrSendUnsupported, key, rcv.Config().Framing())
	}

	if err := rcv.Config().Limits().Check(typeName, payload); err != nil {
		return fmt.Errorf("registry: send to %q: %w", key, err)
	}

	if _, err := rcv.Write(framing.Pack(typeName, payload)); err != nil {
		return fmt.Errorf("registry: send to %q: %w", key, err)
	}

	return nil
}

// Get returns the active receiver with the given key.
func (r *Registry) Get(key string) (*receiver.Receiver, bool) {
	return r.receivers.Load(key)
}

// Keys returns the keys of the active receivers in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, r.receivers.Size())
	r.receivers.Range(func(key string, _ *receiver.Receiver) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)

	return keys
}

// Len returns the number of active receivers.
func (r *Registry) Len() int {
	return r.receivers.Size()
}

// Remove disposes the receiver with the given key. The disconnect handler is
// not called.
func (r *Registry) Remove(key string) error {
	rcv, ok := r.receivers.LoadAndDelete(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrReceiverNotFound, key)
	}
	rcv.Dispose()

	return nil
}

// Close stops every listener and disposes every receiver. It is idempotent.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.taskMgr.Stop()

		r.listeners.Range(func(addr string, ln io.Closer) bool {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				r.logger.Debug("close listener", "addr", addr, "error", err)
			}
			return true
		})

		var wg sync.WaitGroup
		r.receivers.Range(func(key string, rcv *receiver.Receiver) bool {
			r.receivers.Delete(key)
			wg.Add(1)
			go func() {
				defer wg.Done()
				rcv.Dispose()
			}()
			return true
		})
		wg.Wait()

		if !pool.WaitDone(r.taskMgr.Done(), r.closeTimeout) {
			r.logger.Warn("accept loops did not stop within close timeout", "timeout", r.closeTimeout)
		}
	})

	return nil
}

// remove deletes key only while it still maps to rcv, so a replacement under the
// same key survives the old receiver's disconnect.
func (r *Registry) remove(key string, rcv *receiver.Receiver) {
	r.receivers.Compute(key, func(cur *receiver.Receiver, loaded bool) (*receiver.Receiver, bool) {
		return cur, !loaded || cur == rcv
	})
}

func waitOrDone(ctx context.Context, d time.Duration) bool {
	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
