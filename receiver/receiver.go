// Package receiver turns the byte stream of one open transport into envelopes.
//
// A Receiver owns one framing strategy, runs its read loop on a dedicated
// goroutine, pushes every completed frame to a queue as an immutable envelope and
// reports a lost connection through a disconnect callback.
//
// Lifecycle:
//
//	Unattached --Attach--> Connected --Dispose / peer close / terminal error--> Disposed
//
// A disposed receiver is never revived; reconnecting means creating a new
// receiver from the same Config.
package receiver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/framing"
	"github.com/arloliu/go-framer/internal/pool"
	"github.com/arloliu/go-framer/internal/task"
	"github.com/arloliu/go-framer/logger"
	"github.com/arloliu/go-framer/metrics"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Sink receives the envelopes produced by a receiver. Push must not block.
type Sink interface {
	Push(env *envelope.Envelope)
}

// DisconnectFunc is called once when a receiver loses its transport.
// It runs on the receiver's read goroutine after the transport is shut down, and
// may call Dispose.
type DisconnectFunc func(key string, t Transport)

// Receiver frames the byte stream of a single transport.
type Receiver struct {
	id      string
	cfg     *Config
	logger  logger.Logger
	state   stateMgr
	metrics ReceiverMetrics

	mu           sync.Mutex
	transport    Transport
	sink         Sink
	taskMgr      *task.Manager
	key          string
	baseMeta     envelope.Meta
	onDisconnect DisconnectFunc
	stopAfter    func() bool

	teardownOnce sync.Once
	teardownDone chan struct{}

	errLimiter    *rate.Limiter
	suppressedErr atomic.Uint64
}

// New creates an unattached receiver from cfg.
func New(cfg *Config) (*Receiver, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	id := uuid.NewString()

	return &Receiver{
		id:           id,
		cfg:          cfg,
		logger:       cfg.GetLogger().With("receiver_id", id),
		teardownDone: make(chan struct{}),
		errLimiter:   rate.NewLimiter(cfg.errorLogRate, cfg.errorLogBurst),
	}, nil
}

// ID returns the unique receiver id used in log records.
func (r *Receiver) ID() string { return r.id }

// Config returns the configuration the receiver was created from.
func (r *Receiver) Config() *Config { return r.cfg }

// State returns the lifecycle state.
func (r *Receiver) State() State { return r.state.Get() }

// Metrics returns the receiver counters.
func (r *Receiver) Metrics() *ReceiverMetrics { return &r.metrics }

// Key returns the connection key, or "" before Attach.
func (r *Receiver) Key() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.key
}

// Transport returns the attached transport, or nil before Attach.
func (r *Receiver) Transport() Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.transport
}

// LocalAddr returns the local address of the attached socket.
func (r *Receiver) LocalAddr() net.Addr {
	if t := r.Transport(); t != nil {
		return t.LocalAddr()
	}

	return nil
}

// RemoteAddr returns the peer address of the attached socket. For UDP it is the
// sender of the most recent datagram.
func (r *Receiver) RemoteAddr() net.Addr {
	if t := r.Transport(); t != nil {
		return t.RemoteAddr()
	}

	return nil
}

// OnDisconnect registers the disconnect callback, replacing any previous one.
//
// The callback fires at most once, when the framing detects a lost peer or a
// terminal error, or when the read loop cannot be set up. It never fires for
// Dispose.
func (r *Receiver) OnDisconnect(cb DisconnectFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onDisconnect = cb
}

// Attach binds the receiver to an open transport and starts the read loop.
//
// Programming errors are returned: a nil argument, a framing strategy the
// transport cannot run, or a receiver that was already attached or disposed.
// A failure to set the loop up is not returned; the receiver fires the
// disconnect callback and disposes itself instead.
//
// Cancelling ctx disposes the receiver.
func (r *Receiver) Attach(ctx context.Context, t Transport, sink Sink) error {
	if t == nil {
		return ErrNilTransport
	}
	if sink == nil {
		return ErrNilQueue
	}
	if err := checkCompatible(r.cfg.framing, t); err != nil {
		return err
	}

	meta := envelope.Meta{
		Transport:   t.Kind(),
		ReceiverKey: t.Key(),
	}
	meta.LocalAddress, meta.LocalPort = envelope.SplitAddr(t.LocalAddr())
	meta.RemoteAddress, meta.RemotePort = envelope.SplitAddr(t.RemoteAddr())
	if st, ok := t.(*SerialTransport); ok {
		meta.SourceLabel = st.Name()
	}

	// a Dispose racing with Attach tears down only after the fields are set
	r.mu.Lock()
	if state, ok := r.state.ToConnected(); !ok {
		r.mu.Unlock()
		if state.IsDisposed() {
			return ErrDisposed
		}

		return ErrAlreadyAttached
	}

	mgr := task.NewManager(ctx, r.logger)
	r.transport = t
	r.sink = sink
	r.key = meta.ReceiverKey
	r.baseMeta = meta
	r.taskMgr = mgr
	r.logger = r.logger.With("key", meta.ReceiverKey)
	r.stopAfter = context.AfterFunc(ctx, r.Dispose)
	r.mu.Unlock()

	metrics.RecordAttach(t.Kind().String())
	r.logger.Info("receiver attached",
		"transport", t.Kind().String(), "framing", r.cfg.framing.String())

	if err := r.start(mgr, t); err != nil {
		r.terminate(metrics.DisconnectSetup, fmt.Errorf("start read loop: %w", err))
	}

	return nil
}

// Dispose stops the read loop and shuts the transport down. It waits up to the
// configured dispose timeout for the loop to return.
//
// Dispose is idempotent and never fires the disconnect callback. It may be called
// from the disconnect callback.
func (r *Receiver) Dispose() {
	prev := r.state.ToDisposed()
	switch prev {
	case DisposedState:
		// a concurrent disconnect may still be shutting the transport down
		<-r.teardownDone
		return
	case UnattachedState:
		r.teardownOnce.Do(func() { close(r.teardownDone) })
		return
	}

	r.teardown(true)
	r.logger.Info("receiver disposed")
	metrics.RecordDisconnect(r.kindLabel(), metrics.DisconnectDisposed)
}

// IsConnected reports whether the receiver is attached and, for TCP, whether the
// liveness probe still sees the peer.
func (r *Receiver) IsConnected() bool {
	if !r.state.Get().IsConnected() {
		return false
	}

	if tcp, ok := r.Transport().(*TCPTransport); ok {
		return r.cfg.probe.Connected(tcp.Conn())
	}

	return true
}

// Write sends p on the attached transport.
func (r *Receiver) Write(p []byte) (int, error) {
	t := r.Transport()
	if t == nil || !r.state.Get().IsConnected() {
		return 0, ErrDisposed
	}

	return t.Write(p)
}

func (r *Receiver) start(mgr *task.Manager, t Transport) error {
	switch tr := t.(type) {
	case *TCPTransport:
		if err := tr.Conn().SetReadDeadline(time.Time{}); err != nil {
			return fmt.Errorf("clear read deadline: %w", err)
		}
		if r.cfg.framing == framing.Binary {
			return mgr.Start("binaryStreamLoop", r.binaryStreamLoop(tr))
		}
		return mgr.Start("rawStreamLoop", r.rawStreamLoop(tr))

	case *UDPTransport:
		return mgr.Start("datagramLoop", r.datagramLoop(tr))

	case *SerialTransport:
		if err := tr.Port().SetReadTimeout(r.cfg.pollTimeout); err != nil {
			return fmt.Errorf("set serial read timeout: %w", err)
		}
		if r.cfg.framing == framing.FixedLength {
			return r.startFixedLoop(mgr, tr)
		}
		return r.startLineLoop(mgr, tr)
	}

	return fmt.Errorf("%w: %T", ErrIncompatibleFraming, t)
}

// terminate is the disconnect path taken by the read loop. It runs at most once
// and loses against a concurrent Dispose.
func (r *Receiver) terminate(reason string, err error) {
	if r.state.ToDisposed() == DisposedState {
		return
	}

	if err != nil {
		r.logger.Warn("receiver disconnected", "reason", reason, "error", err)
	} else {
		r.logger.Info("receiver disconnected", "reason", reason)
	}

	// the loop goroutine is the caller, so do not wait for it
	r.teardown(false)
	metrics.RecordDisconnect(r.kindLabel(), reason)

	r.mu.Lock()
	cb := r.onDisconnect
	key := r.key
	t := r.transport
	r.mu.Unlock()

	if cb != nil {
		cb(key, t)
	}
}

func (r *Receiver) teardown(wait bool) {
	defer r.teardownOnce.Do(func() { close(r.teardownDone) })

	r.mu.Lock()
	mgr := r.taskMgr
	t := r.transport
	stopAfter := r.stopAfter
	r.mu.Unlock()

	if stopAfter != nil {
		stopAfter()
	}
	if mgr != nil {
		mgr.Stop()
	}

	if t != nil {
		if err := t.Close(); err != nil {
			r.logger.Debug("transport shutdown error ignored", "error", err)
		}
	}

	if wait && mgr != nil {
		if !pool.WaitDone(mgr.Done(), r.cfg.disposeTimeout) {
			r.logger.Warn("read loop did not stop within dispose timeout",
				"timeout", r.cfg.disposeTimeout, "tasks", mgr.TaskCount())
		}
	}
}

// push delivers one envelope unless disposal has begun.
func (r *Receiver) push(env *envelope.Envelope) {
	if r.state.Get().IsDisposed() {
		r.dropFrame(metrics.DropAfterDisposal)
		return
	}

	r.metrics.incEnvelopeCount()
	metrics.RecordEnvelope(r.kindLabel(), r.cfg.framing.String())
	r.sink.Push(env)
}

func (r *Receiver) dropFrame(reason string) {
	r.metrics.incDroppedFrameCount()
	metrics.RecordDroppedFrame(r.kindLabel(), r.cfg.framing.String(), reason)
}

func (r *Receiver) addBytes(n int) {
	r.metrics.addBytesRead(n)
	metrics.RecordBytes(r.kindLabel(), r.cfg.framing.String(), n)
}

// transientError counts a swallowed read error and logs it within the
// configured rate.
func (r *Receiver) transientError(msg string, err error) {
	r.metrics.incReadErrCount()
	metrics.RecordReadError(r.kindLabel(), r.cfg.framing.String())

	if !r.errLimiter.Allow() {
		r.suppressedErr.Add(1)
		return
	}

	r.logger.Warn(msg, "error", err, "suppressed", r.suppressedErr.Swap(0))
}

// meta returns the attach-time metadata stamped with the current time.
func (r *Receiver) meta() envelope.Meta {
	m := r.baseMeta
	m.ReceivedAt = time.Now()

	return m
}

func (r *Receiver) kindLabel() string {
	if t := r.Transport(); t != nil {
		return t.Kind().String()
	}

	return envelope.UnknownTransport.String()
}

// backoff waits one poll interval or until ctx is done. It returns false when
// ctx is done.
func (r *Receiver) backoff(ctx context.Context) bool {
	timer := pool.GetTimer(r.cfg.pollTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func checkCompatible(kind framing.Kind, t Transport) error {
	switch t.Kind() {
	case envelope.TCPTransport, envelope.UDPTransport:
		if kind.ForSockets() {
			return nil
		}
	case envelope.SerialTransport:
		if kind.ForSerial() {
			return nil
		}
	}

	return fmt.Errorf("%w: %s framing on %s", ErrIncompatibleFraming, kind, t.Kind())
}
