package dispatch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/internal/task"
	"github.com/arloliu/go-framer/logger"
	"github.com/arloliu/go-framer/metrics"
)

// AllTypes subscribes a handler to every envelope, typed or not.
const AllTypes = ""

// ErrRunning is returned by Run when the dispatcher is already running.
var ErrRunning = errors.New("dispatch: dispatcher already running")

// Handler consumes one envelope on the dispatcher's goroutine.
type Handler func(env *envelope.Envelope)

type subscription struct {
	typeName string
	handler  Handler
}

// Dispatcher drains a Queue and routes envelopes to subscribers.
//
// Envelopes of binary framing are routed by type name; every envelope also
// reaches the AllTypes subscribers. A panicking handler is logged and does not
// stop the remaining handlers.
type Dispatcher struct {
	queue      *Queue
	logger     logger.Logger
	maxPerTick int

	mu   sync.RWMutex
	subs []*subscription

	runMu   sync.Mutex
	taskMgr *task.Manager
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to the package default logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMaxPerTick bounds the envelopes handled by one Tick. Zero or less means
// everything queued at the start of the tick.
func WithMaxPerTick(n int) Option {
	return func(d *Dispatcher) {
		d.maxPerTick = n
	}
}

// NewDispatcher creates a dispatcher draining q.
func NewDispatcher(q *Queue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:  q,
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers h for envelopes named typeName, or for all envelopes when
// typeName is AllTypes. The returned function removes the subscription.
func (d *Dispatcher) Subscribe(typeName string, h Handler) (unsubscribe func()) {
	sub := &subscription{typeName: typeName, handler: h}

	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		d.subs = slices.DeleteFunc(d.subs, func(s *subscription) bool { return s == sub })
	}
}

// Tick drains the queue once on the calling goroutine and returns the number of
// envelopes dispatched.
func (d *Dispatcher) Tick() int {
	start := time.Now()
	panicked := 0

	n := d.queue.Drain(d.maxPerTick, func(env *envelope.Envelope) {
		panicked += d.dispatch(env)
	})

	metrics.RecordDispatchTick(n, panicked, d.queue.Len(), time.Since(start))

	return n
}

// Run ticks every interval on a background goroutine until ctx is done or Stop
// is called.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.taskMgr != nil {
		return ErrRunning
	}

	mgr := task.NewManager(ctx, d.logger)
	if err := mgr.StartInterval("dispatchTick", func(context.Context) bool {
		d.Tick()
		return true
	}, interval, false); err != nil {
		return err
	}
	d.taskMgr = mgr

	return nil
}

// Stop stops a running dispatcher and waits for the current tick to finish.
// Envelopes still queued stay in the queue.
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	mgr := d.taskMgr
	d.taskMgr = nil
	d.runMu.Unlock()

	if mgr == nil {
		return
	}
	mgr.Stop()
	mgr.Wait()
}

func (d *Dispatcher) dispatch(env *envelope.Envelope) (panicked int) {
	d.mu.RLock()
	subs := slices.Clone(d.subs)
	d.mu.RUnlock()

	for _, sub := range subs {
		if sub.typeName != AllTypes && (!env.IsTyped() || sub.typeName != env.TypeName()) {
			continue
		}
		if !d.call(sub, env) {
			panicked++
		}
	}

	return panicked
}

func (d *Dispatcher) call(sub *subscription, env *envelope.Envelope) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch handler panicked",
				"type", sub.typeName, "receiver", env.ReceiverKey(), "panic", r)
			ok = false
		}
	}()

	sub.handler(env)

	return true
}
