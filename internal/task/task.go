// Package task supervises the goroutines that run read loops, accept loops
// and drain loops.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-framer/logger"
)

// ErrStopped is returned when a task is started on a stopped Manager.
var ErrStopped = errors.New("task: manager already stopped")

// LoopFunc performs one iteration of a task loop.
// It should return true to continue running the task, or false to stop the goroutine.
type LoopFunc func(ctx context.Context) bool

// RunFunc is the body of a one-shot task. It must return once ctx is done.
type RunFunc func(ctx context.Context)

// Manager manages the lifecycle of goroutines (tasks) owned by a single component.
//
// All tasks share one context derived from the parent given to NewManager. Stop
// cancels it, and Wait blocks until every task has returned. A Manager is
// single-use: once stopped, it refuses new tasks.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//
//	_ = mgr.Start("readLoop", func(ctx context.Context) bool {
//	    // ... one iteration ...
//	    return true // Return true to continue running, false to stop
//	})
//
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.Mutex // protects wg.Add against Stop
}

// NewManager creates a new Manager with the given context as the parent context and logger.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by all tasks of this manager.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Start starts a new goroutine that calls loopFunc until it returns false or the
// manager context is done.
func (mgr *Manager) Start(name string, loopFunc LoopFunc) error {
	return mgr.Go(name, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if !mgr.callWithRecoverBool(name, func() bool { return loopFunc(ctx) }) {
					return
				}
			}
		}
	})
}

// Go starts a new goroutine that runs runFunc once.
func (mgr *Manager) Go(name string, runFunc RunFunc) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.ctx.Err() != nil {
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	}

	mgr.logger.Debug("start task", "name", name)
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		mgr.callWithRecover(name, func() {
			runFunc(mgr.ctx)
		})
	}()

	return nil
}

// StartInterval starts a new goroutine that executes loopFunc at the specified interval.
// If runNow is true, loopFunc is also executed once before the first tick.
func (mgr *Manager) StartInterval(name string, loopFunc LoopFunc, interval time.Duration, runNow bool) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval: %v", interval)
	}

	return mgr.Go(name, func(ctx context.Context) {
		if runNow && !mgr.callWithRecoverBool(name, func() bool { return loopFunc(ctx) }) {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecoverBool(name, func() bool { return loopFunc(ctx) }) {
					return
				}
			}
		}
	})
}

// Stop signals all running goroutines to terminate. It does not wait for them.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	mgr.cancel()
}

// Wait waits for all goroutines to terminate.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// Done returns a channel closed once every task has terminated.
func (mgr *Manager) Done() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(ch)
	}()

	return ch
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

// callWithRecover calls a function with panic protection
func (mgr *Manager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}

// callWithRecoverBool calls a function that returns bool with panic protection.
// A panicking iteration stops the task.
func (mgr *Manager) callWithRecoverBool(name string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			ok = false
		}
	}()

	return fn()
}
