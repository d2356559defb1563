package receiver

import (
	"sync/atomic"
)

// State is the lifecycle state of a receiver.
type State uint32

const (
	// UnattachedState is the state of a new receiver.
	UnattachedState State = iota
	// ConnectedState indicates the read loop is running on an attached transport.
	ConnectedState
	// DisposedState is final; a disposed receiver is never revived.
	DisposedState
)

// IsUnattached returns if the receiver has not been attached yet.
func (s State) IsUnattached() bool { return s == UnattachedState }

// IsConnected returns if the receiver is attached and running.
func (s State) IsConnected() bool { return s == ConnectedState }

// IsDisposed returns if the receiver has been disposed.
func (s State) IsDisposed() bool { return s == DisposedState }

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case UnattachedState:
		return "unattached"
	case ConnectedState:
		return "connected"
	case DisposedState:
		return "disposed"
	default:
		return "unknown"
	}
}

// stateMgr holds the receiver state. Transitions only move forward:
// Unattached -> Connected -> Disposed, or Unattached -> Disposed.
type stateMgr struct {
	state atomic.Uint32
}

func (sm *stateMgr) Get() State {
	return State(sm.state.Load())
}

// ToConnected moves Unattached to Connected. It returns the state found when the
// transition is refused.
func (sm *stateMgr) ToConnected() (State, bool) {
	if sm.state.CompareAndSwap(uint32(UnattachedState), uint32(ConnectedState)) {
		return ConnectedState, true
	}

	return sm.Get(), false
}

// ToDisposed moves any state to Disposed and returns the previous state.
func (sm *stateMgr) ToDisposed() State {
	return State(sm.state.Swap(uint32(DisposedState)))
}
