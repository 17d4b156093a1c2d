package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-esplink/logger"
)

// State represents the lifecycle stage of the device connection.
type State uint32

const (
	// Disconnected indicates there is no connection.
	Disconnected State = iota
	// Connecting indicates a Connect call is dialing or waiting to retry.
	Connecting
	// Connected indicates the connection is established and usable.
	Connected
	// Faulted indicates the connection failed and must be replaced.
	Faulted
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// StateChangeHandler is invoked after the connection state changes.
//
// Note: handlers run synchronously on the goroutine performing the
// transition, which is usually the link worker. Keep them short.
type StateChangeHandler func(prevState State, newState State)

// StateMgr tracks the connection state and notifies listeners of changes.
//
// State transitions are safe for concurrent use. Handlers observe transitions
// in the order they happened.
type StateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	notifyMu sync.Mutex
	state    atomic.Uint32
	handlers []StateChangeHandler
	logger   logger.Logger
}

// NewStateMgr creates a StateMgr in the Disconnected state.
func NewStateMgr(l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &StateMgr{logger: l}
	mgr.cond = sync.NewCond(&mgr.mu)
	mgr.state.Store(uint32(Disconnected))
	mgr.AddHandler(handlers...)

	return mgr
}

// State returns the current state.
func (m *StateMgr) State() State {
	return State(m.state.Load())
}

// AddHandler registers one or more state change handlers.
func (m *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			m.handlers = append(m.handlers, h)
		}
	}
}

// WaitState blocks until the state equals state or ctx is done.
func (m *StateMgr) WaitState(ctx context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer stop()

	for m.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.cond.Wait()
	}

	return nil
}

// set moves to newState and invokes handlers. It is a no-op if the state is unchanged.
func (m *StateMgr) set(newState State) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	prevState := m.State()
	if prevState == newState {
		m.mu.Unlock()
		return
	}
	m.state.Store(uint32(newState))
	m.cond.Broadcast()
	handlers := append([]StateChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	m.logger.Debug("connection state changed", "prevState", prevState, "curState", newState)

	for _, h := range handlers {
		h(prevState, newState)
	}
}
