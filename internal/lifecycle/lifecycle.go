// Package lifecycle owns the cancellation context and terminal state of one
// transfer session.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ErrAlreadyStarted is returned by Start on a controller that has left Idle
var ErrAlreadyStarted = errors.New("session already started")

// State is the position of a session in its lifecycle
type State int

const (
	Idle State = iota
	Running
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a session
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// Controller moves a session from Idle through Running to exactly one
// terminal state and cancels its context on request or on a signal.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	done  chan struct{}

	sigCh    chan os.Signal
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New returns an idle controller whose context derives from parent
func New(parent context.Context) *Controller {
	ctx, cancel := context.WithCancel(parent)
	return &Controller{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Context is cancelled by Cancel, by a handled signal, or once the session
// has finished.
func (c *Controller) Context() context.Context { return c.ctx }

// Start moves the session to Running
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return fmt.Errorf("%w: state is %s", ErrAlreadyStarted, c.state)
	}
	c.state = Running
	return nil
}

// Cancel requests cancellation. It is safe to call more than once.
func (c *Controller) Cancel() {
	c.cancel()
}

// Finish records the terminal state. Only the first call wins; later calls
// and non-terminal states return false.
func (c *Controller) Finish(state State) bool {
	if !state.Terminal() {
		return false
	}

	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	c.state = state
	close(c.done)
	c.mu.Unlock()

	c.cancel()
	return true
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the session reaches a terminal state
func (c *Controller) Done() <-chan struct{} { return c.done }

// HandleSignals cancels the session on SIGINT or SIGTERM. onSignal, if not
// nil, runs once before the cancellation. Later signals are ignored until
// Stop.
func (c *Controller) HandleSignals(onSignal func()) {
	c.mu.Lock()
	if c.sigCh != nil {
		c.mu.Unlock()
		return
	}
	c.sigCh = make(chan os.Signal, 1)
	c.stopCh = make(chan struct{})
	sigCh, stopCh := c.sigCh, c.stopCh
	c.mu.Unlock()

	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		fired := false
		for {
			select {
			case <-sigCh:
				if fired {
					continue
				}
				fired = true
				if onSignal != nil {
					onSignal()
				}
				c.Cancel()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop unsubscribes from signals
func (c *Controller) Stop() {
	c.mu.Lock()
	sigCh, stopCh := c.sigCh, c.stopCh
	c.mu.Unlock()
	if sigCh == nil {
		return
	}
	c.stopOnce.Do(func() {
		signal.Stop(sigCh)
		close(stopCh)
	})
}
