// Package reporter delivers transfer events to a single consumer without
// ever blocking the transfer on it.
package reporter

import (
	"sync"

	"sendmer/pkg/types"
)

// DefaultQueue is the queue bound used when New is given a non-positive size
const DefaultQueue = 64

var closedEvents = func() chan types.Event {
	ch := make(chan types.Event)
	close(ch)
	return ch
}()

// Reporter queues events for one consumer. Progress events are coalesced
// when the consumer falls behind; every other event is delivered.
//
// The stream always opens with Started and ends with exactly one terminal
// event, after which the channel is closed. A nil *Reporter discards
// everything.
type Reporter struct {
	role  types.Role
	queue int

	mu         sync.Mutex
	cond       *sync.Cond
	pending    []types.Event
	started    bool
	terminated bool
	progress   map[string]int64

	out chan types.Event
}

// New starts a reporter for role holding at most queue pending progress
// events.
func New(role types.Role, queue int) *Reporter {
	if queue <= 0 {
		queue = DefaultQueue
	}
	r := &Reporter{
		role:     role,
		queue:    queue,
		progress: make(map[string]int64),
		out:      make(chan types.Event),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.run()
	return r
}

// Events returns the delivery channel. It is closed after the terminal event.
func (r *Reporter) Events() <-chan types.Event {
	if r == nil {
		return closedEvents
	}
	return r.out
}

// Emit queues ev. It never waits for the consumer.
func (r *Reporter) Emit(ev types.Event) {
	if r == nil {
		return
	}
	if ev.Role == "" {
		ev.Role = r.role
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated {
		return
	}
	if !r.started {
		r.started = true
		if ev.Kind != types.EventStarted {
			r.pending = append(r.pending, types.Event{Kind: types.EventStarted, Role: r.role})
		}
	} else if ev.Kind == types.EventStarted {
		return
	}

	switch {
	case ev.Kind == types.EventItemProgress:
		if last, ok := r.progress[ev.Item]; ok && ev.Bytes < last {
			return
		}
		r.progress[ev.Item] = ev.Bytes
		r.enqueueProgress(ev)
	default:
		if ev.Kind.Terminal() {
			r.terminated = true
		}
		r.pending = append(r.pending, ev)
	}
	r.cond.Signal()
}

// enqueueProgress adds a progress event, making room when the queue is full
func (r *Reporter) enqueueProgress(ev types.Event) {
	if len(r.pending) < r.queue {
		r.pending = append(r.pending, ev)
		return
	}

	oldest := -1
	for i, p := range r.pending {
		if p.Kind != types.EventItemProgress {
			continue
		}
		if p.Item == ev.Item {
			r.pending[i] = ev
			return
		}
		if oldest < 0 {
			oldest = i
		}
	}
	if oldest < 0 {
		// queue is all lifecycle events; they win
		return
	}
	r.pending = append(r.pending[:oldest], r.pending[oldest+1:]...)
	r.pending = append(r.pending, ev)
}

func (r *Reporter) run() {
	defer close(r.out)

	for {
		r.mu.Lock()
		for len(r.pending) == 0 && !r.terminated {
			r.cond.Wait()
		}
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return
		}
		ev := r.pending[0]
		r.pending[0] = types.Event{}
		r.pending = r.pending[1:]
		r.mu.Unlock()

		r.out <- ev
		if ev.Kind.Terminal() {
			return
		}
	}
}
