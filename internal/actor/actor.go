// Package actor provides single-goroutine executors with a mailbox.
//
// All functions submitted to an actor are executed sequentially on the actor's
// goroutine, so they may access the actor's state without synchronization.
package actor

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// ErrStopped is returned when a function is submitted to an actor that is not
// running.
var ErrStopped = errors.New("actor is stopped")

// Actor executes functions sequentially.
type Actor struct {
	// Clock is used to schedule delayed and periodic functions. If it is nil,
	// clock.RealClock is used.
	Clock clock.WithTickerAndDelayedExecution

	m        sync.Mutex
	queue    []func()
	wake     chan struct{}
	done     chan struct{}
	stopped  bool
	initOnce sync.Once
}

// Run executes submitted functions until ctx is canceled.
//
// Functions that are still queued when ctx is canceled are discarded.
func (a *Actor) Run(ctx context.Context) error {
	a.init()
	defer a.stop()

	for {
		a.m.Lock()
		queue := a.queue
		a.queue = nil
		a.m.Unlock()

		for _, fn := range queue {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.wake:
		}
	}
}

// Done returns a channel that is closed when the actor stops running.
func (a *Actor) Done() <-chan struct{} {
	a.init()
	return a.done
}

// Submit enqueues fn for execution. It does not block.
//
// It returns false if the actor has stopped.
func (a *Actor) Submit(fn func()) bool {
	a.init()

	a.m.Lock()
	defer a.m.Unlock()

	if a.stopped {
		return false
	}

	a.queue = append(a.queue, fn)

	select {
	case a.wake <- struct{}{}:
	default:
	}

	return true
}

// Call executes fn on the actor and blocks until it has returned.
func (a *Actor) Call(ctx context.Context, fn func()) error {
	executed := make(chan struct{})

	if !a.Submit(func() {
		defer close(executed)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		select {
		case <-executed:
			return nil
		default:
			return ErrStopped
		}
	case <-executed:
		return nil
	}
}

// RunDelayed executes fn on the actor after the delay d.
//
// It returns a function that cancels the execution if it has not yet
// occurred.
func (a *Actor) RunDelayed(d time.Duration, fn func()) (cancel func()) {
	var (
		m        sync.Mutex
		canceled bool
	)

	t := a.clock().AfterFunc(d, func() {
		a.Submit(func() {
			m.Lock()
			c := canceled
			m.Unlock()

			if !c {
				fn()
			}
		})
	})

	return func() {
		m.Lock()
		canceled = true
		m.Unlock()
		t.Stop()
	}
}

// RunAtFixedRate executes fn on the actor each time the interval d elapses,
// until the returned cancel function is called or the actor stops.
func (a *Actor) RunAtFixedRate(d time.Duration, fn func()) (cancel func()) {
	a.init()

	ticker := a.clock().NewTicker(d)
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-a.done:
				return
			case <-ticker.C():
				a.Submit(fn)
			}
		}
	}()

	return func() {
		once.Do(func() { close(stop) })
	}
}

func (a *Actor) clock() clock.WithTickerAndDelayedExecution {
	if a.Clock != nil {
		return a.Clock
	}
	return clock.RealClock{}
}

func (a *Actor) init() {
	a.initOnce.Do(func() {
		a.wake = make(chan struct{}, 1)
		a.done = make(chan struct{})
	})
}

func (a *Actor) stop() {
	a.m.Lock()
	defer a.m.Unlock()

	if !a.stopped {
		a.stopped = true
		a.queue = nil
		close(a.done)
	}
}
