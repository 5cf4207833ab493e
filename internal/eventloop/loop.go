// Package eventloop runs funcs one at a time on a single goroutine.
//
// State owned by the loop (vehicle snapshot, route filter, connection state)
// is only touched from funcs dispatched here, so none of it needs a lock.
package eventloop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do when the loop has exited.
var ErrStopped = errors.New("event loop stopped")

// Loop executes dispatched funcs in FIFO order.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Dispatch queues fn without blocking. It returns false once the loop has
// stopped, in which case fn will never run.
func (l *Loop) Dispatch(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do dispatches fn and waits for it to finish. Calling Do from a func running
// on the loop deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Dispatch(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have run fn just before exiting.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued funcs until ctx is cancelled. Funcs already queued when
// ctx is cancelled are dropped; later Dispatch calls return false.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return
			}
			fn()
		}

		if len(batch) > 0 {
			continue
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
