package actor

import (
	"context"
	"sync"
)

// Future is the result of an asynchronous operation.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture returns a new incomplete future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete completes the future with a value.
//
// It returns false if the future was already completed.
func (f *Future[T]) Complete(v T) bool {
	return f.resolve(v, nil)
}

// Fail completes the future exceptionally.
//
// It returns false if the future was already completed.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.resolve(zero, err)
}

// Done returns a channel that is closed when the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is completed or ctx is canceled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-f.done:
		return f.value, f.err
	}
}

func (f *Future[T]) resolve(v T, err error) bool {
	ok := false

	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
		ok = true
	})

	return ok
}
