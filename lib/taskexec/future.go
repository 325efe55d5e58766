package taskexec

import (
	"context"
	"sync/atomic"
)

// Future is the pending result of a submitted task
type Future[T any] struct {
	done      chan struct{}
	cancel    context.CancelFunc
	cancelled atomic.Bool

	// written once before done is closed
	value T
	err   error
}

// Failed returns a finished future holding err
func Failed[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), cancel: func() {}, err: err}
	close(f.done)
	return f
}

// Cancel cancels the context of the task. After Cancel the future reports
// ErrCancelled, also when the task had already finished.
func (f *Future[T]) Cancel() {
	f.cancelled.Store(true)
	f.cancel()
}

// Cancelled reports whether Cancel was called
func (f *Future[T]) Cancelled() bool {
	return f.cancelled.Load()
}

// Done is closed when the task has returned
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task returned, the future was cancelled or ctx is
// done, and returns the result of the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	if f.cancelled.Load() {
		return zero, ErrCancelled
	}
	select {
	case <-f.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if f.cancelled.Load() {
		return zero, ErrCancelled
	}
	return f.value, f.err
}

// Finished reports whether the task has returned
func (f *Future[T]) Finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
