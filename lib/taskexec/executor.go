package taskexec

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/semaphore"
)

var plog = logger.GetLogger("taskexec")

var (
	// ErrClosed is returned by Submit after the executor was closed
	ErrClosed = errors.New("taskexec: executor is closed")
	// ErrCancelled is reported by a future that was cancelled
	ErrCancelled = errors.New("taskexec: task was cancelled")
)

// --------------------------------------------------------------------------
// Strategy
// --------------------------------------------------------------------------

// Strategy selects how submitted tasks are run
type Strategy int

const (
	// Goroutine runs every task on its own goroutine
	Goroutine Strategy = iota
	// Pool runs at most Options.PoolSize tasks at once; a task submitted
	// while the pool is full runs on the submitting goroutine
	Pool
)

func (s Strategy) String() string {
	switch s {
	case Goroutine:
		return "goroutine"
	case Pool:
		return "pool"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses the names returned by Strategy.String
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "goroutine", "":
		return Goroutine, nil
	case "pool":
		return Pool, nil
	default:
		return Goroutine, fmt.Errorf("taskexec: unknown strategy %q", s)
	}
}

// DefaultStrategy is Goroutine; goroutines are cheap on every platform the
// runtime supports.
func DefaultStrategy() Strategy {
	return Goroutine
}

// Options configure an executor
type Options struct {
	Strategy Strategy
	PoolSize int // Pool only; <= 0 means GOMAXPROCS
}

// --------------------------------------------------------------------------
// Executor
// --------------------------------------------------------------------------

// Executor runs tasks with the strategy chosen at construction. It is meant
// to be scoped to one batch of submissions: Close it once all tasks are
// submitted. Closing does not wait for running tasks; their futures are the
// way to join them.
type Executor struct {
	strategy Strategy
	sem      *semaphore.Weighted
	closed   atomic.Bool

	submitted  atomic.Int64
	callerRuns atomic.Int64
}

// New creates an executor
func New(opts Options) *Executor {
	e := &Executor{strategy: opts.Strategy}
	if opts.Strategy == Pool {
		size := opts.PoolSize
		if size <= 0 {
			size = runtime.GOMAXPROCS(0)
		}
		e.sem = semaphore.NewWeighted(int64(size))
	}
	return e
}

// Strategy returns the strategy of the executor
func (e *Executor) Strategy() Strategy {
	return e.strategy
}

// Close stops accepting submissions. Tasks already submitted keep running.
func (e *Executor) Close() {
	if e.closed.CompareAndSwap(false, true) {
		plog.Debugf("closed %s executor after %d tasks (%d run by the caller)",
			e.strategy, e.submitted.Load(), e.callerRuns.Load())
	}
}

// Closed reports whether Close was called
func (e *Executor) Closed() bool {
	return e.closed.Load()
}

// CallerRuns returns how many tasks ran on the submitting goroutine because
// the pool was full
func (e *Executor) CallerRuns() int64 {
	return e.callerRuns.Load()
}

// dispatch runs fn according to the strategy
func (e *Executor) dispatch(fn func()) {
	e.submitted.Add(1)
	switch e.strategy {
	case Pool:
		if !e.sem.TryAcquire(1) {
			e.callerRuns.Add(1)
			fn()
			return
		}
		go func() {
			defer e.sem.Release(1)
			fn()
		}()
	default:
		go fn()
	}
}

// --------------------------------------------------------------------------
// Submission
// --------------------------------------------------------------------------

// Submit schedules fn on the executor and returns its future. fn receives a
// context that is cancelled when ctx is done or the future is cancelled.
func Submit[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	taskCtx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	e.dispatch(func() {
		defer cancel()
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				plog.Errorf("task panicked: %v", r)
				f.err = fmt.Errorf("taskexec: task panicked: %v", r)
			}
		}()
		f.value, f.err = fn(taskCtx)
	})
	return f, nil
}
