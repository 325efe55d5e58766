package taskexec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndWait(t *testing.T) {
	for _, strategy := range []Strategy{Goroutine, Pool} {
		t.Run(strategy.String(), func(t *testing.T) {
			e := New(Options{Strategy: strategy, PoolSize: 2})
			var futures []*Future[int]
			for i := 0; i < 10; i++ {
				f, err := Submit(context.Background(), e, func(ctx context.Context) (int, error) {
					return i * i, nil
				})
				require.NoError(t, err)
				futures = append(futures, f)
			}
			e.Close()

			for i, f := range futures {
				v, err := f.Wait(context.Background())
				require.NoError(t, err)
				assert.Equal(t, i*i, v)
				assert.True(t, f.Finished())
			}
		})
	}
}

func TestSubmitAfterClose(t *testing.T) {
	e := New(Options{})
	e.Close()
	e.Close()
	assert.True(t, e.Closed())

	_, err := Submit(context.Background(), e, func(ctx context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseDoesNotWait(t *testing.T) {
	e := New(Options{})
	release := make(chan struct{})
	f, err := Submit(context.Background(), e, func(ctx context.Context) (string, error) {
		<-release
		return "done", nil
	})
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a running task")
	}
	assert.False(t, f.Finished())

	close(release)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestPoolRunsOnCallerWhenFull(t *testing.T) {
	e := New(Options{Strategy: Pool, PoolSize: 1})
	defer e.Close()

	release := make(chan struct{})
	blocker, err := Submit(context.Background(), e, func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})
	require.NoError(t, err)

	// the only slot is taken, so the next task runs before Submit returns
	var ran atomic.Bool
	f, err := Submit(context.Background(), e, func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 7, nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())
	assert.True(t, f.Finished())
	assert.Equal(t, int64(1), e.CallerRuns())

	close(release)
	_, err = blocker.Wait(context.Background())
	require.NoError(t, err)
}

func TestCancel(t *testing.T) {
	e := New(Options{})
	started := make(chan struct{})
	f, err := Submit(context.Background(), e, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.NoError(t, err)
	e.Close()

	<-started
	f.Cancel()
	assert.True(t, f.Cancelled())

	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestCancelAfterCompletion(t *testing.T) {
	e := New(Options{})
	f, err := Submit(context.Background(), e, func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	e.Close()

	<-f.Done()
	f.Cancel()
	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestWaitHonoursContext(t *testing.T) {
	e := New(Options{})
	release := make(chan struct{})
	defer close(release)
	f, err := Submit(context.Background(), e, func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})
	require.NoError(t, err)
	e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskErrorsAndPanics(t *testing.T) {
	e := New(Options{})
	boom := errors.New("boom")
	failing, err := Submit(context.Background(), e, func(ctx context.Context) (int, error) { return 0, boom })
	require.NoError(t, err)
	panicking, err := Submit(context.Background(), e, func(ctx context.Context) (int, error) { panic("oops") })
	require.NoError(t, err)
	e.Close()

	_, err = failing.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = panicking.Wait(context.Background())
	assert.ErrorContains(t, err, "oops")
}

func TestConcurrentSubmit(t *testing.T) {
	e := New(Options{Strategy: Pool, PoolSize: 4})
	var wg sync.WaitGroup
	var sum atomic.Int64
	futures := make(chan *Future[int64], 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := Submit(context.Background(), e, func(ctx context.Context) (int64, error) {
				return int64(i), nil
			})
			if assert.NoError(t, err) {
				futures <- f
			}
		}()
	}
	wg.Wait()
	e.Close()
	close(futures)

	for f := range futures {
		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		sum.Add(v)
	}
	assert.Equal(t, int64(4950), sum.Load())
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{Goroutine, Pool} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStrategy("threads")
	assert.Error(t, err)
	assert.Equal(t, Goroutine, DefaultStrategy())
}
