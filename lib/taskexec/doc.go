/*
Package taskexec runs cancellable tasks and hands out futures for their
results.

The execution strategy is picked once when the executor is created:

  - Goroutine: one goroutine per task. This is the default.
  - Pool: at most PoolSize tasks run concurrently, bounded by a weighted
    semaphore. When no slot is free the task runs on the goroutine that
    submitted it, so a submission is never dropped.

An executor belongs to one batch of work. Close it right after the last
Submit; Close never waits for running tasks. Use the futures to wait:

	exec := taskexec.New(taskexec.Options{Strategy: taskexec.Goroutine})
	f, err := taskexec.Submit(ctx, exec, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	exec.Close()
	v, err := f.Wait(ctx)

Cancelling a future cancels the context passed to its task, and the future
reports ErrCancelled from then on.
*/
package taskexec
