package session

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// TaskRegistry tracks the background tasks a connection launches so teardown
// can cancel and await them.
//
// Go never blocks the caller. When a limit is set, tasks beyond it are started
// but wait on a semaphore before running their body.
type TaskRegistry struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	sem    *semaphore.Weighted

	mu     sync.Mutex
	closed bool

	pending atomic.Int64
}

// NewTaskRegistry derives a cancellable context from parent. limit caps the
// number of concurrently running task bodies; zero or negative is unbounded.
func NewTaskRegistry(parent context.Context, limit int) *TaskRegistry {
	ctx, cancel := context.WithCancel(parent)
	r := &TaskRegistry{ctx: ctx, cancel: cancel}
	if limit > 0 {
		r.sem = semaphore.NewWeighted(int64(limit))
	}
	return r
}

// Go launches fn. It reports false, without running fn, once the registry has
// been shut down. fn receives a context cancelled by [TaskRegistry.Shutdown].
func (r *TaskRegistry) Go(fn func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	r.pending.Add(1)
	r.group.Go(func() error {
		defer r.pending.Add(-1)
		if r.sem != nil {
			if err := r.sem.Acquire(r.ctx, 1); err != nil {
				return nil
			}
			defer r.sem.Release(1)
		}
		if r.ctx.Err() != nil {
			return nil
		}
		fn(r.ctx)
		return nil
	})
	return true
}

// Pending returns the number of tasks launched and not yet finished,
// including those waiting for a slot.
func (r *TaskRegistry) Pending() int {
	return int(r.pending.Load())
}

// Drain rejects new tasks and waits for launched ones to finish. If ctx
// ends first the remaining tasks are cancelled and awaited, and ctx's error
// is returned.
func (r *TaskRegistry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = r.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// Shutdown rejects new tasks, cancels running ones and waits for all of them
// to return.
func (r *TaskRegistry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	_ = r.group.Wait()
}
