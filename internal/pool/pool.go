// Package pool implements the fixed-width worker pool and cancelable
// task registry the VFS facade uses to run parallel reads and batched
// read_all workloads.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	vfserrors "github.com/arrayvfs/arrayvfs/pkg/errors"
)

// Pool is a fixed-width worker pool. Tasks submitted through a Group
// derived from the same Pool never run more than Width concurrently.
type Pool struct {
	width int
	sem   *semaphore.Weighted
}

// New returns a Pool with the given worker width, clamped to at least 1.
func New(width int) *Pool {
	if width < 1 {
		width = 1
	}
	return &Pool{width: width, sem: semaphore.NewWeighted(int64(width))}
}

// Width returns the pool's configured worker count.
func (p *Pool) Width() int { return p.width }

// Group starts a new bounded-concurrency task group against this pool.
func (p *Pool) Group(ctx context.Context) *Group {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.width)
	return &Group{g: g, ctx: ctx, sem: p.sem}
}

// Group runs a set of tasks with combined concurrency capped at the
// owning Pool's width, and wait-all-or-first-error semantics: Wait
// blocks until every submitted task has completed and returns the
// first error encountered; later errors are discarded once the first
// is recorded, per the pool's documented trade-off.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
	sem *semaphore.Weighted
}

// Go schedules fn to run on a pool worker. fn receives the group's
// derived context, which is cancelled once the group records its first
// error, so cooperative tasks can stop early.
func (gr *Group) Go(fn func(ctx context.Context) error) {
	gr.g.Go(func() error {
		_ = gr.sem.Acquire(context.Background(), 1) // never fails with a background context
		defer gr.sem.Release(1)
		return fn(gr.ctx)
	})
}

// Wait blocks until every task submitted to gr has returned, then
// returns the first non-nil error observed (nil if all succeeded).
func (gr *Group) Wait() error { return gr.g.Wait() }

// Task is a cooperative cancellation flag handed to a registered task's
// body. Tasks should check Cancelled() between backend operations.
type Task struct {
	cancelled atomic.Bool
}

// Cancelled reports whether Registry.CancelAll has been called since
// this task was submitted.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// Registry tracks outstanding cancelable tasks submitted against a
// Group so they can be cancelled as a batch. It holds weak references
// in the sense that entries are removed as soon as their task
// completes; CancelAll only affects tasks registered at the time it is
// called.
type Registry struct {
	mu    sync.Mutex
	tasks map[int64]*Task
	next  int64
}

// NewRegistry returns an empty cancelable task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[int64]*Task)}
}

// Submit registers a new cancelable task and schedules fn on gr. fn
// receives the task's cancellation flag so it can check it between
// backend operations; a task cancelled before it ever starts returns
// errors.CodeCancelled without calling fn.
func (r *Registry) Submit(gr *Group, fn func(ctx context.Context, task *Task) error) {
	r.mu.Lock()
	id := r.next
	r.next++
	task := &Task{}
	r.tasks[id] = task
	r.mu.Unlock()

	gr.Go(func(ctx context.Context) error {
		defer func() {
			r.mu.Lock()
			delete(r.tasks, id)
			r.mu.Unlock()
		}()

		if task.Cancelled() {
			return vfserrors.New(vfserrors.CodeCancelled, "task cancelled before starting").
				WithComponent("pool").WithOperation("submit")
		}
		return fn(ctx, task)
	})
}

// CancelAll sets the cancellation flag on every task currently
// outstanding in the registry. Tasks not yet past their next
// cooperative check point will observe it and return
// errors.CodeCancelled; ordering against in-flight work already handed
// to an external pool is undefined, per the VFS contract.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		t.cancelled.Store(true)
	}
}

// Outstanding returns the number of tasks currently registered but not
// yet complete. Intended for tests and observability.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
