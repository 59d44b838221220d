// Package workqueue runs asynchronous tasks with a hard concurrency ceiling
// and first-in first-out admission.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned for tasks submitted after Close.
var ErrClosed = errors.New("work queue closed")

// Task is a unit of work. Its error is captured into the Result.
type Task[T any] func(ctx context.Context) (T, error)

// Result is the settled outcome of a task.
type Result[T any] struct {
	Value T
	Err   error
}

// Future resolves once its task has finished (or was never run).
type Future[T any] struct {
	done chan struct{}
	res  Result[T]
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks for the result. If ctx ends first the task keeps running
// and Wait returns ctx.Err() as the result error.
func (f *Future[T]) Wait(ctx context.Context) Result[T] {
	select {
	case <-f.done:
		return f.res
	case <-ctx.Done():
		return Result[T]{Err: ctx.Err()}
	}
}

func (f *Future[T]) settle(r Result[T]) {
	f.res = r
	close(f.done)
}

type job[T any] struct {
	ctx    context.Context
	task   Task[T]
	future *Future[T]
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Running   int
	Pending   int
	Peak      int
	Completed int64
	Failed    int64
}

// Queue admits at most maxConcurrent tasks at a time. Pending tasks are held
// in a FIFO slice; no goroutine exists for a task until it is admitted.
type Queue[T any] struct {
	mu        sync.Mutex
	max       int
	running   int
	peak      int
	pending   []*job[T]
	completed int64
	failed    int64
	closed    bool
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// New creates a queue. maxConcurrent below 1 is treated as 1.
func New[T any](maxConcurrent int, logger *slog.Logger) *Queue[T] {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue[T]{max: maxConcurrent, logger: logger}
}

// Submit enqueues task and returns its future. The task runs with ctx;
// if ctx is already done when the task is admitted, the task is not run.
func (q *Queue[T]) Submit(ctx context.Context, task Task[T]) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.settle(Result[T]{Err: ErrClosed})
		return f
	}
	q.pending = append(q.pending, &job[T]{ctx: ctx, task: task, future: f})
	q.pump()
	q.mu.Unlock()
	return f
}

// pump admits pending jobs while capacity remains. Caller holds q.mu.
func (q *Queue[T]) pump() {
	for q.running < q.max && len(q.pending) > 0 {
		j := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		q.running++
		if q.running > q.peak {
			q.peak = q.running
		}
		q.wg.Add(1)
		go q.run(j)
	}
}

func (q *Queue[T]) run(j *job[T]) {
	defer q.wg.Done()

	res := q.execute(j)

	q.mu.Lock()
	q.running--
	q.completed++
	if res.Err != nil {
		q.failed++
	}
	q.pump()
	q.mu.Unlock()

	j.future.settle(res)
}

func (q *Queue[T]) execute(j *job[T]) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("work queue task panic", "panic", r)
			res = Result[T]{Err: fmt.Errorf("task panic: %v", r)}
		}
	}()

	if err := j.ctx.Err(); err != nil {
		return Result[T]{Err: err}
	}
	v, err := j.task(j.ctx)
	return Result[T]{Value: v, Err: err}
}

// Stats returns current counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Running:   q.running,
		Pending:   len(q.pending),
		Peak:      q.peak,
		Completed: q.completed,
		Failed:    q.failed,
	}
}

// Close rejects new submissions, lets queued tasks drain, and waits for them.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
