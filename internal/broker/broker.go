// Package broker generalizes the teacher's jobs/results channel fan-out
// (internal/discovery.RunICMPSweep/RunSNMPScan) into a reusable, typed,
// bounded queue used by every sweep kind (spec.md §2, §5). It is in-process
// only: no external queue client is wired here since no pack example
// imports one (see DESIGN.md).
package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Queue is a bounded job queue with a pool of concurrent consumers.
// Enqueue drops the job (logging + counting) rather than blocking the
// producer once the queue is at depth, implementing the backpressure
// policy from spec.md §5.
type Queue[T any] struct {
	name     string
	jobs     chan T
	depth    int
	dropped  atomic.Int64
	handler  func(ctx context.Context, job T)
	workers  int
	wg       sync.WaitGroup
}

// New constructs a queue with the given name (used in log/metric fields),
// buffer depth, worker count, and per-job handler.
func New[T any](name string, depth, workers int, handler func(ctx context.Context, job T)) *Queue[T] {
	return &Queue[T]{
		name:    name,
		jobs:    make(chan T, depth),
		depth:   depth,
		handler: handler,
		workers: workers,
	}
}

// Start launches the worker pool; each worker recovers from panics so one
// bad job cannot take down the pool (teacher's panic-recovery convention,
// internal/discovery/scanner.go).
func (q *Queue[T]) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

func (q *Queue[T]) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.runJob(ctx, job)
		}
	}
}

func (q *Queue[T]) runJob(ctx context.Context, job T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("queue", q.name).Interface("panic", r).Msg("broker job panic recovered")
		}
	}()
	q.handler(ctx, job)
}

// Enqueue attempts to add a job; returns false and counts a drop if the
// queue is already at its configured depth, rather than blocking the
// scheduler (spec.md §5 backpressure policy).
func (q *Queue[T]) Enqueue(job T) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		q.dropped.Add(1)
		log.Warn().Str("queue", q.name).Msg("broker queue at capacity, dropping enqueue")
		return false
	}
}

// Depth reports the current number of buffered, unconsumed jobs.
func (q *Queue[T]) Depth() int { return len(q.jobs) }

// Dropped reports the cumulative count of dropped enqueues.
func (q *Queue[T]) Dropped() int64 { return q.dropped.Load() }

// Close stops accepting jobs and waits for in-flight workers to drain.
func (q *Queue[T]) Close() {
	close(q.jobs)
	q.wg.Wait()
}
