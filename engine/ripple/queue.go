package ripple

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// ErrQueueClosed is returned by Sync once the command queue has been closed.
var ErrQueueClosed = errors.New("ripple: command queue closed")

// commandQueue runs submitted functions one at a time, in submission order, on a single
// pool worker. The number of pending functions is bounded; a submission over the bound is
// rejected and counted instead of blocking the caller.
type commandQueue struct {
	mu     sync.RWMutex
	closed atomic.Bool

	pool     worker.DynamicWorkerPool
	inflight sync.WaitGroup

	limit   int64
	pending atomic.Int64
	dropped atomic.Uint64
	nextID  atomic.Int64
}

// newCommandQueue creates a started queue that holds at most limit pending functions.
func newCommandQueue(limit int) *commandQueue {
	if limit <= 0 {
		limit = 1
	}
	// Sync bypasses the limit, so the task channel keeps headroom above it.
	return &commandQueue{
		pool:  worker.NewDynamicWorkerPool(1, limit*2, time.Second),
		limit: int64(limit),
	}
}

// Submit enqueues fn. It returns false without blocking if the queue is closed or full.
// Functions still pending when the queue closes are skipped.
func (q *commandQueue) Submit(fn func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed.Load() {
		return false
	}
	if q.pending.Add(1) > q.limit {
		q.pending.Add(-1)
		q.dropped.Add(1)
		return false
	}

	q.enqueue(func() {
		defer q.pending.Add(-1)
		if q.closed.Load() {
			return
		}
		fn()
	})
	return true
}

// Sync blocks until every function submitted before it has run or been skipped.
func (q *commandQueue) Sync(ctx context.Context) error {
	done := make(chan struct{})

	q.mu.RLock()
	if q.closed.Load() {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.enqueue(func() { close(done) })
	q.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue requires q.mu to be read-locked.
func (q *commandQueue) enqueue(fn func()) {
	q.inflight.Add(1)
	q.pool.SubmitTask(worker.Task{
		ID: int(q.nextID.Add(1)),
		Do: func() (any, error) {
			defer q.inflight.Done()
			fn()
			return nil, nil
		},
	})
}

// Close rejects further submissions, waits for the running function, lets pending ones
// drain as no-ops and stops the worker. Safe to call more than once.
func (q *commandQueue) Close() {
	q.mu.Lock()
	if q.closed.Swap(true) {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	q.inflight.Wait()
	q.pool.Stop()
}

// Pending returns the number of submitted functions that have not finished.
func (q *commandQueue) Pending() int {
	return int(q.pending.Load())
}

// Dropped returns the number of submissions rejected because the queue was full.
func (q *commandQueue) Dropped() uint64 {
	return q.dropped.Load()
}
