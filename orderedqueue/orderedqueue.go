// Package orderedqueue implements the bounded, concurrency-limited
// FIFO the ShipClient schedules block decode/assembly pipelines on
// during SYNC (spec §4.5): up to C tasks run concurrently, but
// completions are always surfaced to the consumer in the order they
// were enqueued, and a single failure pauses the queue until the
// caller explicitly resumes it.
package orderedqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"
)

// ErrPaused is returned by Enqueue while the queue is paused, either
// because a prior task failed or because Pause was called directly.
var ErrPaused = errors.New("orderedqueue: paused")

// Task is one unit of async work; R is the queue's result type.
type Task[R any] func(ctx context.Context) (R, error)

// Item is a completed task surfaced to the consumer, still tagged
// with its enqueue sequence for diagnostics.
type Item[R any] struct {
	Seq   uint64
	Value R
	Err   error
}

// Queue bounds concurrency to C outstanding tasks (Enqueue blocks
// past that point, which doubles as backpressure on the caller) while
// guaranteeing in-order delivery on Results().
type Queue[R any] struct {
	concurrency int64
	sem         *semaphore.Weighted
	logger      hclog.Logger

	mu       sync.Mutex
	nextSeq  uint64
	nextEmit uint64
	pending  map[uint64]Item[R]
	paused   bool

	out chan Item[R]
}

// New creates a queue with concurrency C and an output channel sized
// to hold C in-flight results without blocking the dispatcher.
func New[R any](concurrency int, logger hclog.Logger) *Queue[R] {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Queue[R]{
		concurrency: int64(concurrency),
		sem:         semaphore.NewWeighted(int64(concurrency)),
		logger:      logger,
		pending:     map[uint64]Item[R]{},
		out:         make(chan Item[R], concurrency),
	}
}

// Results is the in-order stream of completed tasks.
func (q *Queue[R]) Results() <-chan Item[R] {
	return q.out
}

// Enqueue blocks until a concurrency slot is free (or ctx is done),
// then runs task on a new goroutine. It returns ErrPaused immediately
// if the queue is currently paused.
func (q *Queue[R]) Enqueue(ctx context.Context, task Task[R]) error {
	q.mu.Lock()

	if q.paused {
		q.mu.Unlock()

		return ErrPaused
	}

	seq := q.nextSeq
	q.nextSeq++
	q.mu.Unlock()

	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	go func() {
		defer q.sem.Release(1)

		value, err := task(ctx)
		q.complete(seq, value, err)
	}()

	return nil
}

func (q *Queue[R]) complete(seq uint64, value R, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending[seq] = Item[R]{Seq: seq, Value: value, Err: err}

	if q.paused {
		return // a prior failure already stopped emission; drop silently
	}

	for {
		item, ok := q.pending[q.nextEmit]
		if !ok {
			return
		}

		delete(q.pending, q.nextEmit)
		q.nextEmit++

		q.out <- item

		if item.Err != nil {
			q.logger.Error("orderedqueue: task failed, pausing", "seq", item.Seq, "err", item.Err)
			q.pauseLocked()

			return
		}
	}
}

// Pause stops both new Enqueue calls and further in-order emission
// until Start is called.
func (q *Queue[R]) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pauseLocked()
}

func (q *Queue[R]) pauseLocked() {
	q.paused = true
}

// Start resumes accepting Enqueue calls. It does not replay anything
// dropped while paused; the caller is expected to have called Clear
// first if resuming from a different position.
func (q *Queue[R]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.paused = false
}

// Clear drops every buffered-but-unemitted result and fast-forwards
// the emission cursor past every sequence number handed out so far,
// so stale in-flight tasks launched before the clear cannot be
// emitted out of order after it.
func (q *Queue[R]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = map[uint64]Item[R]{}
	q.nextEmit = q.nextSeq
}

// Paused reports whether the queue is currently refusing Enqueue
// calls.
func (q *Queue[R]) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.paused
}

// Close waits for every task already launched by Enqueue to finish,
// then closes the Results() channel so a consumer ranging or selecting
// on it terminates instead of blocking forever. The caller must not
// call Enqueue again after calling Close.
func (q *Queue[R]) Close(ctx context.Context) error {
	if err := q.sem.Acquire(ctx, q.concurrency); err != nil {
		return fmt.Errorf("orderedqueue: waiting for in-flight tasks: %w", err)
	}

	q.sem.Release(q.concurrency)

	q.mu.Lock()
	close(q.out)
	q.mu.Unlock()

	return nil
}
