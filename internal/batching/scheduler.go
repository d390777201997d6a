package batching

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Amund211/chatrelay/internal/logging"
)

var ErrResultCountMismatch = errors.New("flush returned a different number of results than items")
var ErrSchedulerCleared = errors.New("batch scheduler cleared")
var ErrFlushPanicked = errors.New("flush panicked")

type Timer interface {
	Stop() bool
}

// AfterFunc calls f in its own goroutine once d has elapsed, unless the timer is stopped first
type AfterFunc func(d time.Duration, f func()) Timer

func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Result[Out any] struct {
	Value Out
	Err   error
}

type FlushFunc[In any, Out any] func(ctx context.Context, items []In) ([]Out, error)

type waiter[In any, Out any] struct {
	item   In
	result chan Result[Out]
}

type queue[In any, Out any] struct {
	ctx        context.Context
	flush      FlushFunc[In, Out]
	waiters    []waiter[In, Out]
	timer      Timer
	generation uint64
}

// Scheduler coalesces items submitted under the same batch key into one flush.
//
// Every Submit restarts the debounce window for its key. When the window
// elapses without another Submit the queued items are flushed together, in the
// order they were submitted, and each waiter receives the result at its own
// position.
type Scheduler[In any, Out any] struct {
	name      string
	window    time.Duration
	afterFunc AfterFunc

	mu         sync.Mutex
	queues     map[string]*queue[In, Out]
	generation uint64
}

func NewScheduler[In any, Out any](name string, window time.Duration, afterFunc AfterFunc) *Scheduler[In, Out] {
	return &Scheduler[In, Out]{
		name:      name,
		window:    window,
		afterFunc: afterFunc,
		queues:    make(map[string]*queue[In, Out]),
	}
}

// Submit queues item under batchKey and returns a channel that receives exactly one result.
//
// The whole batch is flushed with the flush function of the last Submit in the
// window, and the context of the first.
func (s *Scheduler[In, Out]) Submit(ctx context.Context, batchKey string, item In, flush FlushFunc[In, Out]) <-chan Result[Out] {
	result := make(chan Result[Out], 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[batchKey]
	if !ok {
		q = &queue[In, Out]{
			// The batch outlives the request that happened to open it
			ctx: context.WithoutCancel(ctx),
		}
		s.queues[batchKey] = q
	}
	q.flush = flush
	q.waiters = append(q.waiters, waiter[In, Out]{item: item, result: result})

	if q.timer != nil {
		q.timer.Stop()
	}
	s.generation++
	generation := s.generation
	q.generation = generation
	q.timer = s.afterFunc(s.window, func() {
		s.fire(batchKey, generation)
	})

	return result
}

// Request submits item and waits for its result.
//
// A done ctx stops the wait, not the flush.
func (s *Scheduler[In, Out]) Request(ctx context.Context, batchKey string, item In, flush FlushFunc[In, Out]) (Out, error) {
	result := s.Submit(ctx, batchKey, item, flush)
	select {
	case r := <-result:
		return r.Value, r.Err
	case <-ctx.Done():
		var empty Out
		return empty, ctx.Err()
	}
}

func (s *Scheduler[In, Out]) fire(batchKey string, generation uint64) {
	s.mu.Lock()
	q, ok := s.queues[batchKey]
	if !ok || q.generation != generation {
		// Superseded by a later Submit, or already flushed
		s.mu.Unlock()
		return
	}
	delete(s.queues, batchKey)
	s.mu.Unlock()

	s.flushQueue(batchKey, q)
}

func (s *Scheduler[In, Out]) flushQueue(batchKey string, q *queue[In, Out]) {
	items := make([]In, len(q.waiters))
	for i, w := range q.waiters {
		items[i] = w.item
	}

	results, err := s.runFlush(q, items)
	if err == nil && len(results) != len(items) {
		err = fmt.Errorf("%w: %d items, %d results", ErrResultCountMismatch, len(items), len(results))
	}

	recordFlush(q.ctx, s.name, len(items), err)

	if err != nil {
		logging.FromContext(q.ctx).ErrorContext(
			q.ctx, "Batch flush failed",
			"scheduler", s.name,
			"batchKey", batchKey,
			"items", len(items),
			"error", err.Error(),
		)
		for _, w := range q.waiters {
			w.result <- Result[Out]{Err: err}
		}
		return
	}

	for i, w := range q.waiters {
		w.result <- Result[Out]{Value: results[i]}
	}
}

func (s *Scheduler[In, Out]) runFlush(q *queue[In, Out], items []In) (results []Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			// Flushes run on timer goroutines, so a panic is delivered to the waiters instead
			results = nil
			err = fmt.Errorf("%w: %v", ErrFlushPanicked, r)
		}
	}()

	return q.flush(q.ctx, items)
}

// Pending returns the number of items waiting for the next flush of batchKey
func (s *Scheduler[In, Out]) Pending(batchKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[batchKey]
	if !ok {
		return 0
	}
	return len(q.waiters)
}

// PendingTotal returns the number of queued items across all batch keys
func (s *Scheduler[In, Out]) PendingTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, q := range s.queues {
		total += len(q.waiters)
	}
	return total
}

func (s *Scheduler[In, Out]) takeAll() (keys []string, queues map[string]*queue[In, Out]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queues = s.queues
	s.queues = make(map[string]*queue[In, Out])

	for key, q := range queues {
		q.timer.Stop()
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, queues
}

// Flush flushes every queue now, without waiting for the windows to elapse.
//
// Returns once all flushes have completed.
func (s *Scheduler[In, Out]) Flush() {
	keys, queues := s.takeAll()
	for _, key := range keys {
		s.flushQueue(key, queues[key])
	}
}

// Clear drops every queue, failing the waiters with ErrSchedulerCleared
func (s *Scheduler[In, Out]) Clear() {
	keys, queues := s.takeAll()
	for _, key := range keys {
		for _, w := range queues[key].waiters {
			w.result <- Result[Out]{Err: ErrSchedulerCleared}
		}
	}
}
