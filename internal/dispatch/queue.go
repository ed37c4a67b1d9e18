// Package dispatch bounds the number of concurrently processed inbound
// messages while preserving per-conversation ordering. Messages of the same
// conversation run strictly in admission order; independent conversations
// interleave freely up to the global concurrency limit.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ErrQueueClosed is returned for tasks enqueued after Shutdown.
var ErrQueueClosed = errors.New("dispatch queue is closed")

// TaskFunc processes a single message and returns the reply text.
type TaskFunc func(ctx context.Context) (string, error)

// Result is the deferred outcome of an enqueued task.
type Result struct {
	Value string
	Err   error
}

type task struct {
	ctx    context.Context
	fn     TaskFunc
	result chan Result
}

// lane is the FIFO sub-queue of a single conversation.
type lane struct {
	tasks   []*task
	running bool
}

// Queue serializes message processing per conversation and limits global
// concurrency with a weighted semaphore.
type Queue struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool

	wg       sync.WaitGroup
	inFlight atomic.Int64
	depth    atomic.Int64
}

// NewQueue creates a queue admitting at most concurrency tasks in flight.
func NewQueue(concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue{
		sem:   semaphore.NewWeighted(int64(concurrency)),
		lanes: make(map[string]*lane),
	}
}

// Enqueue adds a task to the conversation's lane and returns a channel that
// receives exactly one Result when the task completes. A task failure fails
// only its own result; the queue keeps draining.
func (q *Queue) Enqueue(ctx context.Context, conversationID string, fn TaskFunc) <-chan Result {
	t := &task{
		ctx:    ctx,
		fn:     fn,
		result: make(chan Result, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		t.result <- Result{Err: ErrQueueClosed}
		return t.result
	}

	l, ok := q.lanes[conversationID]
	if !ok {
		l = &lane{}
		q.lanes[conversationID] = l
	}
	l.tasks = append(l.tasks, t)
	q.depth.Add(1)

	if !l.running {
		l.running = true
		q.wg.Add(1)
		go q.runLane(conversationID, l)
	}
	q.mu.Unlock()

	return t.result
}

// runLane drains one conversation's tasks in order, then exits.
func (q *Queue) runLane(conversationID string, l *lane) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(l.tasks) == 0 {
			l.running = false
			delete(q.lanes, conversationID)
			q.mu.Unlock()
			return
		}
		t := l.tasks[0]
		l.tasks = l.tasks[1:]
		q.mu.Unlock()

		q.depth.Add(-1)
		q.run(t)
	}
}

func (q *Queue) run(t *task) {
	if err := q.sem.Acquire(t.ctx, 1); err != nil {
		t.result <- Result{Err: err}
		return
	}
	defer q.sem.Release(1)

	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	value, err := t.fn(t.ctx)
	t.result <- Result{Value: value, Err: err}
}

// InFlight returns the number of tasks currently being processed.
func (q *Queue) InFlight() int64 {
	return q.inFlight.Load()
}

// Depth returns the number of tasks waiting for admission.
func (q *Queue) Depth() int64 {
	return q.depth.Load()
}

// Shutdown stops admitting new tasks and waits for in-flight and queued tasks
// to drain, or until ctx expires.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
