package assistant

import (
	"context"

	"github.com/puertocho/assistant-gateway/domain/entities"
)

// JobQueue is a bounded FIFO of captured audio jobs. Enqueue rejects rather
// than blocks when the queue is full; that rejection is the backpressure
// signal surfaced to the capture peer. The queue has exactly one consumer,
// the pipeline worker, which enforces the at-most-one-in-flight invariant
// without further locking.
type JobQueue struct {
	ch chan *entities.AudioJob
}

// NewJobQueue creates a queue with the given capacity
func NewJobQueue(capacity int) *JobQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &JobQueue{ch: make(chan *entities.AudioJob, capacity)}
}

// Enqueue adds a job, returning false immediately when the queue is full
func (q *JobQueue) Enqueue(job *entities.AudioJob) bool {
	select {
	case q.ch <- job:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a job is available or the context is cancelled
func (q *JobQueue) Dequeue(ctx context.Context) (*entities.AudioJob, error) {
	select {
	case job := <-q.ch:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth returns the number of queued jobs
func (q *JobQueue) Depth() int {
	return len(q.ch)
}

// Capacity returns the configured bound
func (q *JobQueue) Capacity() int {
	return cap(q.ch)
}
