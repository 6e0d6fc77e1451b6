package replication

import (
	"sync"

	"replog/pkg/replog"
)

// delivery is an entry owed to one secondary. rr is nil for catch-up
// entries that no submission is waiting on.
type delivery struct {
	entry replog.Entry
	rr    *replicationRequest
}

// retryQueue holds the deliveries a secondary has not acknowledged yet.
// A single worker per secondary drains it in FIFO order.
type retryQueue struct {
	mu    sync.Mutex
	items []delivery
	wake  chan struct{}
}

func newRetryQueue() *retryQueue {
	return &retryQueue{wake: make(chan struct{}, 1)}
}

// push appends ds and returns the new queue length.
func (q *retryQueue) push(ds ...delivery) int {
	q.mu.Lock()
	q.items = append(q.items, ds...)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return n
}

func (q *retryQueue) peek() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return delivery{}, false
	}
	return q.items[0], true
}

// pop removes the head and returns the remaining length.
func (q *retryQueue) pop() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		q.items[0] = delivery{}
		q.items = q.items[1:]
	}
	return len(q.items)
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain empties the queue and returns what it held.
func (q *retryQueue) drain() []delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
