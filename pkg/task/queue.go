package task

import (
	"context"
	"sync"
)

// Queue is a mutex-guarded FIFO of pending operations.  Add never blocks the
// caller beyond the mutex hold; Pop blocks until an item or cancellation.
// There is no reordering and no coalescing: every submitted task runs, even
// a redundant sync.
type Queue struct {
	mu    sync.Mutex
	items []Item
	wake  chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Add appends items in order.  Callable from any goroutine.
func (q *Queue) Add(items ...Item) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop removes and returns the oldest item, blocking until one is available
// or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	for {
		if it, ok := q.tryPop(); ok {
			return it, nil
		}
		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Wake returns a channel that receives after an Add while the queue was
// idle, letting a consumer multiplex popping with other events.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// TryPop removes the oldest item without blocking.
func (q *Queue) TryPop() (Item, bool) {
	return q.tryPop()
}

func (q *Queue) tryPop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it, true
}
