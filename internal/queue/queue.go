package queue

import (
	"context"
	"sync/atomic"
	"time"
)

// Queue is a bounded FIFO of pending Items, keyed by insertion order.
// Capacity is fixed at construction. A buffered channel already gives us
// the invariants we need — ordered delivery, atomic occupancy via len(),
// and a natural blocking/non-blocking receive pair — so the queue is a
// thin wrapper rather than a hand-rolled ring buffer.
type Queue struct {
	ch       chan *Item
	capacity int
	depth    int64 // mirrors len(ch); read without touching the channel
}

// New returns an empty queue with the given capacity. Capacity may be 0,
// in which case Offer always fails (there is no slot to occupy).
func New(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:       make(chan *Item, capacity),
		capacity: capacity,
	}
}

// Capacity returns Q.
func (q *Queue) Capacity() int { return q.capacity }

// Size returns current occupancy. Monotonic only between mutations — a
// concurrent Offer/Take can change it the instant after it's read.
func (q *Queue) Size() int {
	return int(atomic.LoadInt64(&q.depth))
}

// Offer is the only admission point after middleware. It never blocks:
// it succeeds immediately if occupancy < capacity, otherwise it returns
// ErrQueueFull without touching the item.
func (q *Queue) Offer(item *Item) error {
	if q.capacity == 0 {
		// An unbuffered channel would hand the item to a waiting Take.
		return ErrQueueFull
	}
	select {
	case q.ch <- item:
		atomic.AddInt64(&q.depth, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Take blocks until an item is available or ctx is cancelled. Cancelling
// ctx here only unblocks the caller of Take (the assembler during
// shutdown) — it never touches items already resting in the queue.
func (q *Queue) Take(ctx context.Context) (*Item, error) {
	select {
	case item := <-q.ch:
		atomic.AddInt64(&q.depth, -1)
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryTake returns immediately: an item if one was waiting, nil otherwise.
// Used by the assembler to drain remaining items on shutdown.
func (q *Queue) TryTake() (*Item, bool) {
	select {
	case item := <-q.ch:
		atomic.AddInt64(&q.depth, -1)
		return item, true
	default:
		return nil, false
	}
}

// TakeUntil blocks until an item is available, stopCh is closed, or
// deadline passes — whichever comes first. It is the primitive the batch
// assembler uses to grow a batch against a fixed window without busy
// polling the queue.
func (q *Queue) TakeUntil(ctx context.Context, deadline time.Time, stopCh <-chan struct{}) (*Item, bool) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, false
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case item := <-q.ch:
		atomic.AddInt64(&q.depth, -1)
		return item, true
	case <-stopCh:
		return nil, false
	case <-ctx.Done():
		return nil, false
	case <-timer.C:
		return nil, false
	}
}
