package game

import (
	"context"
	"sync"

	"github.com/confessbox/confessbox/internal/v1/types"
)

const (
	actionQueueCap    = 100
	actionMaxAttempts = 3
)

// queueItem is one unit of executor work. Player actions carry an attempt
// counter for the timeout-retry policy; internal items (timers, ticks,
// lifecycle) are exempt from the queue cap and never retried.
type queueItem struct {
	fn       func(ctx context.Context) error
	internal bool
	attempts int
}

// actionQueue is the per-game FIFO. Producers are transport goroutines and
// the scheduler's timers; the single consumer is the game executor, which
// gives every instance single-threaded semantics.
type actionQueue struct {
	mu     sync.Mutex
	items  []*queueItem
	closed bool

	// notify wakes the executor; buffered so producers never block on it.
	notify chan struct{}
}

func newActionQueue() *actionQueue {
	return &actionQueue{notify: make(chan struct{}, 1)}
}

// push appends a player action, rejecting past the cap so one flooding
// client cannot starve the executor.
func (q *actionQueue) push(item *queueItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return types.ErrNotFound
	}
	capped := 0
	for _, it := range q.items {
		if !it.internal {
			capped++
		}
	}
	if !item.internal && capped >= actionQueueCap {
		q.mu.Unlock()
		return types.ErrQueueFull
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the head item. The second result is false when the queue is
// empty, the third when it is closed and drained.
func (q *actionQueue) pop() (*queueItem, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false, q.closed
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true, false
}

// requeue rotates a timed-out action to the tail for another attempt.
func (q *actionQueue) requeue(item *queueItem) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, item)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// close stops accepting new items; the executor drains what remains.
func (q *actionQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
