package transport

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// waitEntry is a single scheduled wakeup: "look at message <key> again
// no earlier than WaitTill." Cancel is O(1) and doesn't touch the
// queue's list — the consumer skips cancelled entries when it reaches
// them, per the cancelable-FIFO requirement in spec §5.
type waitEntry struct {
	key      string
	waitTill time.Time
	cancelled atomic.Bool
}

func newWaitEntry(key string, waitTill time.Time) *waitEntry {
	return &waitEntry{key: key, waitTill: waitTill}
}

func (e *waitEntry) Cancel() {
	e.cancelled.Store(true)
}

// waitQueue is a FIFO of waitEntry scheduled roughly by WaitTill (all
// entries in a given queue share the same wait duration, so push order
// and deadline order coincide in practice). Next blocks the caller
// until either the head entry's deadline has passed or done fires.
type waitQueue struct {
	mu    sync.Mutex
	items *list.List
	push  chan struct{}
}

func newWaitQueue() *waitQueue {
	return &waitQueue{
		items: list.New(),
		push:  make(chan struct{}, 1),
	}
}

// Len reports the current queue depth, including not-yet-skipped
// cancelled entries (a metrics approximation, not an exact live count).
func (q *waitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *waitQueue) Push(e *waitEntry) {
	q.mu.Lock()
	q.items.PushBack(e)
	q.mu.Unlock()
	select {
	case q.push <- struct{}{}:
	default:
	}
}

// Next pops and returns the next non-cancelled entry whose deadline has
// passed, blocking as needed. emptyPoll bounds how long it waits on an
// empty queue before re-checking (mirrors spec §5's 200ms poll timeout;
// here implemented as a wakeup on push rather than a busy re-poll).
// Returns ok=false only when done fires.
func (q *waitQueue) Next(done <-chan struct{}, emptyPoll time.Duration) (*waitEntry, bool) {
	for {
		q.mu.Lock()
		front := q.items.Front()
		if front == nil {
			q.mu.Unlock()
			select {
			case <-q.push:
				continue
			case <-time.After(emptyPoll):
				continue
			case <-done:
				return nil, false
			}
		}
		entry := front.Value.(*waitEntry)
		q.items.Remove(front)
		q.mu.Unlock()

		if entry.cancelled.Load() {
			continue
		}

		if remaining := time.Until(entry.waitTill); remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-done:
				return nil, false
			}
		}

		if entry.cancelled.Load() {
			continue
		}
		return entry, true
	}
}
