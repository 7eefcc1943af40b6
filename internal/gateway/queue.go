package gateway

import (
	"sync"

	"github.com/polyquant/tradebot/internal/domain"
)

// tickQueue is the bounded buffer between the gateway and the tick router.
// Overflow policy: drop the oldest book/price_change tick first and keep
// trade ticks; an incoming book tick is dropped outright only when the whole
// buffer is trades.
type tickQueue struct {
	mu      sync.Mutex
	items   []domain.Tick
	max     int
	notify  chan struct{}
	dropped uint64
}

func newTickQueue(max int) *tickQueue {
	if max < 1 {
		max = 1024
	}
	return &tickQueue{
		max:    max,
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues a tick, applying the overflow policy when the buffer is full.
func (q *tickQueue) Push(t domain.Tick) {
	q.mu.Lock()
	if len(q.items) >= q.max {
		if !q.evictLocked(t.Event) {
			// Buffer is all trades and the incoming tick is droppable.
			q.dropped++
			q.mu.Unlock()
			return
		}
		q.dropped++
	}
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// evictLocked removes the oldest non-trade tick. When every buffered tick is
// a trade it evicts the oldest trade only if the incoming event is itself a
// trade; otherwise it reports false and the caller drops the incoming tick.
func (q *tickQueue) evictLocked(incoming domain.TickEvent) bool {
	for i, it := range q.items {
		if it.Event != domain.TickEventTrade {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	if incoming == domain.TickEventTrade {
		q.items = q.items[1:]
		return true
	}
	return false
}

// Pop removes and returns the oldest tick, or false when empty.
func (q *tickQueue) Pop() (domain.Tick, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.Tick{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Dropped returns the overflow drop counter.
func (q *tickQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len returns the current buffer depth.
func (q *tickQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
