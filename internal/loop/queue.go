package loop

import (
	"context"
	"sort"
	"sync"
)

// Queue is the single-consumer, multi-producer priority queue that feeds
// the consciousness loop. Any number of goroutines may Push; exactly one
// goroutine should call Next in a loop.
type Queue struct {
	mu      sync.Mutex
	pending []Event
	notify  chan struct{}
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push enqueues an event. Safe to call from any goroutine.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, then returns the
// highest-priority event among everything currently queued. Ties preserve
// arrival order. The rest of the batch stays buffered for the next call.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			sort.SliceStable(q.pending, func(i, j int) bool {
				return q.pending[i].Priority > q.pending[j].Priority
			})
			head := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return head, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
			continue
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Len reports how many events are currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
