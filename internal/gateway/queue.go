package gateway

import (
	"context"
	"sync"
)

// DefaultQueueSize is the default command queue capacity.
const DefaultQueueSize = 100

// PendingMessage is a command waiting for a worker.
type PendingMessage struct {
	Topic   string
	Payload []byte
}

// Queue is a bounded FIFO that drops its oldest entry to admit a new one
// when full.
type Queue struct {
	mu       sync.Mutex
	items    []PendingMessage
	capacity int
	notify   chan struct{}
}

// NewQueue creates a queue holding at most capacity messages.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		items:    make([]PendingMessage, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends m. When the queue is full the oldest message is removed
// and returned with evicted set.
func (q *Queue) Push(m PendingMessage) (dropped PendingMessage, evicted bool) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		dropped, evicted = q.items[0], true
		q.items[0] = PendingMessage{}
		q.items = q.items[1:]
	}
	q.items = append(q.items, m)
	q.mu.Unlock()

	q.signal()
	return dropped, evicted
}

// Pop removes the oldest message, blocking until one is available or ctx
// is cancelled.
func (q *Queue) Pop(ctx context.Context) (PendingMessage, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = PendingMessage{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return m, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return PendingMessage{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
