// Package evict schedules delayed removal of keyed resources.
//
// A Queue holds tickets ordered by deadline. Sweep purges every ticket whose
// deadline has passed and leaves the rest queued.
package evict

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type ticket[K comparable] struct {
	key      K
	deadline time.Time
	seq      uint64
}

type ticketHeap[K comparable] []ticket[K]

func (h ticketHeap[K]) Len() int { return len(h) }

func (h ticketHeap[K]) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h ticketHeap[K]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *ticketHeap[K]) Push(x any) { *h = append(*h, x.(ticket[K])) }

func (h *ticketHeap[K]) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// Queue is a deadline-ordered set of eviction tickets. Tickets for the same
// key are not merged; each one triggers its own purge.
type Queue[K comparable] struct {
	mu      sync.Mutex
	tickets ticketHeap[K]
	seq     uint64
	purge   func(K)
	clock   Clock
	logger  *zap.Logger
}

// New builds a Queue that calls purge for each due ticket.
func New[K comparable](purge func(K), clock Clock, logger *zap.Logger) *Queue[K] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue[K]{
		purge:  purge,
		clock:  clock,
		logger: logger.Named("evict"),
	}
}

// Enqueue schedules key for purging after delay.
func (q *Queue[K]) Enqueue(key K, delay time.Duration) {
	q.EnqueueAt(key, q.clock.Now().Add(delay))
}

// EnqueueAt schedules key for purging at deadline.
func (q *Queue[K]) EnqueueAt(key K, deadline time.Time) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.tickets, ticket[K]{key: key, deadline: deadline, seq: q.seq})
	q.mu.Unlock()
	q.logger.Debug("eviction scheduled", zap.Any("key", key), zap.Time("deadline", deadline))
}

// Len reports the number of queued tickets.
func (q *Queue[K]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tickets.Len()
}

// Sweep purges every ticket whose deadline is not after now and returns how
// many were purged. The first ticket still in the future stops the sweep.
func (q *Queue[K]) Sweep() int {
	now := q.clock.Now()
	var due []K
	q.mu.Lock()
	for q.tickets.Len() > 0 && !q.tickets[0].deadline.After(now) {
		t := heap.Pop(&q.tickets).(ticket[K])
		due = append(due, t.key)
	}
	q.mu.Unlock()

	for _, key := range due {
		q.purge(key)
	}
	if len(due) > 0 {
		q.logger.Debug("eviction sweep", zap.Int("purged", len(due)))
	}
	return len(due)
}
