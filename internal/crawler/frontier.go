package crawler

import (
	"sync"
	"sync/atomic"

	"github.com/antigloss/go/concurrent/container/queue"
)

// frontier admits each URL once, numbers it, and hands targets out in FIFO order.
type frontier struct {
	mu      sync.Mutex
	indexes map[string]int
	next    int
	pending *queue.LockfreeQueue
	size    atomic.Int64
}

func newFrontier() *frontier {
	return &frontier{
		indexes: make(map[string]int),
		next:    FirstIndex,
		pending: queue.NewLockfreeQueue(),
	}
}

// push admits url if it has not been seen and reports whether it was new.
func (f *frontier) push(url string) (Target, bool) {
	f.mu.Lock()
	if _, seen := f.indexes[url]; seen {
		f.mu.Unlock()
		return Target{}, false
	}
	t := Target{URL: url, Index: f.next}
	f.indexes[url] = t.Index
	f.next++
	// Pushed under the lock so queue order matches index order.
	f.pending.Push(t)
	f.size.Add(1)
	f.mu.Unlock()
	return t, true
}

func (f *frontier) pop() (Target, bool) {
	v := f.pending.Pop()
	if v == nil {
		return Target{}, false
	}
	f.size.Add(-1)
	return v.(Target), true
}

func (f *frontier) len() int {
	return int(f.size.Load())
}
