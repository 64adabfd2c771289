// Package admission holds accepted payments until a dispatcher takes them.
package admission

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/kapetan-io/tackle/clock"

	"payhub/internal/types"
)

// ErrQueueFull signals backpressure; the caller decides whether to retry,
// shed, or escalate. Submit never blocks.
var ErrQueueFull = errors.New("admission queue full")

// Queue is a bounded priority queue. Ordering is total: priority class
// ascending, then submission time ascending, then arrival sequence.
type Queue struct {
	mu    sync.Mutex
	items itemHeap
	cap   int
	seq   uint64
	wake  chan struct{}
}

func New(capacity int) *Queue {
	return &Queue{cap: capacity, wake: make(chan struct{}, 1)}
}

func (q *Queue) Submit(item types.WorkItem) error {
	q.mu.Lock()
	if q.items.Len() >= q.cap {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.seq++
	item.Seq = q.seq
	if item.SubmittedAt.IsZero() {
		item.SubmittedAt = clock.Now()
	}
	heap.Push(&q.items, item)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// TakeNext pops the most urgent item, waiting up to timeout when the queue
// is empty. This is the queue's one suspension point.
func (q *Queue) TakeNext(timeout time.Duration) (types.WorkItem, bool) {
	deadline := clock.Now().Add(timeout)
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(types.WorkItem)
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		remain := deadline.Sub(clock.Now())
		if remain <= 0 {
			return types.WorkItem{}, false
		}
		select {
		case <-q.wake:
		case <-clock.After(remain):
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type itemHeap []types.WorkItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if !h[i].SubmittedAt.Equal(h[j].SubmittedAt) {
		return h[i].SubmittedAt.Before(h[j].SubmittedAt)
	}
	return h[i].Seq < h[j].Seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(types.WorkItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
