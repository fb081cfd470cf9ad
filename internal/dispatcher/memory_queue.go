package dispatcher

import (
	"container/heap"
	"context"
	"sync"
)

// MemoryQueue is an in-process priority queue, used for tests and
// single-instance deployments that don't need the Redis-backed queue to
// survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  priorityHeap
	seq    int64
	byID   map[string]*heapItem
	closed bool
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{byID: make(map[string]*heapItem)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

type heapItem struct {
	item  Item
	seq   int64
	index int
}

type priorityHeap []*heapItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority // higher priority first
	}
	return h[i].seq < h[j].seq // FIFO among equal priority
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	hi := x.(*heapItem)
	hi.index = len(*h)
	*h = append(*h, hi)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	hi := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return hi
}

// Push is a no-op if submissionID is already queued, so resubmitting the
// same ID before it has been popped can't create a second heap entry.
func (q *MemoryQueue) Push(ctx context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.byID[item.SubmissionID]; exists {
		return nil
	}
	q.seq++
	hi := &heapItem{item: item, seq: q.seq}
	heap.Push(&q.items, hi)
	q.byID[item.SubmissionID] = hi
	q.cond.Signal()
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (Item, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-stop:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if ctx.Err() != nil {
			return Item{}, ctx.Err()
		}
		q.cond.Wait()
	}
	hi := heap.Pop(&q.items).(*heapItem)
	delete(q.byID, hi.item.SubmissionID)
	return hi.item, nil
}

func (q *MemoryQueue) Remove(ctx context.Context, submissionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	hi, ok := q.byID[submissionID]
	if !ok {
		return nil
	}
	heap.Remove(&q.items, hi.index)
	delete(q.byID, submissionID)
	return nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
