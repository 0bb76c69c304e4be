package execution

import (
	"container/heap"
	"sync"

	"craftstrat-engine/pkg/types"
)

// orderHeap is a max-heap over ExecutionOrder ordered by (priority desc,
// created_at asc) — spec.md §4.8.
type orderHeap []*types.ExecutionOrder

func (h orderHeap) Len() int { return len(h) }
func (h orderHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt < h[j].CreatedAt
}
func (h orderHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *orderHeap) Push(x interface{}) { *h = append(*h, x.(*types.ExecutionOrder)) }
func (h *orderHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the execution queue: a max-heap guarded by one exclusive mutex,
// held only across the atomic PopIfAllowed or Push (spec.md §5), plus a
// per-wallet token bucket for the daily order-rate cap.
type Queue struct {
	mu      sync.Mutex
	heap    orderHeap
	buckets map[uint64]*TokenBucket

	maxOrdersPerDay float64
	newBucket       func() *TokenBucket
}

// NewQueue builds an empty queue. maxOrdersPerDay seeds every wallet's
// token bucket: capacity=maxOrdersPerDay, refill continuous at
// maxOrdersPerDay/86400 per second.
func NewQueue(maxOrdersPerDay float64) *Queue {
	q := &Queue{
		buckets:         make(map[uint64]*TokenBucket),
		maxOrdersPerDay: maxOrdersPerDay,
	}
	q.newBucket = func() *TokenBucket {
		return NewTokenBucket(maxOrdersPerDay, maxOrdersPerDay/86400)
	}
	return q
}

// Push inserts an order.
func (q *Queue) Push(order *types.ExecutionOrder) {
	q.mu.Lock()
	heap.Push(&q.heap, order)
	q.mu.Unlock()
}

// Pop removes and returns the highest-priority order, or nil if empty.
// Exists for tests only — PopIfAllowed is the only production-correct
// read path (spec.md §4.8).
func (q *Queue) Pop() *types.ExecutionOrder {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*types.ExecutionOrder)
}

// PopResult is the three-way outcome of PopIfAllowed.
type PopResult int

const (
	// PopEmpty: the heap was empty.
	PopEmpty PopResult = iota
	// PopBlocked: the head order's wallet bucket rejected; the order
	// stays at the head, not popped.
	PopBlocked
	// PopOK: a token was consumed and the order removed.
	PopOK
)

// PopIfAllowed is the executor's only correct read path. It peeks the
// head order; if the owning wallet's token bucket has capacity, the order
// is popped and returned with PopOK; otherwise the order is left in place
// and PopBlocked is returned so the caller can back off (spec.md §4.8).
func (q *Queue) PopIfAllowed() (*types.ExecutionOrder, PopResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil, PopEmpty
	}

	head := q.heap[0]
	bucket, ok := q.buckets[head.WalletID]
	if !ok {
		bucket = q.newBucket()
		q.buckets[head.WalletID] = bucket
	}

	if !bucket.TryConsume() {
		return nil, PopBlocked
	}

	order := heap.Pop(&q.heap).(*types.ExecutionOrder)
	return order, PopOK
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
