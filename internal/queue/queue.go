package queue

import (
	"container/heap"
	"sync"
)

// Item is a single item in the priority queue.
type Item[T any] struct {
	Value    T
	Priority int64
	index    int
}

// priorityHeap implements heap.Interface.
// Lower priority values dequeue first.
type priorityHeap[T any] []*Item[T]

func (ph priorityHeap[T]) Len() int {
	return len(ph)
}

func (ph priorityHeap[T]) Less(i, j int) bool {
	return ph[i].Priority < ph[j].Priority
}

func (ph priorityHeap[T]) Swap(i, j int) {
	ph[i], ph[j] = ph[j], ph[i]
	ph[i].index = i
	ph[j].index = j
}

func (ph *priorityHeap[T]) Push(x any) {
	n := len(*ph)
	item := x.(*Item[T])
	item.index = n
	*ph = append(*ph, item)
}

func (ph *priorityHeap[T]) Pop() any {
	old := *ph
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*ph = old[0 : n-1]
	return item
}

// PriorityQueue is a thread-safe generic priority queue. Enqueuing with a
// monotonically increasing priority yields strict FIFO order.
type PriorityQueue[T any] struct {
	heap priorityHeap[T]
	mu   sync.Mutex
}

// NewPriorityQueue creates a new priority queue.
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		heap: make(priorityHeap[T], 0),
	}
	heap.Init(&pq.heap)
	return pq
}

// Len returns the number of queued items.
func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.heap.Len()
}

// Enqueue adds a value with the given priority.
func (pq *PriorityQueue[T]) Enqueue(value T, priority int64) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	heap.Push(&pq.heap, &Item[T]{
		Value:    value,
		Priority: priority,
	})
}

// Dequeue removes and returns the lowest-priority-value item.
func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.heap.Len() == 0 {
		var zero T
		return zero, false
	}

	item := heap.Pop(&pq.heap).(*Item[T])
	return item.Value, true
}

// DequeueAll drains the queue in priority order.
func (pq *PriorityQueue[T]) DequeueAll() []T {
	items := make([]T, 0, pq.Len())
	for {
		item, ok := pq.Dequeue()
		if !ok {
			break
		}
		items = append(items, item)
	}
	return items
}
