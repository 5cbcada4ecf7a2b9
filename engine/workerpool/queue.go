// Package workerpool implements the Worker Pool: per-class bounded
// priority queues with document-level round-robin fairness, a resource
// governor admission gate, and class-specific cancellation semantics.
package workerpool

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

// taskHeap orders one document's pending tasks by domain.Task.Less.
type taskHeap []domain.Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)         { *h = append(*h, x.(domain.Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// classQueue is one concurrency class's bounded priority queue. Dispatch
// round-robins across documents so one document's backlog can't starve
// the others (spec.md §4.5's fair-share requirement); within a document,
// tasks dequeue by domain.Task.Less.
type classQueue struct {
	mu       sync.Mutex
	byDoc    map[uuid.UUID]*taskHeap
	order    []uuid.UUID
	cursor   int
	size     int
	capacity int
	notify   chan struct{}
}

func newClassQueue(capacity int) *classQueue {
	return &classQueue{
		byDoc:    make(map[uuid.UUID]*taskHeap),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (q *classQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Push enqueues t, returning domain.ErrQueueFull once the class is at
// capacity.
func (q *classQueue) Push(t domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && q.size >= q.capacity {
		return domain.ErrQueueFull
	}

	h, ok := q.byDoc[t.DocumentID]
	if !ok {
		h = &taskHeap{}
		q.byDoc[t.DocumentID] = h
		q.order = append(q.order, t.DocumentID)
	}
	heap.Push(h, t)
	q.size++
	q.signal()
	return nil
}

// Pop returns the next task in round-robin document order, or false if
// the queue is empty.
func (q *classQueue) Pop() (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return domain.Task{}, false
	}

	for i := 0; i < len(q.order); i++ {
		idx := (q.cursor + i) % len(q.order)
		docID := q.order[idx]
		h := q.byDoc[docID]
		if h.Len() == 0 {
			continue
		}
		task := heap.Pop(h).(domain.Task)
		q.size--
		if h.Len() == 0 {
			delete(q.byDoc, docID)
			q.order = append(q.order[:idx], q.order[idx+1:]...)
			if len(q.order) > 0 {
				q.cursor = idx % len(q.order)
			} else {
				q.cursor = 0
			}
		} else {
			q.cursor = (idx + 1) % len(q.order)
		}
		return task, true
	}
	return domain.Task{}, false
}

func (q *classQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
