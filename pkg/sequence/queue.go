package sequence

import "container/heap"

// Item is a heap entry. The index is maintained by the heap so callers can Fix
// or Remove an item they still hold.
type Item[T any] struct {
	Value T
	index int
}

type orderedHeap[T any] struct {
	items []*Item[T]
	less  func(a, b T) bool
}

func (h *orderedHeap[T]) Len() int {
	return len(h.items)
}

func (h *orderedHeap[T]) Less(i, j int) bool {
	return h.less(h.items[i].Value, h.items[j].Value)
}

func (h *orderedHeap[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *orderedHeap[T]) Push(x any) {
	item := x.(*Item[T])
	item.index = len(h.items)
	h.items = append(h.items, item)
}

func (h *orderedHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	h.items = old[0 : n-1]
	return item
}

// PriorityQueue pops values in the order defined by less: the value for which
// less reports true against every other comes out first.
type PriorityQueue[T any] struct {
	h orderedHeap[T]
}

func NewPriorityQueue[T any](less func(a, b T) bool) *PriorityQueue[T] {
	pq := &PriorityQueue[T]{h: orderedHeap[T]{less: less}}
	heap.Init(&pq.h)
	return pq
}

func (pq *PriorityQueue[T]) Enqueue(value T) *Item[T] {
	item := &Item[T]{Value: value}
	heap.Push(&pq.h, item)
	return item
}

func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	if pq.h.Len() == 0 {
		var zero T
		return zero, false
	}
	item := heap.Pop(&pq.h).(*Item[T])
	return item.Value, true
}

func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if pq.h.Len() == 0 {
		var zero T
		return zero, false
	}
	return pq.h.items[0].Value, true
}

// Fix restores ordering after the value held by item changed.
func (pq *PriorityQueue[T]) Fix(item *Item[T]) {
	if item.index < 0 {
		return
	}
	heap.Fix(&pq.h, item.index)
}

func (pq *PriorityQueue[T]) Clear() {
	for i := range pq.h.items {
		pq.h.items[i].index = -1
		pq.h.items[i] = nil
	}
	pq.h.items = pq.h.items[:0]
}

func (pq *PriorityQueue[T]) Len() int {
	return pq.h.Len()
}

func (pq *PriorityQueue[T]) IsEmpty() bool {
	return pq.h.Len() == 0
}
