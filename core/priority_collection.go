package core

import (
	"container/heap"
	"sync"
)

const defaultCollectionCap = 16

// PriorityCollection is a concurrent collection of works ordered by integer
// priority, exposing the highest-priority item first, FIFO (queue variant)
// or LIFO (stack variant) among equals. The implementation keeps every item
// in one binary heap, so Set and Get each cost O(log n); it keeps no
// per-priority buckets and no set of present priorities.
type PriorityCollection interface {
	// Set inserts a work at the given priority.
	Set(w *Work, priority int)
	// Get removes and returns the highest-priority item, tie-broken by
	// FIFO (queue variant) or LIFO (stack variant) among equals.
	Get() (*Work, bool)
	Len() int
	IsEmpty() bool
	Clear()
}

type collectionItem struct {
	work     *Work
	priority int
	sequence uint64
	index    int
}

type collectionHeap struct {
	items []*collectionItem
	// lifo flips the tie-break direction: when true, the larger
	// sequence (most recently inserted) among equal priorities sorts
	// first, giving the stack variant's LIFO behavior.
	lifo bool
}

func (h collectionHeap) Len() int { return len(h.items) }

func (h collectionHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if h.lifo {
		return a.sequence > b.sequence
	}
	return a.sequence < b.sequence
}

func (h collectionHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *collectionHeap) Push(x any) {
	item := x.(*collectionItem)
	item.index = len(h.items)
	h.items = append(h.items, item)
}

func (h *collectionHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	h.items = old[:n-1]
	return item
}

// heapPriorityCollection is the shared implementation behind both the
// priority-queue and priority-stack variants named in spec §4.1; only the
// tie-break direction differs.
type heapPriorityCollection struct {
	mu           sync.Mutex
	h            collectionHeap
	nextSequence uint64
}

// NewPriorityQueueCollection returns a priority collection that is FIFO
// among works of equal priority.
func NewPriorityQueueCollection() PriorityCollection {
	return &heapPriorityCollection{h: collectionHeap{items: make([]*collectionItem, 0, defaultCollectionCap)}}
}

// NewPriorityStackCollection returns a priority collection that is LIFO
// among works of equal priority.
func NewPriorityStackCollection() PriorityCollection {
	return &heapPriorityCollection{h: collectionHeap{items: make([]*collectionItem, 0, defaultCollectionCap), lifo: true}}
}

func (c *heapPriorityCollection) Set(w *Work, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := &collectionItem{work: w, priority: priority, sequence: c.nextSequence}
	c.nextSequence++
	heap.Push(&c.h, item)
}

func (c *heapPriorityCollection) Get() (*Work, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.h.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&c.h).(*collectionItem)
	return item.work, true
}

func (c *heapPriorityCollection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.h.items)
}

func (c *heapPriorityCollection) IsEmpty() bool { return c.Len() == 0 }

func (c *heapPriorityCollection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.h.items = make([]*collectionItem, 0, defaultCollectionCap)
	c.nextSequence = 0
}
