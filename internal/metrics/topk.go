package metrics

import (
	"container/heap"
	"sort"

	"nipi/internal/model"
)

// TopK is a fixed-capacity top-K selection structure in the space-saving
// style: it retains at most K counters, updates are O(log K), and when a new
// key displaces the current minimum it inherits the minimum's count so that
// genuinely heavy keys can never be permanently shadowed.
type TopK struct {
	k     int
	items entryHeap
	index map[model.FlowKey]*entry
}

type entry struct {
	key   model.FlowKey
	count uint64
	pos   int
}

// NewTopK creates a top-K structure retaining at most k keys.
func NewTopK(k int) *TopK {
	return &TopK{
		k:     k,
		items: make(entryHeap, 0, k),
		index: make(map[model.FlowKey]*entry, k),
	}
}

// Add credits delta to key, inserting or displacing the minimum as needed.
func (t *TopK) Add(key model.FlowKey, delta uint64) {
	if e, ok := t.index[key]; ok {
		e.count += delta
		heap.Fix(&t.items, e.pos)
		return
	}
	if len(t.items) < t.k {
		e := &entry{key: key, count: delta}
		t.index[key] = e
		heap.Push(&t.items, e)
		return
	}
	// At capacity: displace the minimum, inheriting its count.
	min := t.items[0]
	delete(t.index, min.key)
	min.key = key
	min.count += delta
	t.index[key] = min
	heap.Fix(&t.items, 0)
}

// Len returns the number of retained keys.
func (t *TopK) Len() int { return len(t.items) }

// Entries returns the retained keys ordered by descending count.
func (t *TopK) Entries() []model.TopEntry {
	out := make([]model.TopEntry, len(t.items))
	for i, e := range t.items {
		out[i] = model.TopEntry{Key: e.key, Count: e.count}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// entryHeap is a min-heap by count, so the root is the eviction candidate.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].count < h[j].count }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].pos = i; h[j].pos = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.pos = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
