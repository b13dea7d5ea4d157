// Package topk provides bounded top-K collectors used by every ANN
// strategy: an insertion-sorted array (cheap for the small K values
// typical of similarity search; used by IVF) and a collector backed by a
// binary min-heap over the kept items (used by brute-force and HNSW).
package topk

import "container/heap"

// Scored is a single (id, score) search result.
type Scored struct {
	ID    uint32
	Score float32
}

// Array is a bounded, descending-by-score insertion-sorted collection.
// Ties are broken by earlier insertion (stable): a later Add with an equal
// score never displaces an earlier entry.
type Array struct {
	cap   int
	items []Scored
}

// NewArray returns an Array bounded to at most k items. k is clamped to 1.
func NewArray(k int) *Array {
	if k < 1 {
		k = 1
	}

	return &Array{cap: k, items: make([]Scored, 0, k)}
}

// Add offers a candidate. It is kept iff the array isn't full or it beats
// the current worst kept item.
func (a *Array) Add(id uint32, score float32) {
	// Binary search for the first index whose score is strictly less than
	// score, so equal scores stay behind earlier entries (stable ties).
	lo, hi := 0, len(a.items)
	for lo < hi {
		mid := (lo + hi) / 2
		if a.items[mid].Score >= score {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	if lo >= a.cap {
		return
	}

	if len(a.items) < a.cap {
		a.items = append(a.items, Scored{})
	}

	copy(a.items[lo+1:], a.items[lo:len(a.items)-1])
	a.items[lo] = Scored{ID: id, Score: score}
}

// Len returns the number of kept items.
func (a *Array) Len() int { return len(a.items) }

// Items returns the kept items sorted by descending score. The returned
// slice is owned by the caller.
func (a *Array) Items() []Scored {
	out := make([]Scored, len(a.items))
	copy(out, a.items)

	return out
}

// scoredHeap is a min-heap of Scored by Score, used to keep the K best
// candidates seen so far: when full, a new candidate only replaces the
// current minimum if it scores higher.
type scoredHeap []Scored

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(Scored)) }

func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// Heap is a bounded max-K collector backed by a min-heap over kept items,
// used where the candidate set is large enough that insertion-sort's O(K)
// shift per Add would dominate (brute-force and HNSW result collection).
type Heap struct {
	cap int
	h   scoredHeap
}

// NewHeap returns a Heap bounded to at most k items. k is clamped to 1.
func NewHeap(k int) *Heap {
	if k < 1 {
		k = 1
	}

	h := &Heap{cap: k, h: make(scoredHeap, 0, k)}
	heap.Init(&h.h)

	return h
}

// Add offers a candidate for inclusion in the top-K.
func (h *Heap) Add(id uint32, score float32) {
	if h.h.Len() < h.cap {
		heap.Push(&h.h, Scored{ID: id, Score: score})

		return
	}

	if h.h.Len() > 0 && score > h.h[0].Score {
		h.h[0] = Scored{ID: id, Score: score}
		heap.Fix(&h.h, 0)
	}
}

// Len returns the number of kept items.
func (h *Heap) Len() int { return h.h.Len() }

// Min returns the lowest score currently kept, and whether the heap is
// non-empty. Useful for a caller-side early-stop check: once the heap is
// full, any candidate scoring below Min can be skipped.
func (h *Heap) Min() (float32, bool) {
	if h.h.Len() == 0 {
		return 0, false
	}

	return h.h[0].Score, true
}

// Items drains the heap and returns its contents sorted by descending
// score. The heap is empty after this call.
func (h *Heap) Items() []Scored {
	out := make([]Scored, h.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h.h).(Scored)
	}

	return out
}
