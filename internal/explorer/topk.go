package explorer

import (
	"container/heap"
	"sort"
)

// Key extracts the ranking metric of an entry.
type Key func(Entry) float64

var (
	ByWinRate Key = func(e Entry) float64 { return e.Metrics.WinRate }
	ByPnL     Key = func(e Entry) float64 { return e.Metrics.TotalPnL }
	ByScore   Key = func(e Entry) float64 { return e.Score }
)

// TopK keeps the k entries with the greatest key. A newcomer displaces the
// current minimum only when its key is strictly greater, so among equal
// keys the entry offered first stays.
// Owned by a single goroutine.
type TopK struct {
	k       int
	key     Key
	h       entryHeap
	offered int
}

// ranked is a held entry plus the order in which it was offered.
type ranked struct {
	Entry
	arrival int
}

// NewTopK creates a tracker holding at most k entries.
func NewTopK(k int, key Key) *TopK {
	return &TopK{k: k, key: key, h: entryHeap{key: key}}
}

// Offer considers e for membership and reports whether it was kept.
func (t *TopK) Offer(e Entry) bool {
	if t.k <= 0 {
		return false
	}
	t.offered++
	r := ranked{Entry: e, arrival: t.offered}
	if t.h.Len() < t.k {
		heap.Push(&t.h, r)
		return true
	}
	if !(t.key(e) > t.key(t.h.items[0].Entry)) {
		return false
	}
	t.h.items[0] = r
	heap.Fix(&t.h, 0)
	return true
}

// Len returns the number of entries held.
func (t *TopK) Len() int { return t.h.Len() }

// Sorted returns the held entries by descending key, earliest offered
// first on ties.
func (t *TopK) Sorted() []Entry {
	items := make([]ranked, len(t.h.items))
	copy(items, t.h.items)
	sort.Slice(items, func(i, j int) bool {
		ki, kj := t.key(items[i].Entry), t.key(items[j].Entry)
		if ki != kj {
			return ki > kj
		}
		return items[i].arrival < items[j].arrival
	})
	out := make([]Entry, len(items))
	for i, r := range items {
		out[i] = r.Entry
	}
	return out
}

// entryHeap is a min-heap on key; among equal keys the later arrival is
// smaller, so it is the first evicted.
type entryHeap struct {
	key   Key
	items []ranked
}

func (h entryHeap) Len() int { return len(h.items) }
func (h entryHeap) Less(i, j int) bool {
	ki, kj := h.key(h.items[i].Entry), h.key(h.items[j].Entry)
	if ki != kj {
		return ki < kj
	}
	return h.items[i].arrival > h.items[j].arrival
}
func (h entryHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *entryHeap) Push(x any)   { h.items = append(h.items, x.(ranked)) }
func (h *entryHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
