package mergescan

import "github.com/hypertable-go/rangestore/internal/key"

// sourceHeap is a min-heap of Sources ordered by their current key,
// mirroring the teacher's iterHeap but keyed through key.Compare
// rather than a caller-supplied comparator — this format's ordering
// is fixed, not pluggable.
type sourceHeap struct {
	items []Source
}

func (h *sourceHeap) Len() int { return len(h.items) }

func (h *sourceHeap) Less(i, j int) bool {
	return key.Compare(key.Serialized(h.items[i].Key()), key.Serialized(h.items[j].Key())) < 0
}

func (h *sourceHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *sourceHeap) Push(x any) {
	src, ok := x.(Source)
	if !ok {
		return
	}
	h.items = append(h.items, src)
}

func (h *sourceHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
