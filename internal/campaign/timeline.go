package campaign

import "container/heap"

// entryKind distinguishes a scheme's upcoming start from its upcoming
// expiry in the timeline.
type entryKind uint8

const (
	entryStart entryKind = iota
	entryExpiry
)

type timelineEntry struct {
	whenMs         int64
	campaignSyncID string
	kind           entryKind
}

// timelineHeap is a min-heap of {timePoint, campaignSyncId} ordered by
// whenMs, per spec.md §3's Timeline data model.
type timelineHeap []timelineEntry

func (h timelineHeap) Len() int            { return len(h) }
func (h timelineHeap) Less(i, j int) bool  { return h[i].whenMs < h[j].whenMs }
func (h timelineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timelineHeap) Push(x any)         { *h = append(*h, x.(timelineEntry)) }
func (h *timelineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// newTimeline builds an empty, heap-ordered timeline.
func newTimeline() *timelineHeap {
	h := &timelineHeap{}
	heap.Init(h)
	return h
}

func (h *timelineHeap) push(e timelineEntry) { heap.Push(h, e) }

// peek returns the earliest entry without removing it.
func (h *timelineHeap) peek() (timelineEntry, bool) {
	if h.Len() == 0 {
		return timelineEntry{}, false
	}
	return (*h)[0], true
}

func (h *timelineHeap) pop() timelineEntry {
	return heap.Pop(h).(timelineEntry)
}
