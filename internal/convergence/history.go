package convergence

import "github.com/daryltucker/resctl-bench/internal/model"

// History is a fixed-capacity ring of the most recent AggregateStats at the
// current parameter value. Older rounds are overwritten, so long searches
// never retain more than Capacity summaries.
//
// Not safe for concurrent use; it is owned by one orchestrating goroutine.
type History struct {
	buf    []model.AggregateStats
	next   int
	size   int
	rounds int
}

// NewHistory allocates a ring with room for capacity entries (at least 1).
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]model.AggregateStats, capacity)}
}

// Push appends stats, evicting the oldest entry when full.
func (h *History) Push(s model.AggregateStats) {
	h.buf[h.next] = s
	h.next = (h.next + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
	h.rounds++
}

// Rounds is the number of rounds seen since the last Reset.
func (h *History) Rounds() int {
	return h.rounds
}

// Len is the number of retained entries.
func (h *History) Len() int {
	return h.size
}

// Capacity is the ring size.
func (h *History) Capacity() int {
	return len(h.buf)
}

// Snapshot copies the retained entries, oldest first.
func (h *History) Snapshot() []model.AggregateStats {
	out := make([]model.AggregateStats, 0, h.size)
	start := (h.next - h.size + len(h.buf)) % len(h.buf)
	for i := 0; i < h.size; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// Reset clears the ring for a new parameter value without reallocating.
func (h *History) Reset() {
	for i := range h.buf {
		h.buf[i] = model.AggregateStats{}
	}
	h.next, h.size, h.rounds = 0, 0, 0
}
