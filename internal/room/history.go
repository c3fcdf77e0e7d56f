package room

import "github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"

// History is a FIFO log of recorded paths. Once full, the oldest entries are
// evicted first; replay order matters, so nothing is reordered on access.
type History struct {
	entries []shape.Path
	cap     int
}

func NewHistory(cap int) *History {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	return &History{cap: cap}
}

// Append records p and returns how many old entries were evicted.
func (h *History) Append(p shape.Path) int {
	h.entries = append(h.entries, p)
	over := len(h.entries) - h.cap
	if over <= 0 {
		return 0
	}
	n := copy(h.entries, h.entries[over:])
	clear(h.entries[n:])
	h.entries = h.entries[:n]
	return over
}

// Last returns up to n of the most recent entries, oldest first.
func (h *History) Last(n int) []shape.Path {
	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]shape.Path, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// Remove drops every entry for shape id.
func (h *History) Remove(id string) int {
	kept := h.entries[:0]
	for _, p := range h.entries {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	removed := len(h.entries) - len(kept)
	clear(h.entries[len(kept):])
	h.entries = kept
	return removed
}

func (h *History) Reset() {
	h.entries = nil
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) Cap() int {
	return h.cap
}
