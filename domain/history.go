package domain

import "time"

type ChatEntry struct {
	Room    RoomID
	User    string
	Message string
	At      time.Time
}

// History is a bounded, time-ordered replay log used to bring late joiners
// up to date. Once full, the oldest entry is overwritten.
type History struct {
	entries []ChatEntry
	start   int
	size    int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{entries: make([]ChatEntry, capacity)}
}

func (h *History) Append(entry ChatEntry) {
	capacity := len(h.entries)
	if h.size < capacity {
		h.entries[(h.start+h.size)%capacity] = entry
		h.size++
		return
	}
	h.entries[h.start] = entry
	h.start = (h.start + 1) % capacity
}

// Entries returns the log oldest first.
func (h *History) Entries() []ChatEntry {
	res := make([]ChatEntry, 0, h.size)
	for i := 0; i < h.size; i++ {
		res = append(res, h.entries[(h.start+i)%len(h.entries)])
	}
	return res
}

func (h *History) Len() int { return h.size }

func (h *History) Cap() int { return len(h.entries) }
