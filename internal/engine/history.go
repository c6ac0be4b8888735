package engine

import (
	"sync"
	"time"
)

// DefaultHistoryLimit caps the trading history
const DefaultHistoryLimit = 20

// HistoryEntry is one human-readable line of trading history
type HistoryEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// History is a bounded, most-recent-first log. It is observational only.
type History struct {
	mu      sync.RWMutex
	limit   int
	entries []HistoryEntry
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, entries: make([]HistoryEntry, 0, limit)}
}

// Add records message as the newest entry, evicting the oldest past the limit
func (h *History) Add(at time.Time, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]HistoryEntry{{Time: at, Message: message}}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
}

// Entries returns a copy, newest first
func (h *History) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HistoryEntry(nil), h.entries...)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
