package logging

import (
	"sync"
	"time"
)

// LogEntry represents a single log line stored in the ring buffer.
type LogEntry struct {
	// Seq increases by one per record across the process.
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent log entries for replay to late
// subscribers. Once full, each write evicts the oldest entry.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	// next is the slot the following write lands in.
	next int
	full bool
}

// NewRingBuffer creates a ring holding up to capacity entries.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{entries: make([]LogEntry, max(capacity, 1))}
}

// Write stores entry.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	rb.entries[rb.next] = entry
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next = 0
		rb.full = true
	}
	rb.mu.Unlock()
}

// ReadAll returns every retained entry, oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.collect(func(LogEntry) bool { return true })
}

// Since returns retained entries with a sequence number above seq, oldest
// first. A reconnecting log viewer passes the last sequence it displayed.
func (rb *RingBuffer) Since(seq uint64) []LogEntry {
	return rb.collect(func(e LogEntry) bool { return e.Seq > seq })
}

// Count returns the number of retained entries.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.entries)
	}
	return rb.next
}

func (rb *RingBuffer) collect(keep func(LogEntry) bool) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var ordered [][]LogEntry
	if rb.full {
		ordered = [][]LogEntry{rb.entries[rb.next:], rb.entries[:rb.next]}
	} else {
		ordered = [][]LogEntry{rb.entries[:rb.next]}
	}

	var out []LogEntry
	for _, part := range ordered {
		for _, e := range part {
			if keep(e) {
				out = append(out, e)
			}
		}
	}
	return out
}
