package threat

import (
	"context"
	"sync"
	"time"
)

// MemoryHistory is an in-memory EventHistory with per-subject rings, pruned
// on write. Suitable for a single instance; swap for a shared store when
// running more than one evaluator.
type MemoryHistory struct {
	mu        sync.Mutex
	retention time.Duration
	events    map[string][]SecurityEvent
}

// NewMemoryHistory keeps events for the given retention window.
func NewMemoryHistory(retention time.Duration) *MemoryHistory {
	if retention <= 0 {
		retention = time.Hour
	}
	return &MemoryHistory{
		retention: retention,
		events:    make(map[string][]SecurityEvent),
	}
}

func (h *MemoryHistory) Record(_ context.Context, subjectID string, ev SecurityEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[subjectID] = append(h.prune(subjectID, ev.Timestamp), ev)
	return nil
}

func (h *MemoryHistory) CountSince(_ context.Context, subjectID string, since time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int
	for _, ev := range h.events[subjectID] {
		if !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (h *MemoryHistory) CountTypesSince(_ context.Context, subjectID string, types []string, since time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int
	for _, ev := range h.events[subjectID] {
		if ev.Timestamp.Before(since) {
			continue
		}
		for _, t := range types {
			if ev.Type == t {
				n++
				break
			}
		}
	}
	return n, nil
}

// prune drops events older than the retention window. Caller holds the lock.
func (h *MemoryHistory) prune(subjectID string, now time.Time) []SecurityEvent {
	cutoff := now.Add(-h.retention)
	kept := h.events[subjectID][:0]
	for _, ev := range h.events[subjectID] {
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	return kept
}

var _ EventHistory = (*MemoryHistory)(nil)
