package utils

import (
	"sync"
	"time"
)

// SlidingWindow counts events inside a rolling time window. Used to
// rate-limit commands that fan out messages.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

// Add records an event and returns the number of events still inside the
// window, the new one included.
func (w *SlidingWindow) Add(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.trim(now)
	w.hits = append(w.hits, now)
	return len(w.hits)
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.trim(now)
	return len(w.hits)
}

func (w *SlidingWindow) trim(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
