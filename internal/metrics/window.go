package metrics

import (
	"sync"
	"time"
)

// SlidingWindow represents a simple sliding window for rate calculations
type SlidingWindow struct {
	mu      sync.Mutex
	events  []int64 // unix timestamps of events
	window  time.Duration
	maxSize int
	now     func() time.Time
}

// NewSlidingWindow creates a new sliding window
func NewSlidingWindow(window time.Duration, maxSize int) *SlidingWindow {
	return &SlidingWindow{
		events:  make([]int64, 0, maxSize),
		window:  window,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Add records one event at the current time.
func (sw *SlidingWindow) Add() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now().Unix()
	sw.events = append(sw.events, now)
	sw.trim(now)
	if len(sw.events) > sw.maxSize {
		sw.events = sw.events[len(sw.events)-sw.maxSize:]
	}
}

// Rate returns the current rate (events per second)
func (sw *SlidingWindow) Rate() float64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.trim(sw.now().Unix())
	if len(sw.events) == 0 {
		return 0
	}
	return float64(len(sw.events)) / sw.window.Seconds()
}

func (sw *SlidingWindow) trim(now int64) {
	cutoff := now - int64(sw.window.Seconds())
	i := 0
	for i < len(sw.events) && sw.events[i] < cutoff {
		i++
	}
	if i > 0 {
		sw.events = sw.events[i:]
	}
}
