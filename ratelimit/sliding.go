package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// SlidingWindow is an exact in-process rate limiter. It keeps the timestamps
// of recent actions per key, drops entries older than the window on each
// call, and admits while the remainder is below the limit.
//
// It is correct only within a single process; use the fixed-window store
// backend when multiple instances share the limit.
type SlidingWindow struct {
	mu     sync.Mutex
	events map[string][]time.Time
	clock  clock.Clock
}

// NewSlidingWindow creates an empty sliding-window limiter.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		events: make(map[string][]time.Time),
		clock:  clock.New(),
	}
}

// WithClock replaces the wall clock, for deterministic tests.
func (l *SlidingWindow) WithClock(c clock.Clock) *SlidingWindow {
	l.clock = c
	return l
}

// Allow admits iff fewer than limit actions happened under key within the
// trailing window. An admitted call is itself recorded.
func (l *SlidingWindow) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := l.clock.Now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.events[key][:0]
	for _, ts := range l.events[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= limit {
		l.events[key] = recent
		return false, nil
	}

	l.events[key] = append(recent, now)
	return true, nil
}
