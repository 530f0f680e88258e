package gate

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter per client address: at most max
// requests per window.  The window boundary is per-address, anchored at the
// first request of the current window.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]*windowEntry
}

type windowEntry struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter allowing max requests per window.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 10
	}
	return &RateLimiter{
		window:  window,
		max:     max,
		entries: make(map[string]*windowEntry),
	}
}

// Allow reports whether one more request from addr fits in its current
// window, counting it if so.
func (rl *RateLimiter) Allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.entries[addr]
	if !ok || now.Sub(entry.start) >= rl.window {
		rl.entries[addr] = &windowEntry{start: now, count: 1}
		return true
	}
	if entry.count >= rl.max {
		return false
	}
	entry.count++
	return true
}

// Prune drops entries whose window has passed.  Called by the periodic
// sweep so the map does not grow with every address ever seen.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	for addr, entry := range rl.entries {
		if now.Sub(entry.start) >= rl.window {
			delete(rl.entries, addr)
			removed++
		}
	}
	return removed
}
