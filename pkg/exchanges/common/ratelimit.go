package common

import (
	"strconv"
	"sync"
	"time"
)

// WeightTracker follows the venue's reported request-weight usage so
// callers can back off before hitting a ban threshold.
type WeightTracker struct {
	mu            sync.RWMutex
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
}

// NewWeightTracker creates a tracker for the given weight budget per
// reset interval (e.g. 1200 per minute for spot).
func NewWeightTracker(limit int, resetInterval time.Duration) *WeightTracker {
	return &WeightTracker{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader records the used weight reported in a response
// header. Empty or malformed values are ignored.
func (wt *WeightTracker) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()
	if time.Since(wt.lastReset) >= wt.resetInterval {
		wt.lastReset = time.Now()
	}
	wt.usedWeight = weight
}

// Usage returns the current used weight, the budget, and the used
// percentage for the active window.
func (wt *WeightTracker) Usage() (used, limit int, percentage float64) {
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	if time.Since(wt.lastReset) >= wt.resetInterval {
		return 0, wt.limit, 0
	}
	return wt.usedWeight, wt.limit, float64(wt.usedWeight) / float64(wt.limit) * 100
}

// ShouldDelay reports whether the next request should be deferred.
func (wt *WeightTracker) ShouldDelay() bool {
	_, _, pct := wt.Usage()
	return pct >= 90
}
