package common

import (
	"sync"
	"time"
)

// TimeSync tracks the clock offset between this host and the venue so
// signed request timestamps stay inside the venue's receive window.
type TimeSync struct {
	getServerTime func() (int64, error)

	mu       sync.RWMutex
	offset   int64 // ms, server minus local
	lastSync time.Time
}

func NewTimeSync(getServerTime func() (int64, error)) *TimeSync {
	return &TimeSync{getServerTime: getServerTime}
}

// Sync measures the offset against the venue clock, assuming symmetric
// network latency.
func (ts *TimeSync) Sync() error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime()
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()
	localMid := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localMid
	ts.lastSync = time.Now()
	ts.mu.Unlock()
	return nil
}

// SyncIfStale re-measures the offset when the last measurement is
// older than maxAge (or was never taken). Callers invoke this before
// signing so the offset stays current without a dedicated sync loop.
func (ts *TimeSync) SyncIfStale(maxAge time.Duration) error {
	ts.mu.RLock()
	fresh := !ts.lastSync.IsZero() && time.Since(ts.lastSync) <= maxAge
	ts.mu.RUnlock()
	if fresh {
		return nil
	}
	return ts.Sync()
}

// Now returns the current time in venue milliseconds.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the measured offset in milliseconds; zero until the
// first successful Sync.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
