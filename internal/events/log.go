package events

import (
	"sync"
	"time"
)

// Log is a bounded in-memory event journal. Every appended event gets a
// strictly increasing sequence id, oldest events are evicted once the
// capacity is reached, and consumers replay by last-seen id. A consumer
// whose cursor has fallen behind the retained window silently resumes
// from the oldest retained event.
//
// A secondary capped view of order/fill/error events is kept for
// snapshot-style activity queries, independent from the replay window.
type Log struct {
	mu     sync.Mutex
	notify chan struct{} // closed and replaced on every append

	buf    []Stamped // ring storage
	start  int
	count  int
	nextID int64

	recent    []Stamped
	recentMax int
}

// NewLog creates a log retaining up to capacity events and up to
// recentMax entries in the recent-activity view.
func NewLog(capacity, recentMax int) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	if recentMax <= 0 {
		recentMax = 200
	}
	return &Log{
		notify:    make(chan struct{}),
		buf:       make([]Stamped, capacity),
		nextID:    1,
		recentMax: recentMax,
	}
}

// Append stamps the event with the next sequence id, stores it, and
// wakes every blocked WaitNewer caller. Returns the assigned id.
func (l *Log) Append(ev Event) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	st := Stamped{ID: id, Event: ev}

	if l.count == len(l.buf) {
		// Evict oldest.
		l.buf[l.start] = st
		l.start = (l.start + 1) % len(l.buf)
	} else {
		l.buf[(l.start+l.count)%len(l.buf)] = st
		l.count++
	}

	switch ev.Type {
	case KindOrderUpdate, KindFill, KindError:
		l.recent = append(l.recent, st)
		if len(l.recent) > l.recentMax {
			l.recent = l.recent[len(l.recent)-l.recentMax:]
		}
	}

	close(l.notify)
	l.notify = make(chan struct{})
	return id
}

// ReadSince returns retained events with id strictly greater than lastID
// and the id of the newest returned event (or lastID when nothing is
// newer). A negative lastID returns the whole retained window. Cursors
// older than the retained window resume from the oldest retained event.
func (l *Log) ReadSince(lastID int64) ([]Stamped, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		if lastID < 0 {
			return nil, 0
		}
		return nil, lastID
	}

	firstID := l.buf[l.start].ID
	// Ids are contiguous, so the offset of the first event to return is
	// computable directly.
	skip := 0
	if lastID >= firstID {
		skip = int(lastID - firstID + 1)
	}
	if skip >= l.count {
		return nil, lastID
	}

	out := make([]Stamped, 0, l.count-skip)
	for i := skip; i < l.count; i++ {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out, out[len(out)-1].ID
}

// WaitNewer blocks until an event with id greater than lastID exists or
// the timeout elapses. It returns immediately when one already exists.
func (l *Log) WaitNewer(lastID int64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		l.mu.Lock()
		if l.nextID-1 > lastID {
			l.mu.Unlock()
			return true
		}
		ch := l.notify
		l.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
			// Re-check: the append that woke us may still be older than
			// an arbitrary caller-supplied cursor.
		case <-timer.C:
			return false
		}
	}
}

// LastID returns the id of the most recently appended event, or 0 when
// nothing has been appended yet.
func (l *Log) LastID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextID - 1
}

// Recent returns a copy of the capped order/fill/error activity view.
func (l *Log) Recent() []Stamped {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Stamped, len(l.recent))
	copy(out, l.recent)
	return out
}
