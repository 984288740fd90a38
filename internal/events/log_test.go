package events

import (
	"sync"
	"testing"
	"time"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	l := NewLog(8, 8)

	var prev int64
	for i := 0; i < 20; i++ {
		id := l.Append(Event{Type: KindMarket, Symbol: "BTCUSDT", Price: float64(i)})
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
	if got := l.LastID(); got != prev {
		t.Fatalf("LastID=%d, expected %d", got, prev)
	}
}

func TestReadSinceReplayConsistency(t *testing.T) {
	l := NewLog(16, 16)
	for i := 0; i < 5; i++ {
		l.Append(Event{Type: KindMarket, Price: float64(i)})
	}

	all, last := l.ReadSince(-1)
	if len(all) != 5 {
		t.Fatalf("full window length %d, expected 5", len(all))
	}
	if last != all[len(all)-1].ID {
		t.Fatalf("last id %d does not match tail %d", last, all[len(all)-1].ID)
	}

	// No appends in between: the follow-up read must be empty.
	again, next := l.ReadSince(last)
	if len(again) != 0 {
		t.Fatalf("expected no new events, got %d", len(again))
	}
	if next != last {
		t.Fatalf("cursor moved from %d to %d without appends", last, next)
	}

	l.Append(Event{Type: KindMarket, Price: 99})
	fresh, _ := l.ReadSince(last)
	if len(fresh) != 1 || fresh[0].Event.Price != 99 {
		t.Fatalf("expected exactly the one new event, got %+v", fresh)
	}
}

func TestReadSinceGapResumesFromOldestRetained(t *testing.T) {
	const capacity = 4
	l := NewLog(capacity, 4)

	var firstID int64
	for i := 0; i < capacity+1; i++ {
		id := l.Append(Event{Type: KindMarket, Price: float64(i)})
		if i == 0 {
			firstID = id
		}
	}

	// The consumer's cursor predates the eviction window.
	evs, _ := l.ReadSince(firstID - 1)
	if len(evs) != capacity {
		t.Fatalf("expected %d retained events, got %d", capacity, len(evs))
	}
	if evs[0].ID != firstID+1 {
		t.Fatalf("oldest retained id %d, expected %d", evs[0].ID, firstID+1)
	}
}

func TestWaitNewerTimesOut(t *testing.T) {
	l := NewLog(4, 4)
	start := time.Now()
	if l.WaitNewer(0, 50*time.Millisecond) {
		t.Fatal("WaitNewer returned true with no events")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("WaitNewer returned before the timeout")
	}
}

func TestWaitNewerImmediateWhenEventExists(t *testing.T) {
	l := NewLog(4, 4)
	l.Append(Event{Type: KindMarket})
	if !l.WaitNewer(0, time.Millisecond) {
		t.Fatal("WaitNewer should return immediately when a newer event exists")
	}
}

func TestConcurrentWaitersWakeOnSingleAppend(t *testing.T) {
	l := NewLog(16, 16)
	id1 := l.Append(Event{Type: KindMarket, Price: 1})
	id2 := l.Append(Event{Type: KindMarket, Price: 2})

	var wg sync.WaitGroup
	results := make([]bool, 2)
	counts := make([]int, 2)
	cursors := []int64{id1, id2}

	for i := range cursors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.WaitNewer(cursors[i], 2*time.Second)
			evs, _ := l.ReadSince(cursors[i])
			counts[i] = len(evs)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	l.Append(Event{Type: KindMarket, Price: 3})
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Fatalf("waiter %d timed out", i)
		}
	}
	// Each waiter sees only events newer than its own cursor.
	if counts[0] != 2 {
		t.Fatalf("waiter holding id %d saw %d events, expected 2", id1, counts[0])
	}
	if counts[1] != 1 {
		t.Fatalf("waiter holding id %d saw %d events, expected 1", id2, counts[1])
	}
}

func TestRecentViewCappedAndFiltered(t *testing.T) {
	l := NewLog(100, 3)
	l.Append(Event{Type: KindMarket, Price: 1}) // excluded from activity view
	for i := 0; i < 5; i++ {
		l.Append(Event{Type: KindOrderUpdate, ClientOrderID: "c1"})
	}
	l.Append(Event{Type: KindAccount}) // excluded

	recent := l.Recent()
	if len(recent) != 3 {
		t.Fatalf("recent view length %d, expected cap 3", len(recent))
	}
	for _, st := range recent {
		if st.Event.Type != KindOrderUpdate {
			t.Fatalf("unexpected kind %q in activity view", st.Event.Type)
		}
	}
}
