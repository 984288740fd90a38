package balance

import "sync"

// Entry is one asset's balance.
type Entry struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Store holds the latest account balance snapshot. Snapshots replace
// the whole set atomically; there is no incremental merge, the source
// always sends complete snapshots.
type Store struct {
	mu       sync.RWMutex
	balances map[string]Entry
}

func NewStore() *Store {
	return &Store{balances: make(map[string]Entry)}
}

// ReplaceAll swaps in a complete snapshot.
func (s *Store) ReplaceAll(entries []Entry) {
	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		next[e.Asset] = e
	}
	s.mu.Lock()
	s.balances = next
	s.mu.Unlock()
}

// Get returns one asset's balance.
func (s *Store) Get(asset string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.balances[asset]
	return e, ok
}

// List returns a copy of the current snapshot.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.balances))
	for _, e := range s.balances {
		out = append(out, e)
	}
	return out
}
