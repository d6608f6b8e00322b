package indicator

import (
	"sync"
	"sync/atomic"
)

// memoKey identifies one computed series.
type memoKey struct {
	symbol string
	kind   Kind
	window int
}

// MemoStats reports memo table usage.
type MemoStats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Entries  int     `json:"entries"`
	HitRatio float64 `json:"hit_ratio"`
}

// memoTable is the per-service memoization table. Entries are immutable
// once stored, so readers share the same *Series without copying.
type memoTable struct {
	mu      sync.RWMutex
	entries map[memoKey]*Series
	hits    int64
	misses  int64
}

func newMemoTable() *memoTable {
	return &memoTable{
		entries: make(map[memoKey]*Series),
	}
}

func (m *memoTable) get(symbol string, kind Kind, window int) (*Series, bool) {
	m.mu.RLock()
	s, ok := m.entries[memoKey{symbol: symbol, kind: kind, window: window}]
	m.mu.RUnlock()

	if ok {
		atomic.AddInt64(&m.hits, 1)
		return s, true
	}
	atomic.AddInt64(&m.misses, 1)
	return nil, false
}

func (m *memoTable) put(symbol string, kind Kind, window int, s *Series) {
	m.mu.Lock()
	m.entries[memoKey{symbol: symbol, kind: kind, window: window}] = s
	m.mu.Unlock()
}

func (m *memoTable) stats() MemoStats {
	m.mu.RLock()
	entries := len(m.entries)
	m.mu.RUnlock()

	hits := atomic.LoadInt64(&m.hits)
	misses := atomic.LoadInt64(&m.misses)
	stats := MemoStats{Hits: hits, Misses: misses, Entries: entries}
	if total := hits + misses; total > 0 {
		stats.HitRatio = float64(hits) / float64(total)
	}
	return stats
}
