package memtable

import (
	"context"
	"sync"
	"time"
)

// Replayer is the part of the heap log used to rebuild the index
type Replayer interface {
	Replay(fn func(key []byte, pos int64, tombstone bool) error) (int64, error)
}

// MemTable maps each key written since the last compaction to the heap offset of
// its most recent record. Tombstones are indexed like values; callers learn the
// record kind by reading the heap.
type MemTable struct {
	entries map[string]int64
	// keyBytes is the sum of the lengths of all indexed keys
	keyBytes int64
	metrics  MemTableMetrics
	mu       sync.RWMutex
}

// NewMemTable creates an empty index
func NewMemTable() *MemTable {
	return NewMemTableWithMetrics(nil)
}

// NewMemTableWithMetrics creates an empty index that reports to metrics.
// A nil metrics value disables reporting.
func NewMemTableWithMetrics(metrics MemTableMetrics) *MemTable {
	if metrics == nil {
		metrics = NewNoopMemTableMetrics()
	}
	return &MemTable{
		entries: make(map[string]int64),
		metrics: metrics,
	}
}

// Put records pos as the latest position of key, replacing any previous one
func (m *MemTable) Put(key []byte, pos int64) {
	start := time.Now()

	m.mu.Lock()
	m.put(key, pos)
	m.mu.Unlock()

	m.metrics.RecordOperation(context.Background(), opPut, time.Since(start))
}

func (m *MemTable) put(key []byte, pos int64) {
	k := string(key)
	if _, exists := m.entries[k]; !exists {
		m.keyBytes += int64(len(k))
	}
	m.entries[k] = pos
}

// Get returns the latest heap position for key
func (m *MemTable) Get(key []byte) (int64, bool) {
	start := time.Now()

	m.mu.RLock()
	pos, ok := m.entries[string(key)]
	m.mu.RUnlock()

	m.metrics.RecordOperation(context.Background(), opGet, time.Since(start))
	return pos, ok
}

// Delete removes key from the index. The engine never calls this for user
// deletes, which are indexed as tombstone positions instead.
func (m *MemTable) Delete(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(key)
	if _, exists := m.entries[k]; exists {
		delete(m.entries, k)
		m.keyBytes -= int64(len(k))
	}
}

// Len returns the number of distinct keys
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ApproximateSize returns the number of key bytes held by the index
func (m *MemTable) ApproximateSize() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keyBytes
}

// Clear drops every entry
func (m *MemTable) Clear() {
	m.mu.Lock()
	cleared := len(m.entries)
	m.entries = make(map[string]int64)
	m.keyBytes = 0
	m.mu.Unlock()

	m.metrics.RecordSizeChange(context.Background(), 0, -int64(cleared))
}

// RebuildFromHeap discards the current contents and re-indexes every complete
// record in h. It returns the number of records replayed and the offset just past
// the last complete record.
func (m *MemTable) RebuildFromHeap(h Replayer) (int, int64, error) {
	start := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]int64)
	m.keyBytes = 0

	count := 0
	end, err := h.Replay(func(key []byte, pos int64, tombstone bool) error {
		m.put(key, pos)
		count++
		return nil
	})
	if err != nil {
		return count, end, err
	}

	m.metrics.RecordRebuild(context.Background(), time.Since(start), int64(count), int64(len(m.entries)))
	return count, end, nil
}
