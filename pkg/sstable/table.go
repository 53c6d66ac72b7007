package sstable

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevoDB/heapkv/pkg/record"
)

// Table is an open, immutable sorted table
type Table struct {
	id        uint64
	dataPath  string
	indexPath string
	data      *os.File
	index     *os.File
	indexSize int64
	entries   int
	filter    *BloomFilter
	mu        sync.RWMutex
}

// OpenTable opens the table whose data file is dataPath. The index file is read
// once to count entries and, when bloomBitsPerKey is positive, to build a filter.
func OpenTable(dataPath string, bloomBitsPerKey int) (*Table, error) {
	id, ok := ParseDataFileName(filepath.Base(dataPath))
	if !ok {
		return nil, fmt.Errorf("not a table data file: %s", dataPath)
	}
	indexPath, err := IndexPathFor(dataPath)
	if err != nil {
		return nil, err
	}

	data, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open table data: %w", err)
	}

	index, err := os.Open(indexPath)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("failed to open table index: %w", err)
	}

	stat, err := index.Stat()
	if err != nil {
		data.Close()
		index.Close()
		return nil, fmt.Errorf("failed to stat table index: %w", err)
	}

	t := &Table{
		id:        id,
		dataPath:  dataPath,
		indexPath: indexPath,
		data:      data,
		index:     index,
		indexSize: stat.Size(),
	}

	keys, err := t.indexKeys()
	if err != nil {
		t.Close()
		return nil, err
	}
	t.entries = len(keys)

	if bloomBitsPerKey > 0 {
		t.filter = NewBloomFilter(len(keys), bloomBitsPerKey)
		for _, k := range keys {
			t.filter.Add(k)
		}
	}

	return t, nil
}

// ID returns the table number
func (t *Table) ID() uint64 {
	return t.id
}

// DataPath returns the data file path
func (t *Table) DataPath() string {
	return t.dataPath
}

// IndexPath returns the index file path
func (t *Table) IndexPath() string {
	return t.indexPath
}

// Entries returns the number of index entries
func (t *Table) Entries() int {
	return t.entries
}

// scanIndex calls fn for every complete index entry. A truncated trailing entry
// ends the scan.
func (t *Table) scanIndex(fn func(e *record.IndexEntry) error) error {
	reader := bufio.NewReader(io.NewSectionReader(t.index, 0, t.indexSize))
	for {
		e, err := record.ReadIndexEntry(reader)
		if err != nil {
			if record.IsEndOfData(err) {
				return nil
			}
			return fmt.Errorf("failed to read table index %s: %w", t.indexPath, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func (t *Table) indexKeys() ([][]byte, error) {
	var keys [][]byte
	err := t.scanIndex(func(e *record.IndexEntry) error {
		keys = append(keys, e.Key)
		return nil
	})
	return keys, err
}

// findPosition scans the whole index and returns the last position recorded for key
func (t *Table) findPosition(key []byte) (int64, bool, error) {
	var pos int64
	found := false
	err := t.scanIndex(func(e *record.IndexEntry) error {
		if bytes.Equal(e.Key, key) {
			pos = e.Position
			found = true
		}
		return nil
	})
	return pos, found, err
}

// Lookup resolves key against this table alone
func (t *Table) Lookup(key []byte) (Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.data == nil {
		return Result{}, ErrTableClosed
	}

	if t.filter != nil && !t.filter.MayContain(key) {
		return Result{Status: NotFound}, nil
	}

	pos, found, err := t.findPosition(key)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Status: NotFound}, nil
	}

	rec, err := record.ReadRecordAt(t.data, pos)
	if err != nil {
		if record.IsEndOfData(err) {
			return Result{Status: NotFound}, nil
		}
		return Result{}, fmt.Errorf("failed to read table %d at %d: %w", t.id, pos, err)
	}

	if !bytes.Equal(rec.Key, key) {
		return Result{}, fmt.Errorf("%w: table %d position %d holds key %q, want %q",
			ErrCorruption, t.id, pos, rec.Key, key)
	}

	if rec.Tombstone {
		return Result{Status: Tombstone, TableID: t.id}, nil
	}
	return Result{Status: Found, Value: rec.Value, TableID: t.id}, nil
}

// Contains reports whether the table holds any record, value or tombstone, for key
func (t *Table) Contains(key []byte) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.data == nil {
		return false, ErrTableClosed
	}
	if t.filter != nil && !t.filter.MayContain(key) {
		return false, nil
	}

	_, found, err := t.findPosition(key)
	return found, err
}

// IndexEntries returns every complete index entry in file order
func (t *Table) IndexEntries() ([]*record.IndexEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.data == nil {
		return nil, ErrTableClosed
	}

	var entries []*record.IndexEntry
	err := t.scanIndex(func(e *record.IndexEntry) error {
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Close closes both files
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.data == nil {
		return nil
	}

	dataErr := t.data.Close()
	indexErr := t.index.Close()
	t.data = nil
	t.index = nil

	if dataErr != nil {
		return fmt.Errorf("failed to close table data: %w", dataErr)
	}
	if indexErr != nil {
		return fmt.Errorf("failed to close table index: %w", indexErr)
	}
	return nil
}
