package sstable

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Load opens every complete table in dir, newest first. Data files without an
// index file are skipped, as are temporary files left by an interrupted write.
func Load(dir string, bloomBitsPerKey int) ([]*Table, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var tables []*Table
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		n, ok := ParseDataFileName(entry.Name())
		if !ok {
			continue
		}

		if _, err := os.Stat(filepath.Join(dir, IndexFileName(n))); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			closeAll(tables)
			return nil, fmt.Errorf("failed to stat table index %d: %w", n, err)
		}

		t, err := OpenTable(filepath.Join(dir, entry.Name()), bloomBitsPerKey)
		if err != nil {
			closeAll(tables)
			return nil, fmt.Errorf("failed to open table %d: %w", n, err)
		}
		tables = append(tables, t)
	}

	sort.Slice(tables, func(i, j int) bool {
		return tables[i].id > tables[j].id
	})

	return tables, nil
}

func closeAll(tables []*Table) {
	for _, t := range tables {
		t.Close()
	}
}

// Set is the ordered collection of tables, newest first
type Set struct {
	tables []*Table
	nextID uint64
}

// NewSet takes ownership of tables, which must already be ordered newest first
func NewSet(tables []*Table) *Set {
	s := &Set{tables: tables, nextID: 1}
	for _, t := range tables {
		if t.id >= s.nextID {
			s.nextID = t.id + 1
		}
	}
	return s
}

// Add links t at the head of the set
func (s *Set) Add(t *Table) {
	s.tables = append([]*Table{t}, s.tables...)
	if t.id >= s.nextID {
		s.nextID = t.id + 1
	}
}

// NextID returns the number to use for the next table and reserves it
func (s *Set) NextID() uint64 {
	id := s.nextID
	s.nextID++
	return id
}

// Len returns the number of tables
func (s *Set) Len() int {
	return len(s.tables)
}

// Tables returns the tables newest first. The slice must not be modified.
func (s *Set) Tables() []*Table {
	return s.tables
}

// SearchAll looks key up from the newest table to the oldest and returns the first
// value or tombstone found
func (s *Set) SearchAll(key []byte) (Result, error) {
	for _, t := range s.tables {
		res, err := t.Lookup(key)
		if err != nil {
			return Result{}, err
		}
		if res.Status != NotFound {
			return res, nil
		}
	}
	return Result{Status: NotFound}, nil
}

// Contains reports whether any table holds a record for key
func (s *Set) Contains(key []byte) (bool, error) {
	for _, t := range s.tables {
		ok, err := t.Contains(key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Close closes every table and empties the set
func (s *Set) Close() error {
	var errs []error
	for _, t := range s.tables {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.tables = nil
	return errors.Join(errs...)
}
