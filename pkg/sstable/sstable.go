// Package sstable implements the immutable sorted tables produced by compaction.
//
// A table is a pair of files. The data file holds one record per key in ascending
// key order, using the record codec. The index file lists (key, position) entries
// for the data file in the same order. Tables are identified by the numeric suffix
// N in their file names; a larger N is a newer table.
package sstable

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	dataFilePrefix  = "sstable_"
	indexFilePrefix = "sstable_index_"
	fileSuffix      = ".dat"
)

var (
	// ErrCorruption indicates an index entry that points at the wrong record
	ErrCorruption = errors.New("sstable corruption detected")
	// ErrTableClosed is returned when reading from a closed table
	ErrTableClosed = errors.New("sstable is closed")
	// ErrUnsortedKey is returned by the writer for keys added out of order
	ErrUnsortedKey = errors.New("keys must be added in strictly ascending order")
)

// Status classifies the outcome of a table lookup
type Status int

const (
	NotFound Status = iota
	Found
	Tombstone
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Tombstone:
		return "tombstone"
	default:
		return "not found"
	}
}

// Result is the outcome of looking a key up in one table or a set of tables
type Result struct {
	Status Status
	Value  []byte
	// TableID is the table that resolved the lookup; it is meaningless for NotFound
	TableID uint64
}

// DataFileName returns the data file name for table n
func DataFileName(n uint64) string {
	return fmt.Sprintf("%s%d%s", dataFilePrefix, n, fileSuffix)
}

// IndexFileName returns the index file name for table n
func IndexFileName(n uint64) string {
	return fmt.Sprintf("%s%d%s", indexFilePrefix, n, fileSuffix)
}

// ParseDataFileName extracts N from a data file name. Index files, temporary files
// and anything else report false.
func ParseDataFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, dataFilePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, dataFilePrefix), fileSuffix)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IndexPathFor derives the index file path from a data file path
func IndexPathFor(dataPath string) (string, error) {
	n, ok := ParseDataFileName(filepath.Base(dataPath))
	if !ok {
		return "", fmt.Errorf("not a table data file: %s", dataPath)
	}
	return filepath.Join(filepath.Dir(dataPath), IndexFileName(n)), nil
}
