package compaction

import (
	"github.com/KevoDB/heapkv/pkg/record"
)

// TombstoneFilter decides which records survive a compaction
type TombstoneFilter interface {
	// ShouldKeep reports whether rec is written to the output table
	ShouldKeep(rec *record.DataRecord) (bool, error)
}

// KeyChecker reports whether older data may still hold a key
type KeyChecker interface {
	Contains(key []byte) (bool, error)
}

// KeepAllFilter keeps every record, tombstones included
type KeepAllFilter struct{}

// ShouldKeep always returns true
func (KeepAllFilter) ShouldKeep(rec *record.DataRecord) (bool, error) {
	return true, nil
}

// ObsoleteTombstoneFilter drops a tombstone when no older table holds the key,
// since there is nothing left for it to shadow
type ObsoleteTombstoneFilter struct {
	older KeyChecker
}

// NewObsoleteTombstoneFilter creates a filter that consults older for shadowed keys
func NewObsoleteTombstoneFilter(older KeyChecker) *ObsoleteTombstoneFilter {
	return &ObsoleteTombstoneFilter{older: older}
}

// ShouldKeep keeps all values and only the tombstones that shadow something
func (f *ObsoleteTombstoneFilter) ShouldKeep(rec *record.DataRecord) (bool, error) {
	if !rec.Tombstone {
		return true, nil
	}
	return f.older.Contains(rec.Key)
}
