package engine

import (
	"fmt"

	"github.com/KevoDB/heapkv/pkg/stats"
)

// Location names the layer that answered a lookup
type Location int

const (
	LocationNone Location = iota
	LocationHeap
	LocationTable
)

func (l Location) String() string {
	switch l {
	case LocationHeap:
		return "heap"
	case LocationTable:
		return "table"
	default:
		return "none"
	}
}

func (l Location) statsLocation() stats.LookupLocation {
	switch l {
	case LocationHeap:
		return stats.LookupHeap
	case LocationTable:
		return stats.LookupTable
	default:
		return stats.LookupMiss
	}
}

// Trace describes how a lookup was resolved
type Trace struct {
	Location Location
	// HeapPosition is the indexed heap offset, or -1 when the key was not indexed
	HeapPosition int64
	// TableID is set when Location is LocationTable
	TableID   uint64
	Tombstone bool
}

func (t Trace) String() string {
	switch t.Location {
	case LocationHeap:
		return fmt.Sprintf("heap@%d tombstone=%v", t.HeapPosition, t.Tombstone)
	case LocationTable:
		return fmt.Sprintf("table %d tombstone=%v", t.TableID, t.Tombstone)
	default:
		if t.HeapPosition >= 0 {
			return fmt.Sprintf("none (unreadable heap@%d)", t.HeapPosition)
		}
		return "none"
	}
}

// DebugGet behaves like Get and also reports which layer resolved the key.
// It does not update operation statistics.
func (s *Store) DebugGet(key []byte) ([]byte, Trace, error) {
	return s.lookup(key)
}
