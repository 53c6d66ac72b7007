// Package heap implements the append-only heap log that holds every write made
// since the last compaction.
package heap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/KevoDB/heapkv/pkg/config"
	"github.com/KevoDB/heapkv/pkg/record"
)

const (
	// FileName is the heap log's name inside the data directory
	FileName = "heap.dat"

	// readBufferSize is used for sequential scans
	readBufferSize = 64 * 1024
)

var (
	ErrHeapClosed = errors.New("heap is closed")
	ErrNotFound   = errors.New("no record at position")
)

// Heap is the append-only log of data records for the current generation.
// It is not safe for concurrent use on its own; the store serializes access.
type Heap struct {
	cfg    *config.Config
	path   string
	file   *os.File
	size   int64
	closed bool
	mu     sync.Mutex
}

// Open opens the heap log at path, creating it if needed
func Open(cfg *config.Config, path string) (*Heap, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	file, err := openForAppend(path, 0)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat heap file: %w", err)
	}

	return &Heap{
		cfg:  cfg,
		path: path,
		file: file,
		size: stat.Size(),
	}, nil
}

func openForAppend(path string, extra int) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND|extra, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open heap file: %w", err)
	}
	return file, nil
}

// Path returns the location of the heap file
func (h *Heap) Path() string {
	return h.path
}

// Append writes rec at the end of the log and returns the offset it was written at
func (h *Heap) Append(rec *record.DataRecord) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrHeapClosed
	}

	pos := h.size
	if _, err := record.WriteRecord(h.file, rec); err != nil {
		return 0, h.rollback(pos, fmt.Errorf("failed to append to heap: %w", err))
	}

	if err := h.maybeSync(); err != nil {
		return 0, h.rollback(pos, err)
	}

	h.size = pos + rec.Size()
	rec.Position = pos
	return pos, nil
}

// rollback cuts the file back to pos after a failed append. If the cut fails
// the heap is closed.
func (h *Heap) rollback(pos int64, cause error) error {
	if err := h.file.Truncate(pos); err != nil {
		h.closed = true
		h.file.Close()
		return fmt.Errorf("%w (heap closed, failed to discard partial record: %v)", cause, err)
	}
	h.size = pos
	return cause
}

// maybeSync syncs the heap file if the configuration asks for it
func (h *Heap) maybeSync() error {
	if h.cfg.Snapshot().HeapSyncMode != config.SyncImmediate {
		return nil
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync heap file: %w", err)
	}
	return nil
}

// ReadAt decodes the record stored at pos.
// Any underrun is reported as ErrNotFound.
func (h *Heap) ReadAt(pos int64) (*record.DataRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHeapClosed
	}

	if pos < 0 || pos >= h.size {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, pos)
	}

	rec, err := record.ReadRecordAt(io.NewSectionReader(h.file, 0, h.size), pos)
	if err != nil {
		if record.IsEndOfData(err) {
			return nil, fmt.Errorf("%w: %d: %v", ErrNotFound, pos, err)
		}
		return nil, fmt.Errorf("failed to read heap at %d: %w", pos, err)
	}
	return rec, nil
}

// Size returns the current end-of-file offset
func (h *Heap) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Replay scans the log from the start and calls fn with each record's key, offset
// and tombstone flag. Values are skipped. A truncated or undecodable trailing record
// ends the scan without error. Replay returns the offset just past the last complete
// record.
func (h *Heap) Replay(fn func(key []byte, pos int64, tombstone bool) error) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrHeapClosed
	}

	reader := bufio.NewReaderSize(io.NewSectionReader(h.file, 0, h.size), readBufferSize)

	var pos int64
	for pos < h.size {
		key, tombstone, n, err := record.SkipRecord(reader)
		if err != nil {
			if record.IsEndOfData(err) {
				break
			}
			return pos, fmt.Errorf("failed to replay heap at %d: %w", pos, err)
		}

		if err := fn(key, pos, tombstone); err != nil {
			return pos, err
		}
		pos += n
	}

	return pos, nil
}

// Records returns every complete record in log order with positions set
func (h *Heap) Records() ([]*record.DataRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHeapClosed
	}

	reader := bufio.NewReaderSize(io.NewSectionReader(h.file, 0, h.size), readBufferSize)

	var records []*record.DataRecord
	var pos int64
	for pos < h.size {
		rec, err := record.ReadRecord(reader)
		if err != nil {
			if record.IsEndOfData(err) {
				break
			}
			return nil, fmt.Errorf("failed to read heap at %d: %w", pos, err)
		}
		rec.Position = pos
		records = append(records, rec)
		pos += rec.Size()
	}

	return records, nil
}

// Truncate discards everything after size. It is used to drop a torn trailing
// record found during replay so that new appends stay reachable.
func (h *Heap) Truncate(size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHeapClosed
	}
	if size < 0 || size > h.size {
		return fmt.Errorf("invalid heap truncation size %d (current %d)", size, h.size)
	}

	if err := h.file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate heap file: %w", err)
	}
	h.size = size
	return nil
}

// Reset truncates the log to empty and reopens it for append
func (h *Heap) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHeapClosed
	}

	if err := h.file.Close(); err != nil {
		return fmt.Errorf("failed to close heap file: %w", err)
	}

	file, err := openForAppend(h.path, os.O_TRUNC)
	if err != nil {
		h.closed = true
		return err
	}

	h.file = file
	h.size = 0
	return nil
}

// Sync flushes the heap file to stable storage
func (h *Heap) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHeapClosed
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync heap file: %w", err)
	}
	return nil
}

// Close syncs and closes the heap file
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if err := h.file.Sync(); err != nil {
		h.file.Close()
		return fmt.Errorf("failed to sync heap file during close: %w", err)
	}
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("failed to close heap file: %w", err)
	}
	return nil
}
