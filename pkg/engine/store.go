// Package engine ties the heap log, the memory index, the sorted tables and the
// compaction worker together into a single embedded key-value store.
//
// Writes are appended to the heap log and indexed in memory. Reads consult the
// index first and then the sorted tables from newest to oldest. When the heap log
// grows past the configured threshold a background compaction flushes it into a
// new sorted table and starts a fresh log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevoDB/heapkv/pkg/common/log"
	"github.com/KevoDB/heapkv/pkg/compaction"
	"github.com/KevoDB/heapkv/pkg/config"
	"github.com/KevoDB/heapkv/pkg/heap"
	"github.com/KevoDB/heapkv/pkg/memtable"
	"github.com/KevoDB/heapkv/pkg/record"
	"github.com/KevoDB/heapkv/pkg/sstable"
	"github.com/KevoDB/heapkv/pkg/stats"
	"github.com/KevoDB/heapkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// CompactionStatus reports whether a background compaction is in progress
type CompactionStatus int

const (
	CompactionIdle CompactionStatus = iota
	CompactionRunning
)

func (s CompactionStatus) String() string {
	if s == CompactionRunning {
		return "running"
	}
	return "idle"
}

// Store is a single-node log-structured key-value store rooted at one directory.
// All methods are safe for concurrent use.
type Store struct {
	dir     string
	cfg     *config.Config
	logger  log.Logger
	tel     telemetry.Telemetry
	metrics EngineMetrics
	stats   stats.Collector
	lock    *dirLock

	// mu serializes every access to the heap, the index and the table set,
	// including a whole compaction run
	mu       sync.Mutex
	heap     *heap.Heap
	memtable *memtable.MemTable
	tables   *sstable.Set

	executor    *compaction.Executor
	coordinator *compaction.Coordinator

	closed atomic.Bool
}

// Open opens or creates the store in dir. It takes an exclusive lock on the
// directory, loads the configuration and the sorted tables, rebuilds the memory
// index from the heap log and starts the compaction worker.
func Open(dir string, opts ...Option) (*Store, error) {
	start := time.Now()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	if o.telemetry == nil {
		o.telemetry = telemetry.NewNoop()
	}
	logger := o.logger.WithField("component", "engine")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock, err := lockDirectory(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:     dir,
		logger:  logger,
		tel:     o.telemetry,
		metrics: NewEngineMetrics(o.telemetry),
		stats:   stats.NewAtomicCollector(),
		lock:    lock,
	}

	if err := s.recover(o); err != nil {
		s.releaseResources()
		return nil, err
	}

	s.executor = compaction.NewExecutor(s.cfg, dir, o.logger, o.telemetry)
	s.coordinator = compaction.NewCoordinator(s.runCompaction, logger, s.executor.Metrics())
	s.coordinator.Start()

	s.metrics.RecordStartup(context.Background(), time.Since(start), s.tables.Len(), s.memtable.Len())
	logger.Info("opened store %s in %s: %d tables, %d indexed keys, heap %d bytes",
		dir, time.Since(start), s.tables.Len(), s.memtable.Len(), s.heap.Size())

	return s, nil
}

func (s *Store) recover(o *options) error {
	cfg, err := config.LoadOrCreate(s.dir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(o.overrides) > 0 {
		cfg.Update(func(c *config.Config) {
			for _, fn := range o.overrides {
				fn(c)
			}
		})
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.SaveManifest(s.dir); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
	}
	s.cfg = cfg
	snapshot := cfg.Snapshot()

	recoveryStart := s.stats.StartRecovery()

	tables, err := sstable.Load(s.dir, snapshot.BloomBitsPerKey)
	if err != nil {
		return fmt.Errorf("failed to load sorted tables: %w", err)
	}
	s.tables = sstable.NewSet(tables)

	s.heap, err = heap.Open(cfg, filepath.Join(s.dir, heap.FileName))
	if err != nil {
		return fmt.Errorf("failed to open heap: %w", err)
	}

	s.memtable = memtable.NewMemTableWithMetrics(memtable.NewMemTableMetrics(s.tel))
	replayed, end, err := s.memtable.RebuildFromHeap(s.heap)
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}

	var discarded int64
	if size := s.heap.Size(); end < size {
		discarded = size - end
		s.logger.Warn("discarding %d bytes of incomplete heap tail at offset %d", discarded, end)
		if err := s.heap.Truncate(end); err != nil {
			return fmt.Errorf("failed to discard heap tail: %w", err)
		}
	}

	s.stats.FinishRecovery(recoveryStart, uint64(s.tables.Len()), uint64(replayed), uint64(discarded))
	telemetry.RecordDuration(context.Background(), s.tel, "heapkv.engine.recovery.duration", recoveryStart,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine))
	s.stats.TrackHeapSize(uint64(s.heap.Size()))
	s.stats.TrackTableCount(uint64(s.tables.Len()))
	return nil
}

// releaseResources closes whatever Open managed to acquire
func (s *Store) releaseResources() error {
	var errs []error
	if s.heap != nil {
		if err := s.heap.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.tables != nil {
		if err := s.tables.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.lock.unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Put stores value under key, replacing any previous value
func (s *Store) Put(key, value []byte) error {
	return s.write(stats.OpPut, telemetry.OpTypePut, record.NewValue(key, value))
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key []byte) error {
	return s.write(stats.OpDelete, telemetry.OpTypeDelete, record.NewTombstone(key))
}

func (s *Store) write(op stats.OperationType, opName string, rec *record.DataRecord) error {
	start := time.Now()

	size, err := s.append(rec)
	if err != nil {
		if !errors.Is(err, ErrStoreClosed) {
			s.stats.TrackError(string(op) + "_error")
		}
		s.metrics.RecordEngineOperation(context.Background(), opName, time.Since(start), false)
		return err
	}

	s.stats.TrackOperationWithLatency(op, uint64(time.Since(start).Nanoseconds()))
	s.stats.TrackBytes(true, uint64(rec.Size()))
	telemetry.RecordBytes(context.Background(), s.tel, "heapkv.engine.bytes.written", rec.Size(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentHeap),
		attribute.String(telemetry.AttrOperationType, opName))
	s.stats.TrackHeapSize(uint64(size))
	s.metrics.RecordEngineOperation(context.Background(), opName, time.Since(start), true)

	if size > s.cfg.Snapshot().CompactionThreshold {
		s.coordinator.Trigger()
	}
	return nil
}

// append writes rec to the heap and indexes it, returning the new heap size
func (s *Store) append(rec *record.DataRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	pos, err := s.heap.Append(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to write to heap: %w", err)
	}
	s.memtable.Put(rec.Key, pos)

	return s.heap.Size(), nil
}

// Get returns the value stored under key, or ErrKeyNotFound if the key was never
// written or its latest record is a deletion
func (s *Store) Get(key []byte) ([]byte, error) {
	start := time.Now()

	value, trace, err := s.lookup(key)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		if !errors.Is(err, ErrStoreClosed) {
			s.stats.TrackError("get_error")
		}
		s.metrics.RecordEngineOperation(context.Background(), telemetry.OpTypeGet, time.Since(start), false)
		return nil, err
	}

	s.stats.TrackOperationWithLatency(stats.OpGet, uint64(time.Since(start).Nanoseconds()))
	s.stats.TrackLookup(trace.Location.statsLocation())
	s.metrics.RecordLookup(context.Background(), trace.Location.String())
	s.metrics.RecordEngineOperation(context.Background(), telemetry.OpTypeGet, time.Since(start), true)

	if err != nil {
		return nil, err
	}
	s.stats.TrackBytes(false, uint64(len(value)))
	return value, nil
}

// lookup resolves key through the memory index, the heap and the tables
func (s *Store) lookup(key []byte) ([]byte, Trace, error) {
	trace := Trace{HeapPosition: -1}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, trace, ErrStoreClosed
	}

	if pos, ok := s.memtable.Get(key); ok {
		trace.Location = LocationHeap
		trace.HeapPosition = pos

		rec, err := s.heap.ReadAt(pos)
		if err != nil {
			if errors.Is(err, heap.ErrNotFound) {
				s.logger.Warn("indexed heap position %d for key %q is unreadable: %v", pos, key, err)
				trace.Location = LocationNone
				return nil, trace, ErrKeyNotFound
			}
			return nil, trace, fmt.Errorf("failed to read heap: %w", err)
		}
		if rec.Tombstone {
			trace.Tombstone = true
			return nil, trace, ErrKeyNotFound
		}
		return rec.Value, trace, nil
	}

	res, err := s.tables.SearchAll(key)
	if err != nil {
		return nil, trace, fmt.Errorf("failed to search sorted tables: %w", err)
	}

	switch res.Status {
	case sstable.Found:
		trace.Location = LocationTable
		trace.TableID = res.TableID
		return res.Value, trace, nil
	case sstable.Tombstone:
		trace.Location = LocationTable
		trace.TableID = res.TableID
		trace.Tombstone = true
		return nil, trace, ErrKeyNotFound
	default:
		trace.Location = LocationNone
		return nil, trace, ErrKeyNotFound
	}
}

// Compact requests a background compaction and returns immediately. A request
// made while a compaction is already running is ignored.
func (s *Store) Compact() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	s.coordinator.Trigger()
	return nil
}

// CompactionStatus reports whether a compaction is running. It never waits for
// the running compaction.
func (s *Store) CompactionStatus() CompactionStatus {
	if s.coordinator.Status() == compaction.StatusRunning {
		return CompactionRunning
	}
	return CompactionIdle
}

// WaitForCompaction blocks until no compaction is pending or running
func (s *Store) WaitForCompaction() {
	s.coordinator.Wait()
}

// runCompaction is the coordinator's job. It holds the store lock for the whole
// run, so reads and writes wait until the heap has been flushed.
func (s *Store) runCompaction(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil
	}

	result, err := s.executor.Run(ctx, s.heap, s.memtable, s.tables)
	if err != nil {
		s.stats.TrackError("compaction_error")
		return fmt.Errorf("failed to compact heap: %w", err)
	}

	s.stats.TrackCompaction()
	s.stats.TrackOperationWithLatency(stats.OpCompact, uint64(time.Since(start).Nanoseconds()))
	s.stats.TrackHeapSize(uint64(s.heap.Size()))
	s.stats.TrackTableCount(uint64(s.tables.Len()))
	s.metrics.RecordDiskUsage(ctx, telemetry.ComponentHeap, s.heap.Size())

	if result.TableCreated {
		s.logger.Debug("compaction wrote table %d with %d records", result.TableID, result.OutputRecords)
	}
	return nil
}

// HeapSize returns the current size of the heap log in bytes
func (s *Store) HeapSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return 0
	}
	return s.heap.Size()
}

// TableCount returns the number of sorted tables
func (s *Store) TableCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return 0
	}
	return s.tables.Len()
}

// Dir returns the data directory
func (s *Store) Dir() string {
	return s.dir
}

// Config returns a copy of the active configuration
func (s *Store) Config() config.Config {
	return s.cfg.Snapshot()
}

// GetStats returns operation counters and store state
func (s *Store) GetStats() map[string]interface{} {
	result := s.stats.GetStats()

	completed, failed := s.coordinator.Runs()
	result["compaction_status"] = s.CompactionStatus().String()
	result["compactions_completed"] = completed
	result["compactions_failed"] = failed
	if err := s.coordinator.LastError(); err != nil {
		result["compaction_last_error"] = err.Error()
	}
	return result
}

// Close waits for any pending compaction, then closes the heap and the tables
// and releases the directory lock. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.closed.Load() {
		return nil
	}

	// The compaction job takes s.mu, so the worker must stop first
	s.coordinator.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.releaseResources(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.logger.Info("closed store %s", s.dir)
	return nil
}
