package compaction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/KevoDB/heapkv/pkg/common/log"
	"github.com/KevoDB/heapkv/pkg/config"
	"github.com/KevoDB/heapkv/pkg/record"
	"github.com/KevoDB/heapkv/pkg/sstable"
	"github.com/KevoDB/heapkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// openTable opens a freshly written table
var openTable = sstable.OpenTable

// HeapSource is the heap log as seen by compaction
type HeapSource interface {
	Records() ([]*record.DataRecord, error)
	Size() int64
	Reset() error
}

// Index is the memory index as seen by compaction
type Index interface {
	Clear()
}

// Result describes one compaction run
type Result struct {
	// TableCreated is false when the heap held nothing worth writing
	TableCreated bool
	TableID      uint64

	InputRecords      int
	InputBytes        int64
	OutputRecords     int
	DuplicatesRemoved int
	TombstonesRemoved int
	Duration          time.Duration
}

// Executor flushes the heap log into a new sorted table
type Executor struct {
	cfg     *config.Config
	dir     string
	logger  log.Logger
	metrics CompactionMetrics
	tel     telemetry.Telemetry
}

// NewExecutor creates an executor that writes tables into dir
func NewExecutor(cfg *config.Config, dir string, logger log.Logger, tel telemetry.Telemetry) *Executor {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	return &Executor{
		cfg:     cfg,
		dir:     dir,
		logger:  logger.WithField("component", "compaction"),
		metrics: NewCompactionMetrics(tel),
		tel:     tel,
	}
}

// Metrics returns the metrics sink shared with the coordinator
func (e *Executor) Metrics() CompactionMetrics {
	return e.metrics
}

type sequenced struct {
	rec *record.DataRecord
	seq int
}

// latestPerKey sorts records by key and keeps the most recent record of each key
func latestPerKey(records []*record.DataRecord) []*record.DataRecord {
	tagged := make([]sequenced, len(records))
	for i, r := range records {
		tagged[i] = sequenced{rec: r, seq: i}
	}

	sort.SliceStable(tagged, func(i, j int) bool {
		if c := bytes.Compare(tagged[i].rec.Key, tagged[j].rec.Key); c != 0 {
			return c < 0
		}
		return tagged[i].seq < tagged[j].seq
	})

	out := make([]*record.DataRecord, 0, len(tagged))
	for i, t := range tagged {
		if i+1 < len(tagged) && bytes.Equal(t.rec.Key, tagged[i+1].rec.Key) {
			continue
		}
		out = append(out, t.rec)
	}
	return out
}

func (e *Executor) tombstoneFilter(set *sstable.Set) TombstoneFilter {
	if e.cfg.Snapshot().DropObsoleteTombstones {
		return NewObsoleteTombstoneFilter(set)
	}
	return KeepAllFilter{}
}

// Run compacts h into a new table linked at the head of set, then resets h and
// clears idx. On failure the heap and index are left untouched and any partial
// table files are removed. The caller must hold the store lock.
func (e *Executor) Run(ctx context.Context, h HeapSource, idx Index, set *sstable.Set) (*Result, error) {
	start := time.Now()
	ctx, span := e.tel.StartSpan(ctx, "heapkv.compaction.run",
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction))
	defer span.End()

	result, err := e.run(h, idx, set)
	result.Duration = time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordCompactionComplete(ctx, result.Duration, 0, 0, 0, false)
		return result, err
	}

	span.SetAttributes(
		attribute.Int("input.records", result.InputRecords),
		attribute.Int("output.records", result.OutputRecords),
		attribute.Bool("table.created", result.TableCreated),
	)
	e.metrics.RecordCompactionComplete(ctx, result.Duration, result.OutputRecords,
		result.DuplicatesRemoved, result.TombstonesRemoved, true)
	return result, nil
}

func (e *Executor) run(h HeapSource, idx Index, set *sstable.Set) (*Result, error) {
	result := &Result{InputBytes: h.Size()}

	records, err := h.Records()
	if err != nil {
		return result, fmt.Errorf("failed to read heap: %w", err)
	}
	result.InputRecords = len(records)
	e.metrics.RecordCompactionStart(context.Background(), len(records), result.InputBytes)

	latest := latestPerKey(records)
	result.DuplicatesRemoved = len(records) - len(latest)

	filter := e.tombstoneFilter(set)
	kept := make([]*record.DataRecord, 0, len(latest))
	for _, rec := range latest {
		keep, err := filter.ShouldKeep(rec)
		if err != nil {
			return result, fmt.Errorf("failed to check tombstone for %q: %w", rec.Key, err)
		}
		if !keep {
			result.TombstonesRemoved++
			continue
		}
		kept = append(kept, rec)
	}

	if len(kept) > 0 {
		tbl, err := e.writeTable(set.NextID(), kept)
		if err != nil {
			return result, err
		}
		set.Add(tbl)
		result.TableCreated = true
		result.TableID = tbl.ID()
		result.OutputRecords = len(kept)
	}

	if err := h.Reset(); err != nil {
		return result, fmt.Errorf("failed to reset heap: %w", err)
	}
	idx.Clear()

	e.logger.Info("compacted %d records (%d bytes) into %d records, table created: %v",
		result.InputRecords, result.InputBytes, result.OutputRecords, result.TableCreated)
	return result, nil
}

func (e *Executor) writeTable(id uint64, records []*record.DataRecord) (*sstable.Table, error) {
	writer, err := sstable.NewWriter(e.dir, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create table writer: %w", err)
	}

	for _, rec := range records {
		if err := writer.Add(rec); err != nil {
			writer.Abort()
			return nil, fmt.Errorf("failed to add record to table %d: %w", id, err)
		}
	}

	if err := writer.Finish(); err != nil {
		writer.Abort()
		return nil, fmt.Errorf("failed to finish table %d: %w", id, err)
	}

	tbl, err := openTable(writer.DataPath(), e.cfg.Snapshot().BloomBitsPerKey)
	if err != nil {
		if rmErr := removeTableFiles(writer.DataPath()); rmErr != nil {
			e.logger.Warn("failed to remove unopenable table %d: %v", id, rmErr)
		}
		return nil, fmt.Errorf("failed to open new table %d: %w", id, err)
	}
	return tbl, nil
}

// removeTableFiles deletes the data file at dataPath and its index file
func removeTableFiles(dataPath string) error {
	indexPath, err := sstable.IndexPathFor(dataPath)
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range []string{dataPath, indexPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
