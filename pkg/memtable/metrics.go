// ABOUTME: MemTable telemetry metrics interface and implementation for the in-memory key index
// ABOUTME: Records per-operation latency, index size changes and rebuild statistics

package memtable

import (
	"context"
	"time"

	"github.com/KevoDB/heapkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	opPut = telemetry.OpTypePut
	opGet = telemetry.OpTypeGet
)

// MemTableMetrics defines the interface for MemTable telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type MemTableMetrics interface {
	telemetry.ComponentMetrics

	// RecordOperation records the latency of a single Put or Get.
	RecordOperation(ctx context.Context, opType string, duration time.Duration)

	// RecordSizeChange records a change in the number of indexed keys.
	RecordSizeChange(ctx context.Context, entries int64, delta int64)

	// RecordRebuild records a rebuild of the index from the heap log.
	RecordRebuild(ctx context.Context, duration time.Duration, records int64, entries int64)
}

// memTableMetrics implements MemTableMetrics using the telemetry interface.
type memTableMetrics struct {
	tel telemetry.Telemetry
}

// NewMemTableMetrics creates a new MemTable metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewMemTableMetrics(tel telemetry.Telemetry) MemTableMetrics {
	if tel == nil {
		return &noopMemTableMetrics{}
	}
	return &memTableMetrics{tel: tel}
}

// NewNoopMemTableMetrics creates a no-op MemTable metrics implementation.
func NewNoopMemTableMetrics() MemTableMetrics {
	return &noopMemTableMetrics{}
}

func (m *memTableMetrics) RecordOperation(ctx context.Context, opType string, duration time.Duration) {
	m.tel.RecordHistogram(ctx, "heapkv.memtable.operation.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMemTable),
		attribute.String(telemetry.AttrOperationType, opType),
	)

	m.tel.RecordCounter(ctx, "heapkv.memtable.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMemTable),
		attribute.String(telemetry.AttrOperationType, opType),
	)
}

func (m *memTableMetrics) RecordSizeChange(ctx context.Context, entries int64, delta int64) {
	m.tel.RecordHistogram(ctx, "heapkv.memtable.entries", float64(entries),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMemTable),
	)

	// Negative for shrinkage
	m.tel.RecordHistogram(ctx, "heapkv.memtable.entries.delta", float64(delta),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMemTable),
	)
}

func (m *memTableMetrics) RecordRebuild(ctx context.Context, duration time.Duration, records int64, entries int64) {
	m.tel.RecordHistogram(ctx, "heapkv.memtable.rebuild.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMemTable),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeRebuild),
	)

	m.tel.RecordCounter(ctx, "heapkv.memtable.rebuild.records", records,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentMemTable),
	)

	m.RecordSizeChange(ctx, entries, entries)
}

func (m *memTableMetrics) Close() error {
	return nil
}

// noopMemTableMetrics provides a no-operation implementation for testing or disabled telemetry.
type noopMemTableMetrics struct{}

func (n *noopMemTableMetrics) RecordOperation(ctx context.Context, opType string, duration time.Duration) {
}

func (n *noopMemTableMetrics) RecordSizeChange(ctx context.Context, entries int64, delta int64) {
}

func (n *noopMemTableMetrics) RecordRebuild(ctx context.Context, duration time.Duration, records int64, entries int64) {
}

func (n *noopMemTableMetrics) Close() error {
	return nil
}
