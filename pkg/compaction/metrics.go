// ABOUTME: Telemetry metrics interface for compaction runs
// ABOUTME: Records triggers, run duration, input and output volume, and tombstones dropped

package compaction

import (
	"context"
	"time"

	"github.com/KevoDB/heapkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// CompactionMetrics interface defines telemetry methods for compaction operations
type CompactionMetrics interface {
	telemetry.ComponentMetrics

	// RecordTrigger records a trigger request and whether it started a run
	RecordTrigger(ctx context.Context, accepted bool)

	// RecordCompactionStart records the heap volume about to be compacted
	RecordCompactionStart(ctx context.Context, inputRecords int, inputBytes int64)

	// RecordCompactionComplete records the outcome of a compaction run
	RecordCompactionComplete(ctx context.Context, duration time.Duration, outputRecords int, duplicatesRemoved int, tombstonesRemoved int, success bool)
}

// compactionMetrics implements CompactionMetrics using the telemetry package
type compactionMetrics struct {
	tel telemetry.Telemetry
}

// NewCompactionMetrics creates a new CompactionMetrics implementation.
// If tel is nil, returns a no-op implementation.
func NewCompactionMetrics(tel telemetry.Telemetry) CompactionMetrics {
	if tel == nil {
		return &noopCompactionMetrics{}
	}
	return &compactionMetrics{tel: tel}
}

// NewNoopCompactionMetrics creates a no-op CompactionMetrics for testing/disabled scenarios
func NewNoopCompactionMetrics() CompactionMetrics {
	return &noopCompactionMetrics{}
}

func (m *compactionMetrics) RecordTrigger(ctx context.Context, accepted bool) {
	m.tel.RecordCounter(ctx, "heapkv.compaction.trigger.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction),
		attribute.Bool("accepted", accepted),
	)
}

func (m *compactionMetrics) RecordCompactionStart(ctx context.Context, inputRecords int, inputBytes int64) {
	m.tel.RecordCounter(ctx, "heapkv.compaction.start.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction),
	)

	m.tel.RecordCounter(ctx, "heapkv.compaction.input.records", int64(inputRecords),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction),
	)

	m.tel.RecordCounter(ctx, "heapkv.compaction.input.bytes", inputBytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction),
	)
}

func (m *compactionMetrics) RecordCompactionComplete(ctx context.Context, duration time.Duration, outputRecords int, duplicatesRemoved int, tombstonesRemoved int, success bool) {
	m.tel.RecordHistogram(ctx, "heapkv.compaction.execution.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction),
		attribute.String(telemetry.AttrStatus, statusToString(success)),
	)

	if !success {
		return
	}

	m.tel.RecordCounter(ctx, "heapkv.compaction.output.records", int64(outputRecords),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction),
	)

	m.tel.RecordCounter(ctx, "heapkv.compaction.duplicates.removed", int64(duplicatesRemoved),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction),
	)

	m.tel.RecordCounter(ctx, "heapkv.compaction.tombstones.removed", int64(tombstonesRemoved),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCompaction),
	)
}

func (m *compactionMetrics) Close() error {
	return nil
}

func statusToString(success bool) string {
	if success {
		return telemetry.StatusSuccess
	}
	return telemetry.StatusError
}

// noopCompactionMetrics provides a no-op implementation
type noopCompactionMetrics struct{}

func (n *noopCompactionMetrics) RecordTrigger(ctx context.Context, accepted bool) {}

func (n *noopCompactionMetrics) RecordCompactionStart(ctx context.Context, inputRecords int, inputBytes int64) {
}

func (n *noopCompactionMetrics) RecordCompactionComplete(ctx context.Context, duration time.Duration, outputRecords int, duplicatesRemoved int, tombstonesRemoved int, success bool) {
}

func (n *noopCompactionMetrics) Close() error {
	return nil
}
