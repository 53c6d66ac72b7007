// ABOUTME: Store-level telemetry for user operations, lookup locations and recovery
// ABOUTME: Falls back to a no-op implementation when telemetry is disabled

package engine

import (
	"context"
	"time"

	"github.com/KevoDB/heapkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// EngineMetrics defines the interface for store-level telemetry
type EngineMetrics interface {
	telemetry.ComponentMetrics

	// RecordEngineOperation records the latency and outcome of Put, Get or Delete
	RecordEngineOperation(ctx context.Context, operation string, duration time.Duration, success bool)

	// RecordLookup records which layer answered a read
	RecordLookup(ctx context.Context, location string)

	// RecordDiskUsage records the size of the heap log
	RecordDiskUsage(ctx context.Context, component string, bytes int64)

	// RecordStartup records how long Open took and how much it recovered
	RecordStartup(ctx context.Context, duration time.Duration, tablesLoaded int, indexedKeys int)
}

type engineMetrics struct {
	tel telemetry.Telemetry
}

// NewEngineMetrics creates a new EngineMetrics instance
func NewEngineMetrics(tel telemetry.Telemetry) EngineMetrics {
	if tel == nil {
		return &noopEngineMetrics{}
	}
	return &engineMetrics{tel: tel}
}

// NewNoopEngineMetrics creates a no-op EngineMetrics for testing or when telemetry is disabled
func NewNoopEngineMetrics() EngineMetrics {
	return &noopEngineMetrics{}
}

func (m *engineMetrics) RecordEngineOperation(ctx context.Context, operation string, duration time.Duration, success bool) {
	status := telemetry.StatusSuccess
	if !success {
		status = telemetry.StatusError
	}

	m.tel.RecordHistogram(ctx, "heapkv.engine.operation.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrStatus, status),
	)

	m.tel.RecordCounter(ctx, "heapkv.engine.operation.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrStatus, status),
	)
}

func (m *engineMetrics) RecordLookup(ctx context.Context, location string) {
	m.tel.RecordCounter(ctx, "heapkv.engine.lookup.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String(telemetry.AttrLocation, location),
	)
}

func (m *engineMetrics) RecordDiskUsage(ctx context.Context, component string, bytes int64) {
	m.tel.RecordHistogram(ctx, "heapkv.engine.disk.usage.bytes", float64(bytes),
		attribute.String(telemetry.AttrComponent, component),
	)
}

func (m *engineMetrics) RecordStartup(ctx context.Context, duration time.Duration, tablesLoaded int, indexedKeys int) {
	m.tel.RecordHistogram(ctx, "heapkv.engine.startup.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
	)
	m.tel.RecordCounter(ctx, "heapkv.engine.startup.tables", int64(tablesLoaded),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
	)
	m.tel.RecordCounter(ctx, "heapkv.engine.startup.keys", int64(indexedKeys),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
	)
}

func (m *engineMetrics) Close() error {
	return nil
}

type noopEngineMetrics struct{}

func (n *noopEngineMetrics) RecordEngineOperation(ctx context.Context, operation string, duration time.Duration, success bool) {
}

func (n *noopEngineMetrics) RecordLookup(ctx context.Context, location string) {}

func (n *noopEngineMetrics) RecordDiskUsage(ctx context.Context, component string, bytes int64) {}

func (n *noopEngineMetrics) RecordStartup(ctx context.Context, duration time.Duration, tablesLoaded int, indexedKeys int) {
}

func (n *noopEngineMetrics) Close() error {
	return nil
}
