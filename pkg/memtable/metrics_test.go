// ABOUTME: Unit tests for MemTable telemetry metrics with a capturing telemetry server
// ABOUTME: Drives real MemTable operations and checks which metrics are recorded

package memtable

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// mockTelemetryServer captures metrics for testing.
// This mocks the telemetry destination, NOT the business logic.
type mockTelemetryServer struct {
	histograms []histogramRecord
	counters   []counterRecord
}

type histogramRecord struct {
	name  string
	value float64
	attrs []attribute.KeyValue
}

type counterRecord struct {
	name  string
	value int64
	attrs []attribute.KeyValue
}

func newMockTelemetryServer() *mockTelemetryServer {
	return &mockTelemetryServer{}
}

func (m *mockTelemetryServer) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	m.histograms = append(m.histograms, histogramRecord{name: name, value: value, attrs: attrs})
}

func (m *mockTelemetryServer) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	m.counters = append(m.counters, counterRecord{name: name, value: value, attrs: attrs})
}

func (m *mockTelemetryServer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (m *mockTelemetryServer) Shutdown(ctx context.Context) error {
	return nil
}

func (m *mockTelemetryServer) findHistogram(name string) *histogramRecord {
	for i := range m.histograms {
		if m.histograms[i].name == name {
			return &m.histograms[i]
		}
	}
	return nil
}

func (m *mockTelemetryServer) findCounter(name string) *counterRecord {
	for i := range m.counters {
		if m.counters[i].name == name {
			return &m.counters[i]
		}
	}
	return nil
}

func (m *mockTelemetryServer) countCounters(name string) int {
	count := 0
	for _, c := range m.counters {
		if c.name == name {
			count++
		}
	}
	return count
}

func (m *mockTelemetryServer) reset() {
	m.histograms = m.histograms[:0]
	m.counters = m.counters[:0]
}

func TestMemTableMetrics(t *testing.T) {
	ctx := context.Background()
	mockServer := newMockTelemetryServer()
	metrics := NewMemTableMetrics(mockServer)

	t.Run("RecordOperation", func(t *testing.T) {
		mockServer.reset()

		metrics.RecordOperation(ctx, "put", 50*time.Millisecond)

		durHist := mockServer.findHistogram("heapkv.memtable.operation.duration")
		if durHist == nil {
			t.Fatal("Expected operation duration histogram to be recorded")
		}
		if durHist.value != 0.05 {
			t.Errorf("Expected duration 0.05s, got %f", durHist.value)
		}

		opsCounter := mockServer.findCounter("heapkv.memtable.operations.total")
		if opsCounter == nil {
			t.Fatal("Expected operations counter to be recorded")
		}
		if opsCounter.value != 1 {
			t.Errorf("Expected operations count 1, got %d", opsCounter.value)
		}
	})

	t.Run("RecordSizeChange", func(t *testing.T) {
		mockServer.reset()

		metrics.RecordSizeChange(ctx, 0, -12)

		deltaHist := mockServer.findHistogram("heapkv.memtable.entries.delta")
		if deltaHist == nil {
			t.Fatal("Expected delta histogram to be recorded")
		}
		if deltaHist.value != -12 {
			t.Errorf("Expected delta -12, got %f", deltaHist.value)
		}
	})

	t.Run("RecordRebuild", func(t *testing.T) {
		mockServer.reset()

		metrics.RecordRebuild(ctx, 2*time.Second, 1000, 250)

		durHist := mockServer.findHistogram("heapkv.memtable.rebuild.duration")
		if durHist == nil || durHist.value != 2.0 {
			t.Fatalf("Expected rebuild duration 2.0s, got %+v", durHist)
		}

		records := mockServer.findCounter("heapkv.memtable.rebuild.records")
		if records == nil || records.value != 1000 {
			t.Fatalf("Expected 1000 rebuild records, got %+v", records)
		}

		entries := mockServer.findHistogram("heapkv.memtable.entries")
		if entries == nil || entries.value != 250 {
			t.Fatalf("Expected 250 entries, got %+v", entries)
		}
	})
}

func TestNoopMemTableMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := NewNoopMemTableMetrics()

	metrics.RecordOperation(ctx, "put", 10*time.Millisecond)
	metrics.RecordSizeChange(ctx, 1024, 512)
	metrics.RecordRebuild(ctx, time.Second, 10, 5)

	if err := metrics.Close(); err != nil {
		t.Errorf("Expected no error from no-op Close(), got %v", err)
	}

	if _, ok := NewMemTableMetrics(nil).(*noopMemTableMetrics); !ok {
		t.Errorf("Expected nil telemetry to yield the no-op implementation")
	}
}

func TestMemTableTelemetryIntegration(t *testing.T) {
	mockServer := newMockTelemetryServer()
	mt := NewMemTableWithMetrics(NewMemTableMetrics(mockServer))

	mt.Put([]byte("key1"), 0)
	mt.Put([]byte("key2"), 16)
	if _, ok := mt.Get([]byte("key1")); !ok {
		t.Fatal("Expected key1 to be found")
	}

	if n := mockServer.countCounters("heapkv.memtable.operations.total"); n != 3 {
		t.Errorf("Expected 3 operations recorded, got %d", n)
	}

	mockServer.reset()
	mt.Clear()

	deltaHist := mockServer.findHistogram("heapkv.memtable.entries.delta")
	if deltaHist == nil || deltaHist.value != -2 {
		t.Errorf("Expected clear to record a delta of -2, got %+v", deltaHist)
	}
}
