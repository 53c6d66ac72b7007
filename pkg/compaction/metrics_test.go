// ABOUTME: Unit tests for compaction telemetry using a capturing telemetry server
// ABOUTME: Verifies trigger, start and completion metrics and the no-op fallback

package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/KevoDB/heapkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type recordedMetric struct {
	name  string
	value float64
	attrs []attribute.KeyValue
}

// captureTelemetry records metric calls for inspection
type captureTelemetry struct {
	metrics []recordedMetric
}

func (c *captureTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	c.metrics = append(c.metrics, recordedMetric{name, value, attrs})
}

func (c *captureTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	c.metrics = append(c.metrics, recordedMetric{name, float64(value), attrs})
}

func (c *captureTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (c *captureTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

func (c *captureTelemetry) find(name string) *recordedMetric {
	for i := range c.metrics {
		if c.metrics[i].name == name {
			return &c.metrics[i]
		}
	}
	return nil
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestCompactionMetricsRecording(t *testing.T) {
	tel := &captureTelemetry{}
	m := NewCompactionMetrics(tel)
	ctx := context.Background()

	m.RecordTrigger(ctx, false)
	trigger := tel.find("heapkv.compaction.trigger.count")
	if trigger == nil {
		t.Fatal("expected trigger metric")
	}
	if v, ok := attrValue(trigger.attrs, "accepted"); !ok || v.AsBool() {
		t.Errorf("expected accepted=false attribute, got %v", trigger.attrs)
	}

	m.RecordCompactionStart(ctx, 12, 4096)
	if in := tel.find("heapkv.compaction.input.bytes"); in == nil || in.value != 4096 {
		t.Errorf("expected input bytes 4096, got %+v", in)
	}

	m.RecordCompactionComplete(ctx, 50*time.Millisecond, 7, 4, 1, true)
	if out := tel.find("heapkv.compaction.output.records"); out == nil || out.value != 7 {
		t.Errorf("expected 7 output records, got %+v", out)
	}
	if dups := tel.find("heapkv.compaction.duplicates.removed"); dups == nil || dups.value != 4 {
		t.Errorf("expected 4 duplicates removed, got %+v", dups)
	}
	dur := tel.find("heapkv.compaction.execution.duration")
	if dur == nil {
		t.Fatal("expected duration metric")
	}
	if v, _ := attrValue(dur.attrs, telemetry.AttrStatus); v.AsString() != telemetry.StatusSuccess {
		t.Errorf("expected success status, got %v", v.AsString())
	}
}

func TestCompactionMetricsFailureSkipsOutput(t *testing.T) {
	tel := &captureTelemetry{}
	m := NewCompactionMetrics(tel)

	m.RecordCompactionComplete(context.Background(), time.Millisecond, 0, 0, 0, false)

	if tel.find("heapkv.compaction.output.records") != nil {
		t.Error("expected no output metrics for a failed compaction")
	}
	dur := tel.find("heapkv.compaction.execution.duration")
	if dur == nil {
		t.Fatal("expected duration metric")
	}
	if v, _ := attrValue(dur.attrs, telemetry.AttrStatus); v.AsString() != telemetry.StatusError {
		t.Errorf("expected error status, got %v", v.AsString())
	}
}

func TestNoopCompactionMetrics(t *testing.T) {
	m := NewNoopCompactionMetrics()
	m.RecordTrigger(context.Background(), true)
	m.RecordCompactionStart(context.Background(), 1, 1)
	m.RecordCompactionComplete(context.Background(), time.Second, 1, 0, 0, true)
	if err := m.Close(); err != nil {
		t.Errorf("expected nil from Close, got %v", err)
	}
}
