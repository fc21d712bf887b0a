package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumWith(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "music", "ok", 1500*time.Millisecond)
	m.RecordTurn(ctx, "music", "device_failed", time.Second)
	m.RecordTurn(ctx, "lights", "placeholder", 200*time.Millisecond)

	rm := collect(t, reader)
	turns := findMetric(rm, "paavo.turns")
	if turns == nil {
		t.Fatal("paavo.turns not recorded")
	}
	if got := sumWith(t, turns, "topic", "music"); got != 2 {
		t.Errorf("music turns = %d, want 2", got)
	}
	if got := sumWith(t, turns, "outcome", "placeholder"); got != 1 {
		t.Errorf("placeholder turns = %d, want 1", got)
	}

	hist := findMetric(rm, "paavo.turn.duration")
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok || len(h.DataPoints) != 1 || h.DataPoints[0].Count != 3 {
		t.Errorf("turn duration = %+v", hist.Data)
	}
}

func TestRecordGatewayAndDevice(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGateway(ctx, "ok", time.Second)
	m.RecordGateway(ctx, "unreachable", time.Millisecond)
	m.RecordDevice(ctx, "media_player.media_pause", true)
	m.RecordDevice(ctx, "media_player.media_pause", false)

	rm := collect(t, reader)
	if got := sumWith(t, findMetric(rm, "paavo.gateway.requests"), "status", "unreachable"); got != 1 {
		t.Errorf("unreachable = %d, want 1", got)
	}
	if got := sumWith(t, findMetric(rm, "paavo.device.calls"), "status", "error"); got != 1 {
		t.Errorf("device errors = %d, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTurn(ctx, "music", "ok", time.Second)
	m.RecordGateway(ctx, "ok", time.Second)
	m.RecordDevice(ctx, "x", true)
	m.RecordPoolWait(ctx, time.Second)
}
