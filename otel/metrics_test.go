package otel_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/petal-labs/rootstock/bus"
	rsotel "github.com/petal-labs/rootstock/otel"
	"github.com/petal-labs/rootstock/task"
)

// newTestMeter returns a meter backed by a manual reader for collecting metrics in tests.
func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

// collectMetrics reads all metrics from the reader.
func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

// findMetric searches for a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func sumValue(t *testing.T, m *metricdata.Metrics, attrKey, attrVal string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is %T, want Sum[int64]", m.Name, m.Data)
	}
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(attribute.Key(attrKey)); found && v.AsString() == attrVal {
			return dp.Value
		}
	}
	t.Fatalf("metric %s has no datapoint with %s=%s", m.Name, attrKey, attrVal)
	return 0
}

type fakeBusSource struct {
	stats []bus.Stats
}

func (f fakeBusSource) Stats() []bus.Stats { return f.stats }

type fakeTaskSource struct {
	records []task.Record
}

func (f fakeTaskSource) Records() []task.Record { return f.records }

func TestMetrics_ObservesBusCounters(t *testing.T) {
	reader, mp := newTestMeter()
	meter := mp.Meter("test")

	src := fakeBusSource{stats: []bus.Stats{
		{Name: "server.deploy", Listeners: 3, Emitted: 10, Dropped: 2, Delivered: 7, Failed: 1},
	}}
	m, err := rsotel.NewMetrics(meter, src, nil)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	defer m.Close()

	rm := collectMetrics(t, reader)

	tests := []struct {
		metric string
		want   int64
	}{
		{"rootstock.bus.emitted", 10},
		{"rootstock.bus.dropped", 2},
		{"rootstock.bus.delivered", 7},
		{"rootstock.bus.failed", 1},
	}
	for _, tt := range tests {
		got := findMetric(rm, tt.metric)
		if got == nil {
			t.Errorf("metric %s not collected", tt.metric)
			continue
		}
		if v := sumValue(t, got, "bus", "server.deploy"); v != tt.want {
			t.Errorf("%s = %d, want %d", tt.metric, v, tt.want)
		}
	}

	gauge := findMetric(rm, "rootstock.bus.listeners")
	if gauge == nil {
		t.Fatal("listener gauge not collected")
	}
	g, ok := gauge.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("listener gauge is %T, want Gauge[int64]", gauge.Data)
	}
	if len(g.DataPoints) != 1 || g.DataPoints[0].Value != 3 {
		t.Errorf("listener gauge = %+v, want one datapoint of 3", g.DataPoints)
	}
}

func TestMetrics_ObservesTaskRecords(t *testing.T) {
	reader, mp := newTestMeter()
	meter := mp.Meter("test")

	src := fakeTaskSource{records: []task.Record{
		{Name: "cert-renewal", Runs: 3, Successes: 2, Stopped: true},
	}}
	m, err := rsotel.NewMetrics(meter, nil, src)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	defer m.Close()

	rm := collectMetrics(t, reader)

	runs := findMetric(rm, "rootstock.task.runs")
	if runs == nil {
		t.Fatal("task runs metric not collected")
	}
	if v := sumValue(t, runs, "task", "cert-renewal"); v != 3 {
		t.Errorf("task runs = %d, want 3", v)
	}

	succ := findMetric(rm, "rootstock.task.successes")
	if succ == nil {
		t.Fatal("task successes metric not collected")
	}
	if v := sumValue(t, succ, "task", "cert-renewal"); v != 2 {
		t.Errorf("task successes = %d, want 2", v)
	}

	stopped := findMetric(rm, "rootstock.task.stopped")
	if stopped == nil {
		t.Fatal("task stopped gauge not collected")
	}
	g, ok := stopped.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("stopped gauge is %T, want Gauge[int64]", stopped.Data)
	}
	if len(g.DataPoints) != 1 || g.DataPoints[0].Value != 1 {
		t.Errorf("stopped gauge = %+v, want one datapoint of 1", g.DataPoints)
	}
}

func TestMetrics_CloseUnregistersCallback(t *testing.T) {
	reader, mp := newTestMeter()
	meter := mp.Meter("test")

	src := fakeBusSource{stats: []bus.Stats{{Name: "b", Emitted: 1}}}
	m, err := rsotel.NewMetrics(meter, src, nil)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rm := collectMetrics(t, reader)
	if got := findMetric(rm, "rootstock.bus.emitted"); got != nil {
		if sum, ok := got.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
			t.Error("callback still observing after Close")
		}
	}
}
