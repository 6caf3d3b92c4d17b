// Package otel provides OpenTelemetry integration for the rootstock
// extension runtime: observable metrics over the bus and task
// introspection surfaces, an error sink that records contained faults on
// active spans, and a tracing wrapper for hook pipelines.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/rootstock/bus"
	"github.com/petal-labs/rootstock/task"
)

// BusStatsSource yields bus counters; the rootstock Hub satisfies it.
type BusStatsSource interface {
	Stats() []bus.Stats
}

// TaskRecordsSource yields task records; the task Supervisor satisfies it.
type TaskRecordsSource interface {
	Records() []task.Record
}

// Metrics registers observable instruments that read the runtime's
// introspection counters on every collection cycle.
type Metrics struct {
	registration metric.Registration
}

// NewMetrics creates the instruments and registers a single collection
// callback. Either source may be nil, in which case its instruments
// report nothing.
func NewMetrics(meter metric.Meter, buses BusStatsSource, tasks TaskRecordsSource) (*Metrics, error) {
	emitted, err := meter.Int64ObservableCounter("rootstock.bus.emitted",
		metric.WithDescription("Events accepted onto a bus queue"),
	)
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64ObservableCounter("rootstock.bus.dropped",
		metric.WithDescription("Events dropped because a bus queue was full"),
	)
	if err != nil {
		return nil, err
	}
	delivered, err := meter.Int64ObservableCounter("rootstock.bus.delivered",
		metric.WithDescription("Listener invocations that completed without error"),
	)
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64ObservableCounter("rootstock.bus.failed",
		metric.WithDescription("Listener invocations that returned an error or panicked"),
	)
	if err != nil {
		return nil, err
	}
	listeners, err := meter.Int64ObservableGauge("rootstock.bus.listeners",
		metric.WithDescription("Currently registered listeners per bus"),
	)
	if err != nil {
		return nil, err
	}
	taskRuns, err := meter.Int64ObservableCounter("rootstock.task.runs",
		metric.WithDescription("Background task iterations started"),
	)
	if err != nil {
		return nil, err
	}
	taskSuccesses, err := meter.Int64ObservableCounter("rootstock.task.successes",
		metric.WithDescription("Background task iterations that completed without error"),
	)
	if err != nil {
		return nil, err
	}
	taskStopped, err := meter.Int64ObservableGauge("rootstock.task.stopped",
		metric.WithDescription("1 when a task's loop terminated after a panic"),
	)
	if err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			if buses != nil {
				for _, s := range buses.Stats() {
					attrs := metric.WithAttributes(attribute.String("bus", s.Name))
					o.ObserveInt64(emitted, int64(s.Emitted), attrs)
					o.ObserveInt64(dropped, int64(s.Dropped), attrs)
					o.ObserveInt64(delivered, int64(s.Delivered), attrs)
					o.ObserveInt64(failed, int64(s.Failed), attrs)
					o.ObserveInt64(listeners, int64(s.Listeners), attrs)
				}
			}
			if tasks != nil {
				for _, r := range tasks.Records() {
					attrs := metric.WithAttributes(attribute.String("task", r.Name))
					o.ObserveInt64(taskRuns, int64(r.Runs), attrs)
					o.ObserveInt64(taskSuccesses, int64(r.Successes), attrs)
					var stopped int64
					if r.Stopped {
						stopped = 1
					}
					o.ObserveInt64(taskStopped, stopped, attrs)
				}
			}
			return nil
		},
		emitted, dropped, delivered, failed, listeners,
		taskRuns, taskSuccesses, taskStopped,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{registration: reg}, nil
}

// Close unregisters the collection callback.
func (m *Metrics) Close() error {
	return m.registration.Unregister()
}
