package telemetry

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/polarityio/dataminr-pulse-limited/core"
)

// Registry adapts otel/metric instruments to core.MetricsRegistry.
// It deliberately stops at the metric API: no OTLP exporter, no SDK
// MeterProvider construction. A host process that wants metrics
// exported wires its own otel.SetMeterProvider() before calling
// Initialize — this package only needs instruments to exist, not where
// they end up. See DESIGN.md for why the exporter layer isn't here.
type Registry struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// Initialize constructs a Registry against the global otel MeterProvider
// and installs it as the process-wide core.MetricsRegistry. main calls
// it once at process startup; a later call installs a fresh,
// independent instrument cache in place of the previous one.
func Initialize(serviceName string) *Registry {
	r := &Registry{
		meter:      otel.Meter(serviceName),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
	core.SetMetricsRegistry(r)
	return r
}

func (r *Registry) Counter(name string, labels ...string) {
	r.mu.Lock()
	c, ok := r.counters[name]
	if !ok {
		c, _ = r.meter.Int64Counter(name)
		r.counters[name] = c
	}
	r.mu.Unlock()
	if c != nil {
		c.Add(context.Background(), 1, metric.WithAttributes(attrs(labels)...))
	}
}

func (r *Registry) Gauge(name string, value float64, labels ...string) {
	r.mu.Lock()
	g, ok := r.gauges[name]
	if !ok {
		g, _ = r.meter.Float64Gauge(name)
		r.gauges[name] = g
	}
	r.mu.Unlock()
	if g != nil {
		g.Record(context.Background(), value, metric.WithAttributes(attrs(labels)...))
	}
}

func (r *Registry) Histogram(name string, value float64, labels ...string) {
	r.mu.Lock()
	h, ok := r.histograms[name]
	if !ok {
		h, _ = r.meter.Float64Histogram(name)
		r.histograms[name] = h
	}
	r.mu.Unlock()
	if h != nil {
		h.Record(context.Background(), value, metric.WithAttributes(attrs(labels)...))
	}
}

// attrs turns a flat "k1", "v1", "k2", "v2", ... slice (the shape the
// teacher's Counter/Gauge/Histogram calls use throughout core/resilience)
// into otel attributes, silently dropping a dangling trailing key.
func attrs(labels []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		out = append(out, attribute.String(strings.ToLower(labels[i]), labels[i+1]))
	}
	return out
}

var _ core.MetricsRegistry = (*Registry)(nil)
