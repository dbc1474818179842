package core

import (
	"context"
	"sync"
)

// Logger is the structured logging interface implemented by
// telemetry.StructuredLogger and satisfied trivially by NoOpLogger.
// Every component in this module takes a Logger rather than reaching
// for a package-level logger, so tests can inject NoOpLogger and
// production wiring can inject the real one.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem tag its log lines with a
// component name while sharing one base logger configuration —
// "gateway", "store", "polling", "dispatch" filterable the same way
// the teacher's loggers distinguish "framework/core" from "agent/<name>".
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Default for components constructed
// without an explicit logger, and useful in tests that don't care
// about log output.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// MetricsRegistry is the hook subsystems emit through without taking a
// hard dependency on the telemetry package — avoids gateway/store
// importing telemetry directly while still letting a wired-up process
// observe cache hits, queue depth, retry counts, etc. telemetry.Registry
// registers itself here via SetMetricsRegistry during process startup.
type MetricsRegistry interface {
	Counter(name string, labels ...string)
	Gauge(name string, value float64, labels ...string)
	Histogram(name string, value float64, labels ...string)
}

var (
	globalMetricsRegistry MetricsRegistry
	metricsMu             sync.RWMutex
)

// SetMetricsRegistry installs the process-wide metrics sink.
func SetMetricsRegistry(r MetricsRegistry) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetricsRegistry = r
}

// GetGlobalMetricsRegistry returns the installed registry, or nil if
// none has been set — callers must nil-check before use.
func GetGlobalMetricsRegistry() MetricsRegistry {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetricsRegistry
}
