package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/core"
)

// StructuredLogger is the production Logger implementation: JSON lines
// under Kubernetes (auto-detected via KUBERNETES_SERVICE_HOST, same
// signal the teacher's ProductionLogger/TelemetryLogger use), plain
// text for local development. An error-log RateLimiter keeps a stuck
// poll loop from flooding stdout with the same failure every cycle.
type StructuredLogger struct {
	component string
	level     string
	debug     bool
	service   string
	format    string
	output    io.Writer
	mu        sync.Mutex

	errorLimiter *RateLimiter
}

// NewStructuredLogger builds a logger for serviceName. Configuration
// priority: DATAMINR_LOG_LEVEL / DATAMINR_LOG_FORMAT env vars, then
// Kubernetes auto-detection, then defaults (info level, text format).
func NewStructuredLogger(serviceName string) *StructuredLogger {
	level := os.Getenv("DATAMINR_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	debug := strings.EqualFold(level, "DEBUG") || os.Getenv("DATAMINR_DEBUG") == "true"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("DATAMINR_LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	return &StructuredLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		service:      serviceName,
		format:       format,
		output:       os.Stdout,
		errorLimiter: NewRateLimiter(time.Second),
	}
}

// WithComponent returns a logger tagged with component, sharing the
// parent's level/format/output so "gateway", "store", "polling" and
// "dispatch" logs can be filtered independently downstream.
func (l *StructuredLogger) WithComponent(component string) core.Logger {
	clone := *l
	clone.component = component
	return &clone
}

func (l *StructuredLogger) Info(msg string, fields map[string]interface{})  { l.log("INFO", msg, fields) }
func (l *StructuredLogger) Warn(msg string, fields map[string]interface{})  { l.log("WARN", msg, fields) }
func (l *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	if l.debug {
		l.log("DEBUG", msg, fields)
	}
}

func (l *StructuredLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *StructuredLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("INFO", msg, withRequestID(ctx, fields))
}

func (l *StructuredLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, withRequestID(ctx, fields))
}

func (l *StructuredLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("WARN", msg, withRequestID(ctx, fields))
}

func (l *StructuredLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if l.debug {
		l.log("DEBUG", msg, withRequestID(ctx, fields))
	}
}

type requestIDKey struct{}

// ContextWithRequestID attaches a caller-chosen correlation id so every
// log line emitted through the *WithContext methods while handling a
// request carries it as request_id and can be joined together.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func withRequestID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id, _ := ctx.Value(requestIDKey{}).(string)
	if id == "" {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["request_id"] = id
	return out
}

func (l *StructuredLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     level,
			"service":   l.service,
			"message":   msg,
		}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		enc := json.NewEncoder(l.output)
		_ = enc.Encode(entry)
		return
	}

	prefix := fmt.Sprintf("%s [%s] %s:", time.Now().Format(time.RFC3339), level, l.service)
	if l.component != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, l.component)
	}
	if len(fields) == 0 {
		fmt.Fprintf(l.output, "%s %s\n", prefix, msg)
		return
	}
	fmt.Fprintf(l.output, "%s %s %v\n", prefix, msg, fields)
}

var _ core.ComponentAwareLogger = (*StructuredLogger)(nil)
