// Package telemetry records per-call attributes and process metrics.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Attribute names attached to the caller's span.
const (
	AttrSlug                  = "codejail.slug"
	AttrLimitOverridesContext = "codejail.limit_overrides_context"
	AttrExtraFilesCount       = "codejail.extra_files_count"

	AttrDarklaunchStatusPrefix    = "codejail.darklaunch.status."
	AttrDarklaunchExceptionPrefix = "codejail.darklaunch.exception."
	AttrDarklaunchGlobalsMatch    = "codejail.darklaunch.globals_match"
	AttrDarklaunchEmsgMatch       = "codejail.darklaunch.emsg_match"
)

// Recorder attaches attributes to whatever the caller is currently observing.
type Recorder interface {
	SetAttribute(ctx context.Context, key string, value any)
}

// Nop discards every attribute.
type Nop struct{}

func (Nop) SetAttribute(context.Context, string, any) {}

// SpanRecorder writes attributes to the OpenTelemetry span found in ctx.
// Without an active span the call is a no-op.
type SpanRecorder struct{}

func (SpanRecorder) SetAttribute(ctx context.Context, key string, value any) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(toAttribute(key, value))
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case nil:
		return attribute.String(key, "None")
	}
	return attribute.String(key, fmt.Sprint(value))
}

// MemoryRecorder keeps the last value per key.
type MemoryRecorder struct {
	mu    sync.Mutex
	attrs map[string]any
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{attrs: make(map[string]any)}
}

func (m *MemoryRecorder) SetAttribute(_ context.Context, key string, value any) {
	m.mu.Lock()
	m.attrs[key] = value
	m.mu.Unlock()
}

// Get returns the recorded value for key.
func (m *MemoryRecorder) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.attrs[key]
	return v, ok
}

// Snapshot copies everything recorded so far.
func (m *MemoryRecorder) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.attrs))
	for k, v := range m.attrs {
		out[k] = v
	}
	return out
}

// Keys returns the recorded keys in sorted order.
func (m *MemoryRecorder) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.attrs))
	for k := range m.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Multi fans attributes out to several recorders.
type Multi []Recorder

func (m Multi) SetAttribute(ctx context.Context, key string, value any) {
	for _, r := range m {
		if r != nil {
			r.SetAttribute(ctx, key, value)
		}
	}
}
