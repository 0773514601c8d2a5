package telemetry_test

import (
	"context"
	"testing"
	"time"

	"capajail/internal/codejail/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMemoryRecorderKeepsLastValue(t *testing.T) {
	rec := telemetry.NewMemoryRecorder()
	ctx := context.Background()
	rec.SetAttribute(ctx, telemetry.AttrSlug, "p1")
	rec.SetAttribute(ctx, telemetry.AttrSlug, "p2")
	rec.SetAttribute(ctx, telemetry.AttrExtraFilesCount, 0)

	if v, _ := rec.Get(telemetry.AttrSlug); v != "p2" {
		t.Fatalf("expected p2, got %v", v)
	}
	keys := rec.Keys()
	if len(keys) != 2 || keys[0] != telemetry.AttrExtraFilesCount {
		t.Fatalf("unexpected keys %v", keys)
	}
	snap := rec.Snapshot()
	rec.SetAttribute(ctx, "other", true)
	if _, ok := snap["other"]; ok {
		t.Fatalf("snapshot must not alias the recorder")
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := telemetry.NewMemoryRecorder(), telemetry.NewMemoryRecorder()
	telemetry.Multi{a, nil, b, telemetry.SpanRecorder{}, telemetry.Nop{}}.SetAttribute(context.Background(), "k", 1)
	if _, ok := a.Get("k"); !ok {
		t.Fatalf("a missed the attribute")
	}
	if _, ok := b.Get("k"); !ok {
		t.Fatalf("b missed the attribute")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	m.ObserveExecution("local", "ok", 10*time.Millisecond)
	m.ObserveExecution("local", "ok", 20*time.Millisecond)
	m.CacheLookup("hit")
	m.DarklaunchCompared("na")

	if got := testutil.ToFloat64(m.Executions.WithLabelValues("local", "ok")); got != 2 {
		t.Fatalf("expected 2 executions, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}

	var nilMetrics *telemetry.Metrics
	nilMetrics.ObserveExecution("remote", "ok", time.Second)
	nilMetrics.CacheStoreFailed()
}
