package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltersScopes(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeDriver, false},
		{LevelPhase, ScopePass, true},
		{LevelPhase, ScopeFunc, false},
		{LevelDetail, ScopeFunc, true},
		{LevelDetail, ScopeValue, false},
		{LevelDebug, ScopeValue, true},
	}
	for _, tc := range cases {
		if got := tc.level.ShouldEmit(tc.scope); got != tc.want {
			t.Errorf("%s.ShouldEmit(%s) = %v, want %v", tc.level, tc.scope, got, tc.want)
		}
	}
}

func TestStreamTracerWritesNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Level: LevelDebug, Output: &buf, OutputPath: "out.ndjson"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	span := Begin(tr, ScopeFunc, "lower:f", 0)
	Point(tr, ScopeValue, "alloc", span.ID(), "%3: fresh")
	span.End("done")
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 events, got %d:\n%s", len(lines), buf.String())
	}
	var point map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &point); err != nil {
		t.Fatalf("bad json %q: %v", lines[1], err)
	}
	if point["kind"] != "point" || point["scope"] != "value" || point["detail"] != "%3: fresh" {
		t.Fatalf("unexpected point event %v", point)
	}
}

func TestRingTracerKeepsNewest(t *testing.T) {
	ring := NewRingTracer(2, LevelPhase)
	for _, name := range []string{"a", "b", "c"} {
		Point(ring, ScopePass, name, 0, "")
	}
	Point(ring, ScopeValue, "filtered", 0, "")
	got := ring.Snapshot()
	if len(got) != 2 || got[0].Name != "b" || got[1].Name != "c" {
		t.Fatalf("unexpected ring contents %+v", got)
	}
	var buf bytes.Buffer
	if err := ring.Dump(&buf, FormatAuto); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if !strings.Contains(buf.String(), "• b") {
		t.Fatalf("text dump missing event:\n%s", buf.String())
	}
}

func TestContextPropagation(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatalf("empty context should yield Nop")
	}
	ring := NewRingTracer(4, LevelDebug)
	ctx := WithSpanContext(WithTracer(context.Background(), ring), SpanContext{SpanID: 9})
	if FromContext(ctx) != Tracer(ring) {
		t.Fatalf("tracer lost")
	}
	if CurrentSpan(ctx).SpanID != 9 {
		t.Fatalf("span context lost")
	}
}

func TestNewOffIsNop(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("expected disabled tracer, got %v %v", tr, err)
	}
}
