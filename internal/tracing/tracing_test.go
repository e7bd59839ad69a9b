package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func TestInit(t *testing.T) {
	shutdown := Init("test-version")
	defer shutdown(context.Background())

	if Tracer == nil {
		t.Fatal("Tracer is nil after Init")
	}

	ctx, span := StartSpan(context.Background(), "test-span")
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}

	// These should not panic regardless of whether the span is recording.
	SetAttributes(ctx, attribute.String("test", "value"))
	RecordError(ctx, nil)
	SetStatus(ctx, codes.Ok, "test")
	AddEvent(ctx, "test-event")
	span.End()
}

func TestTileAttributes(t *testing.T) {
	attrs := TileAttributes("osm", 3, 5, 2)
	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}

	want := map[string]bool{AttrLayer: false, AttrZoom: false, AttrTileX: false, AttrTileY: false}
	for _, a := range attrs {
		key := string(a.Key)
		if _, ok := want[key]; !ok {
			t.Errorf("unexpected attribute key %q", key)
		}
		want[key] = true
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("missing attribute key %q", k)
		}
	}
}

func TestErrorAttributesNil(t *testing.T) {
	if attrs := ErrorAttributes(nil); attrs != nil {
		t.Fatalf("expected nil attributes for nil error, got %v", attrs)
	}
}
