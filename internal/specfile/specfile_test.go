package specfile

import (
	"strings"
	"testing"

	"github.com/synmap/tilecache/internal/layer"
)

func TestParseWorldRegion(t *testing.T) {
	doc := `
name: test-world
region: world
layers:
  osmmapnik:
    zoom: 4
`
	spec, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.Name != "test-world" {
		t.Errorf("Name = %q, want test-world", spec.Name)
	}
	if len(spec.Layers) != 1 {
		t.Fatalf("len(Layers) = %d, want 1", len(spec.Layers))
	}
	if spec.Layers[0].MaxZoom != 4 {
		t.Errorf("MaxZoom = %d, want 4", spec.Layers[0].MaxZoom)
	}
	if spec.Layers[0].Refresh != layer.RefreshNone {
		t.Errorf("default Refresh = %v, want RefreshNone", spec.Layers[0].Refresh)
	}
}

func TestParseExplicitVertexRegion(t *testing.T) {
	doc := `
name: nw-quadrant
region: "0,0 0,90 45,90 45,0"
layers:
  chartbundle:
    zoom: 6
`
	spec, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.Region == nil {
		t.Fatal("expected a region")
	}
}

func TestParseRejectsUnknownLayer(t *testing.T) {
	doc := `
name: x
region: world
layers:
  nonexistent:
    zoom: 2
`
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "unknown layer") {
		t.Fatalf("err = %v, want unknown-layer validation error", err)
	}
}

func TestParseRejectsZoomOutOfRange(t *testing.T) {
	doc := `
name: x
region: world
layers:
  osmmapnik:
    zoom: 99
`
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("err = %v, want zoom-range validation error", err)
	}
}

func TestParseRejectsMissingName(t *testing.T) {
	doc := `
region: world
layers:
  osmmapnik:
    zoom: 1
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestParseRejectsNoLayers(t *testing.T) {
	doc := `
name: x
region: world
layers: {}
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for empty layers")
	}
}

func TestParseRefreshOlderThan(t *testing.T) {
	doc := `
name: x
region: world
layers:
  osmmapnik:
    zoom: 3
    refresh-older-than: 30
`
	spec, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l := spec.Layers[0]
	if l.Refresh != layer.RefreshDays || l.RefreshDaysN != 30 {
		t.Errorf("Refresh = %v/%d, want RefreshDays/30", l.Refresh, l.RefreshDaysN)
	}
}

func TestParseRefreshModeAlways(t *testing.T) {
	doc := `
name: x
region: world
layers:
  osmmapnik:
    zoom: 3
    refresh-mode: always
`
	spec, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.Layers[0].Refresh != layer.RefreshAlways {
		t.Errorf("Refresh = %v, want RefreshAlways", spec.Layers[0].Refresh)
	}
}

func TestParseRejectsConflictingRefreshKeys(t *testing.T) {
	doc := `
name: x
region: world
layers:
  osmmapnik:
    zoom: 3
    refresh-older-than: 10
    refresh-mode: always
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for conflicting refresh keys")
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("not: valid: yaml: ["))
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
