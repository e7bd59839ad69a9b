package urltemplate

import (
	"strings"
	"testing"

	"github.com/synmap/tilecache/internal/layer"
)

func TestCompileBasicPlaceholders(t *testing.T) {
	tpl, err := Compile("http://mapserver/tile?x={x}&y={y}&z={z}", "png")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := tpl.URL(5, 10, 20)
	want := "http://mapserver/tile?x=10&y=20&z=5"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestCompileInvertedY(t *testing.T) {
	tpl, err := Compile("http://wms.chartbundle.com/tms/1.0.0/sec/{z}/{x}/{-y}.{type}", "png")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// z=3: 2^3 - 1 - y = 7 - y
	got := tpl.URL(3, 5, 2)
	want := "http://wms.chartbundle.com/tms/1.0.0/sec/3/5/5.png"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestCompileShardList(t *testing.T) {
	tpl, err := Compile("http://{s:abc}.tile.openstreetmap.org/{z}/{x}/{y}.png", "png")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// shard = list[(x+y) % len(list)]; x=1,y=1 -> index 2 -> 'c'
	got := tpl.URL(4, 1, 1)
	if !strings.Contains(got, "c.tile.openstreetmap.org") {
		t.Errorf("URL = %q, want shard 'c'", got)
	}
}

func TestCompileShardRange(t *testing.T) {
	tpl, err := Compile("http://ecn.dynamic.t{s:0-3}.tiles.virtualearth.net/comp?it=A,G,L", "jpg")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := tpl.URL(10, 5, 5)
	if !strings.Contains(got, "t0.tiles") && !strings.Contains(got, "t1.tiles") &&
		!strings.Contains(got, "t2.tiles") && !strings.Contains(got, "t3.tiles") {
		t.Errorf("URL = %q, want one of shards t0-t3", got)
	}
}

func TestCompileQuadkey(t *testing.T) {
	tpl, err := Compile("http://ecn.t0.tiles.virtualearth.net/comp/CompositionHandler/{qt}?it=A,G,L", "jpg")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := tpl.URL(3, 5, 2)
	want := "http://ecn.t0.tiles.virtualearth.net/comp/CompositionHandler/121?it=A,G,L"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestCompilePreservesLiteralPercent(t *testing.T) {
	tpl, err := Compile("http://tiles/{z}/{x}/{y}.png?pct=100%25", "png")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got := tpl.URL(1, 0, 0)
	if !strings.Contains(got, "100%25") {
		t.Errorf("URL = %q, want literal percent preserved", got)
	}
}

func TestCompileHermeticAcrossCalls(t *testing.T) {
	tpl, err := Compile("http://{s:abc}.tile/{z}/{x}/{y}.png", "png")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	first := tpl.URL(4, 1, 1)
	second := tpl.URL(4, 2, 2)
	third := tpl.URL(4, 1, 1)
	if first != third {
		t.Errorf("compiled template not hermetic: %q != %q", first, third)
	}
	if first == second {
		t.Errorf("expected different tiles to produce different urls")
	}
}

func TestCompileForLayerUsesLiteralTemplate(t *testing.T) {
	l := &layer.Layer{ID: "x", Template: layer.TemplateSource{Template: "http://h/{z}/{x}/{y}.png"}, Extension: "png"}
	tmpl, err := CompileForLayer(l)
	if err != nil {
		t.Fatalf("CompileForLayer: %v", err)
	}
	if got, want := tmpl.URL(1, 2, 3), "http://h/1/2/3.png"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestCompileForLayerResolvesRegisteredFactory(t *testing.T) {
	l := &layer.Layer{ID: "x", Template: layer.TemplateSource{Factory: "osmmapnik-roundrobin"}, Extension: "png"}
	tmpl, err := CompileForLayer(l)
	if err != nil {
		t.Fatalf("CompileForLayer: %v", err)
	}
	urls := make(map[string]bool)
	for i := 0; i < 3; i++ {
		urls[tmpl.URL(1, 0, 0)] = true
	}
	if len(urls) < 2 {
		t.Errorf("expected the round-robin factory to vary the host across calls, got %v", urls)
	}
}

func TestCompileForLayerRejectsUnknownFactory(t *testing.T) {
	l := &layer.Layer{ID: "x", Template: layer.TemplateSource{Factory: "nonexistent"}, Extension: "png"}
	if _, err := CompileForLayer(l); err == nil {
		t.Fatal("expected an error for an unregistered factory name")
	}
}

func TestCompileForLayerRejectsEmptySource(t *testing.T) {
	l := &layer.Layer{ID: "x", Extension: "png"}
	if _, err := CompileForLayer(l); err == nil {
		t.Fatal("expected an error for a layer with no template or factory")
	}
}
