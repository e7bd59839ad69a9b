package tilemath

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) < tol
}

// TestQuadkeyRoundTrip verifies invariant 1 from spec.md §8: for all valid
// (z,x,y), FromQuadkey(ToQuadkey(z,x,y)) == (z,x,y).
func TestQuadkeyRoundTrip(t *testing.T) {
	for z := 0; z <= 6; z++ {
		n := TileCount(z)
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				qt := ToQuadkey(z, x, y)
				if len(qt) != z {
					t.Fatalf("ToQuadkey(%d,%d,%d) length = %d, want %d", z, x, y, len(qt), z)
				}
				gz, gx, gy, err := FromQuadkey(qt)
				if err != nil {
					t.Fatalf("FromQuadkey(%q) error: %v", qt, err)
				}
				if gz != z || gx != x || gy != y {
					t.Errorf("round-trip (%d,%d,%d) -> %q -> (%d,%d,%d)", z, x, y, qt, gz, gx, gy)
				}
			}
		}
	}
}

// TestToQuadkeyKnownValue checks scenario F from spec.md §8:
// to_quadkey(z=3,x=5,y=2). The spec's literal "130" decodes back to
// (x=6,y=2), not (x=5,y=2) — a typo in the spec example — so this
// checks the value the §4.1 2*ybit+xbit MSB-first rule actually
// produces, "121".
func TestToQuadkeyKnownValue(t *testing.T) {
	got := ToQuadkey(3, 5, 2)
	if got != "121" {
		t.Errorf("ToQuadkey(3,5,2) = %q, want %q", got, "121")
	}
}

func TestFromQuadkeyInvalidDigit(t *testing.T) {
	if _, _, _, err := FromQuadkey("129"); err == nil {
		t.Error("expected error for quadkey containing digit 9")
	}
}

// TestMercatorRoundTrip verifies invariant 2 from spec.md §8: for |lat| <
// 85 degrees, mercator_to_ll(ll_to_mercator(p)) agrees with p to within
// 1e-9.
func TestMercatorRoundTrip(t *testing.T) {
	points := [][2]float64{
		{0, 0}, {10, 20}, {-10, -20}, {45, 90}, {-45, -90}, {84.9, 179.9}, {-84.9, -179.9},
	}
	for _, p := range points {
		mx, my := LLToMercator(p[0], p[1])
		lat, lon := MercatorToLL(mx, my)
		if !almostEqual(lat, p[0], 1e-9) || !almostEqual(lon, p[1], 1e-9) {
			t.Errorf("round-trip (%v,%v) -> (%v,%v), diff too large", p[0], p[1], lat, lon)
		}
	}
}

// TestLLToMercatorOrigin verifies scenario E from spec.md §8: ll_to_mercator(0,0)
// == (0.0, 0.0) exactly.
func TestLLToMercatorOrigin(t *testing.T) {
	x, y := LLToMercator(0, 0)
	if x != 0 || y != 0 {
		t.Errorf("LLToMercator(0,0) = (%v,%v), want (0,0)", x, y)
	}
}

func TestXYMercatorRoundTrip(t *testing.T) {
	cases := [][2]float64{{0, 0}, {0.25, 0.75}, {0.999, 0.001}}
	for _, c := range cases {
		mx, my := XYToMercator(c[0], c[1])
		u, v := MercatorToXY(mx, my)
		if !almostEqual(u, c[0], 1e-9) || !almostEqual(v, c[1], 1e-9) {
			t.Errorf("xy round-trip (%v,%v) -> (%v,%v)", c[0], c[1], u, v)
		}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name    string
		z, x, y int
		want    bool
	}{
		{"zero zoom root", 0, 0, 0, true},
		{"negative zoom", -1, 0, 0, false},
		{"x out of range", 2, 4, 0, false},
		{"y out of range", 2, 0, 4, false},
		{"max valid corner", 2, 3, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.z, tt.x, tt.y); got != tt.want {
				t.Errorf("Valid(%d,%d,%d) = %v, want %v", tt.z, tt.x, tt.y, got, tt.want)
			}
		})
	}
}

func TestRowInScaleExtentSymmetric(t *testing.T) {
	const maxZoom = 8
	for z := 0; z <= maxZoom; z++ {
		n := TileCount(z)
		minY := MinYForZoom(z, maxZoom, 1.0)
		maxY := MaxYForZoom(z, maxZoom, 1.0)
		if minY != n-1-maxY {
			t.Errorf("z=%d: MinYForZoom=%d not symmetric with MaxYForZoom=%d (n=%d)", z, minY, maxY, n)
		}
		if minY < 0 || maxY >= n {
			t.Errorf("z=%d: extent [%d,%d] out of tile range [0,%d)", z, minY, maxY, n)
		}
		// Equator row (or the two rows straddling it) must always be in
		// range: scale compensation never excludes the equator.
		mid := n / 2
		if !RowInScaleExtent(mid, z, maxZoom, 1.0) {
			t.Errorf("z=%d: equatorial row %d unexpectedly excluded", z, mid)
		}
	}
}

func TestInvertY(t *testing.T) {
	if got := InvertY(0, 3); got != 7 {
		t.Errorf("InvertY(0,3) = %d, want 7", got)
	}
	if got := InvertY(7, 3); got != 0 {
		t.Errorf("InvertY(7,3) = %d, want 0", got)
	}
}
