// Package region models a user-defined area of interest as a closed
// lat/lon polygon, handling the international date line, and provides
// the overlap/coverage tests the tessellator needs against a tile's
// mercator-xy rectangle.
package region

import (
	"fmt"
	"math"

	"github.com/synmap/tilecache/internal/geo"
	"github.com/synmap/tilecache/internal/tilemath"
)

// WorldName is the reserved, read-only region covering the entire
// projectable extent of the mercator projection.
const WorldName = "world"

// Vertex is a single lat/lon point of a region boundary.
type Vertex struct {
	Lat float64
	Lon float64
}

// Region is a named closed polygon of at least 3 vertices. A Region
// exclusively owns its polygon; callers must not mutate Vertices in
// place after construction.
type Region struct {
	Name     string
	Vertices []Vertex

	// unwrapped holds the vertices in a date-line-safe reference frame
	// where consecutive longitudes differ by at most 180 degrees; lon may
	// exceed +/-180 here. xy holds the mercator-xy projection of unwrapped.
	unwrapped []Vertex
	xy        [][2]float64
}

// New validates vertices and builds a Region, unwrapping across the
// international date line and projecting to mercator-xy.
func New(name string, vertices []Vertex) (*Region, error) {
	if len(vertices) < 3 {
		return nil, fmt.Errorf("region: %q needs at least 3 vertices, got %d", name, len(vertices))
	}
	for i, v := range vertices {
		if v.Lat < -90 || v.Lat > 90 {
			return nil, fmt.Errorf("region: %q vertex %d has invalid latitude %v", name, i, v.Lat)
		}
		if v.Lon < -180 || v.Lon > 180 {
			return nil, fmt.Errorf("region: %q vertex %d has invalid longitude %v", name, i, v.Lon)
		}
	}

	r := &Region{Name: name, Vertices: append([]Vertex(nil), vertices...)}
	r.unwrapped = unwrapAntimeridian(r.Vertices)
	r.xy = make([][2]float64, len(r.unwrapped))
	for i, v := range r.unwrapped {
		mx, my := tilemath.LLToMercator(v.Lat, v.Lon)
		u, vv := tilemath.MercatorToXY(mx, my)
		r.xy[i] = [2]float64{u, vv}
	}
	return r, nil
}

// World returns the reserved "world" region: a 6-vertex polygon spanning
// the full projectable lat/lon extent. Each edge carries a vertex at lon 0
// so that no two consecutive vertices are more than 180 degrees apart and
// unwrapAntimeridian keeps the full -180..180 span.
func World() *Region {
	r, err := New(WorldName, []Vertex{
		{Lat: tilemath.MaxLatitude, Lon: -180},
		{Lat: tilemath.MaxLatitude, Lon: 0},
		{Lat: tilemath.MaxLatitude, Lon: 180},
		{Lat: -tilemath.MaxLatitude, Lon: 180},
		{Lat: -tilemath.MaxLatitude, Lon: 0},
		{Lat: -tilemath.MaxLatitude, Lon: -180},
	})
	if err != nil {
		// World's vertices are fixed and always valid.
		panic(err)
	}
	return r
}

// unwrapAntimeridian rewrites a vertex sequence into a reference frame
// where consecutive longitudes differ by at most 180 degrees, so a
// polygon crossing the date line does not wrap around the whole globe
// when projected. Longitude in the returned slice may exceed +/-180.
func unwrapAntimeridian(vs []Vertex) []Vertex {
	out := make([]Vertex, len(vs))
	out[0] = vs[0]
	for i := 1; i < len(vs); i++ {
		prev := out[i-1].Lon
		lon := vs[i].Lon
		for lon-prev > 180 {
			lon -= 360
		}
		for lon-prev < -180 {
			lon += 360
		}
		out[i] = Vertex{Lat: vs[i].Lat, Lon: lon}
	}
	return out
}

// BoundingBox returns the lat/lon bounding box of the region, re-split
// back into the standard +/-180 range.
func (r *Region) BoundingBox() *geo.BoundingBox {
	bb := geo.NewBoundingBox()
	for _, v := range r.Vertices {
		bb.Extend(geo.Location{Lat: v.Lat, Lon: v.Lon})
	}
	return bb
}

// rect is an axis-aligned rectangle in mercator-xy unit-square space.
type rect struct {
	u0, v0, u1, v1 float64
}

// TileRect returns the mercator-xy rectangle covered by tile (z,x,y).
func TileRect(z, x, y int) rect {
	n := float64(tilemath.TileCount(z))
	return rect{
		u0: float64(x) / n, v0: float64(y) / n,
		u1: float64(x+1) / n, v1: float64(y+1) / n,
	}
}

// aabbVariants returns the mercator-xy axis-aligned bounding box of the
// region's projected polygon plus its copies shifted by -1 and +1 full
// turns of u, accounting for date-line unwrapping.
func (r *Region) aabbVariants() []rect {
	var box rect
	box.u0, box.v0 = math.Inf(1), math.Inf(1)
	box.u1, box.v1 = math.Inf(-1), math.Inf(-1)
	for _, p := range r.xy {
		if p[0] < box.u0 {
			box.u0 = p[0]
		}
		if p[0] > box.u1 {
			box.u1 = p[0]
		}
		if p[1] < box.v0 {
			box.v0 = p[1]
		}
		if p[1] > box.v1 {
			box.v1 = p[1]
		}
	}
	return []rect{
		box,
		{box.u0 - 1, box.v0, box.u1 - 1, box.v1},
		{box.u0 + 1, box.v0, box.u1 + 1, box.v1},
	}
}

func rectsOverlap(a, b rect) bool {
	return a.u0 < b.u1 && a.u1 > b.u0 && a.v0 < b.v1 && a.v1 > b.v0
}

func rectContains(outer, inner rect) bool {
	return outer.u0 <= inner.u0 && outer.v0 <= inner.v0 && outer.u1 >= inner.u1 && outer.v1 >= inner.v1
}

// Overlaps reports whether tile (z,x,y)'s mercator-xy rectangle
// intersects the region's polygon (or its AABB, as a fast reject,
// followed by an exact ray-casting/edge test).
func (r *Region) Overlaps(z, x, y int) bool {
	tr := TileRect(z, x, y)
	variants := r.aabbVariants()
	for _, shift := range []float64{0, -1, 1} {
		shifted := rect{tr.u0 + shift, tr.v0, tr.u1 + shift, tr.v1}
		hit := false
		for _, v := range variants {
			if rectsOverlap(shifted, v) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		if r.polygonOverlapsRect(shifted) {
			return true
		}
	}
	return false
}

// Covers reports whether tile (z,x,y)'s mercator-xy rectangle is fully
// contained within the region's polygon, permitting the tessellator's
// fast rectangular fill for fully-covered subtrees.
func (r *Region) Covers(z, x, y int) bool {
	tr := TileRect(z, x, y)
	for _, shift := range []float64{0, -1, 1} {
		shifted := rect{tr.u0 + shift, tr.v0, tr.u1 + shift, tr.v1}
		if r.rectFullyCoveredByPolygon(shifted) {
			return true
		}
	}
	return false
}

// polygonOverlapsRect tests whether the polygon (in xy space) intersects
// rectangle rc: true if any polygon vertex lies inside rc, any rectangle
// corner lies inside the polygon, or any polygon edge crosses a
// rectangle edge.
func (r *Region) polygonOverlapsRect(rc rect) bool {
	for _, p := range r.xy {
		if p[0] >= rc.u0 && p[0] <= rc.u1 && p[1] >= rc.v0 && p[1] <= rc.v1 {
			return true
		}
	}
	corners := [][2]float64{
		{rc.u0, rc.v0}, {rc.u1, rc.v0}, {rc.u1, rc.v1}, {rc.u0, rc.v1},
	}
	for _, c := range corners {
		if pointInPolygon(r.xy, c[0], c[1]) {
			return true
		}
	}
	edges := [][2][2]float64{
		{{rc.u0, rc.v0}, {rc.u1, rc.v0}},
		{{rc.u1, rc.v0}, {rc.u1, rc.v1}},
		{{rc.u1, rc.v1}, {rc.u0, rc.v1}},
		{{rc.u0, rc.v1}, {rc.u0, rc.v0}},
	}
	n := len(r.xy)
	for i := 0; i < n; i++ {
		a := r.xy[i]
		b := r.xy[(i+1)%n]
		for _, e := range edges {
			if segmentsIntersect(a[0], a[1], b[0], b[1], e[0][0], e[0][1], e[1][0], e[1][1]) {
				return true
			}
		}
	}
	return false
}

// rectFullyCoveredByPolygon reports whether all four corners of rc lie
// inside the polygon and no polygon edge crosses into the rectangle's
// interior. This is a sufficient (if slightly conservative for
// pathological self-intersecting polygons) test for full coverage.
func (r *Region) rectFullyCoveredByPolygon(rc rect) bool {
	corners := [][2]float64{
		{rc.u0, rc.v0}, {rc.u1, rc.v0}, {rc.u1, rc.v1}, {rc.u0, rc.v1},
	}
	for _, c := range corners {
		if !pointInPolygon(r.xy, c[0], c[1]) {
			return false
		}
	}
	edges := [][2][2]float64{
		{{rc.u0, rc.v0}, {rc.u1, rc.v0}},
		{{rc.u1, rc.v0}, {rc.u1, rc.v1}},
		{{rc.u1, rc.v1}, {rc.u0, rc.v1}},
		{{rc.u0, rc.v1}, {rc.u0, rc.v0}},
	}
	n := len(r.xy)
	for i := 0; i < n; i++ {
		a := r.xy[i]
		b := r.xy[(i+1)%n]
		for _, e := range edges {
			if segmentsIntersect(a[0], a[1], b[0], b[1], e[0][0], e[0][1], e[1][0], e[1][1]) {
				return false
			}
		}
	}
	return true
}

// pointInPolygon implements the standard ray-casting algorithm over a
// polygon given as xy vertices. Points lying exactly on an edge (the
// common case when testing tile-rectangle corners against an
// axis-aligned region, where a ray-casting pass alone gives
// inconsistent results along horizontal edges) are treated as inside.
func pointInPolygon(poly [][2]float64, px, py float64) bool {
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if onSegment(poly[j], poly[i], px, py) {
			return true
		}
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := poly[i][0], poly[i][1]
		xj, yj := poly[j][0], poly[j][1]
		if (yi > py) != (yj > py) {
			slopeX := (xj-xi)*(py-yi)/(yj-yi) + xi
			if px < slopeX {
				inside = !inside
			}
		}
	}
	return inside
}

// onSegment reports whether point (px,py) lies on the closed segment
// a-b, within a small epsilon.
func onSegment(a, b [2]float64, px, py float64) bool {
	const eps = 1e-9
	cross := (b[0]-a[0])*(py-a[1]) - (b[1]-a[1])*(px-a[0])
	if math.Abs(cross) > eps {
		return false
	}
	if px < math.Min(a[0], b[0])-eps || px > math.Max(a[0], b[0])+eps {
		return false
	}
	if py < math.Min(a[1], b[1])-eps || py > math.Max(a[1], b[1])+eps {
		return false
	}
	return true
}

// segmentsIntersect reports whether segment (x1,y1)-(x2,y2) crosses
// segment (x3,y3)-(x4,y4).
func segmentsIntersect(x1, y1, x2, y2, x3, y3, x4, y4 float64) bool {
	d1 := cross(x4-x3, y4-y3, x1-x3, y1-y3)
	d2 := cross(x4-x3, y4-y3, x2-x3, y2-y3)
	d3 := cross(x2-x1, y2-y1, x3-x1, y3-y1)
	d4 := cross(x2-x1, y2-y1, x4-x1, y4-y1)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func cross(ax, ay, bx, by float64) float64 {
	return ax*by - ay*bx
}

// AreaFraction returns the fraction (0..1) of the unit square [0,1]^2
// covered by the polygon's mercator-xy projection, used by the
// tessellator's size estimate. It computes the polygon's shoelace area
// directly and clips it to at most 1.
func (r *Region) AreaFraction() float64 {
	var sum float64
	n := len(r.xy)
	for i := 0; i < n; i++ {
		a := r.xy[i]
		b := r.xy[(i+1)%n]
		sum += a[0]*b[1] - b[0]*a[1]
	}
	area := math.Abs(sum) / 2
	if area > 1 {
		area = 1
	}
	return area
}
