// Package tessellate enumerates the web-map tiles covering a region, up
// to a maximum zoom, respecting the polar scale-extent compensation
// computed by internal/tilemath. It is grounded on the recursive
// quadtree descent in original_source/mapcache/maptile.py's tile/
// fill_in functions, reworked into a channel-based Go generator.
package tessellate

import (
	"context"
	"math"

	"github.com/synmap/tilecache/internal/region"
	"github.com/synmap/tilecache/internal/tilemath"
)

// Tile is a single (z,x,y) coordinate emitted by the tessellator.
type Tile struct {
	Z, X, Y int
}

// DefaultPolarOffset is the default scale-bracket offset from spec.md
// §4.1 (2^(i+offset) distortion thresholds).
const DefaultPolarOffset = 1.0

// Tiles lazily enumerates the tiles covering region r up to maxZoom,
// starting the recursive descent at (0,0,0). The returned channel is
// closed when enumeration completes or ctx is cancelled; callers must
// drain it (or cancel ctx) to avoid leaking the producer goroutine.
func Tiles(ctx context.Context, r *region.Region, maxZoom int, polarOffset float64) <-chan Tile {
	out := make(chan Tile)
	go func() {
		defer close(out)
		walk(ctx, out, r, 0, 0, 0, maxZoom, polarOffset)
	}()
	return out
}

// walk implements step 1-4 of the tessellator algorithm: prune by scale
// extent, prune by polygon overlap, emit, then either fast-fill a fully
// covered subtree or recurse into the four children.
func walk(ctx context.Context, out chan<- Tile, r *region.Region, z, x, y, maxZoom int, polarOffset float64) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	if !tilemath.RowInScaleExtent(y, z, maxZoom, polarOffset) {
		return
	}
	if !r.Overlaps(z, x, y) {
		return
	}

	if !emit(ctx, out, Tile{Z: z, X: x, Y: y}) {
		return
	}

	if z >= maxZoom {
		return
	}

	if r.Covers(z, x, y) {
		fillIn(ctx, out, r, z, x, y, maxZoom, polarOffset)
		return
	}

	for _, c := range quadChildren(x, y) {
		walk(ctx, out, r, z+1, c[0], c[1], maxZoom, polarOffset)
	}
}

// fillIn enumerates all descendants of a fully-covered tile (z,x,y) up
// to maxZoom via direct rectangular arithmetic instead of per-tile
// overlap tests, bounded per row by the scale extent.
func fillIn(ctx context.Context, out chan<- Tile, r *region.Region, rootZ, rootX, rootY, maxZoom int, polarOffset float64) {
	for z := rootZ + 1; z <= maxZoom; z++ {
		zdiff := uint(z - rootZ)
		xmin := rootX << zdiff
		xmax := (rootX + 1) << zdiff
		ymin := rootY << zdiff
		ymax := (rootY + 1) << zdiff

		extMin := tilemath.MinYForZoom(z, maxZoom, polarOffset)
		extMax := tilemath.MaxYForZoom(z, maxZoom, polarOffset)
		if ymin < extMin {
			ymin = extMin
		}
		if ymax > extMax+1 {
			ymax = extMax + 1
		}
		if ymin >= ymax {
			break
		}

		for ty := ymin; ty < ymax; ty++ {
			for tx := xmin; tx < xmax; tx++ {
				if !emit(ctx, out, Tile{Z: z, X: tx, Y: ty}) {
					return
				}
			}
		}
	}
}

func quadChildren(x, y int) [4][2]int {
	return [4][2]int{
		{2 * x, 2 * y}, {2*x + 1, 2 * y},
		{2 * x, 2*y + 1}, {2*x + 1, 2*y + 1},
	}
}

// emit sends t on out, returning false if ctx was cancelled first.
func emit(ctx context.Context, out chan<- Tile, t Tile) bool {
	select {
	case out <- t:
		return true
	case <-ctx.Done():
		return false
	}
}

// SizeEstimate approximates the number of tiles Tiles will emit, for
// monitor progress reporting before enumeration completes: per-level
// clipped area times 4^z, summed, inflated by a fudge factor inversely
// proportional to sqrt(total), and capped at floor(4/3 * 4^maxZoom).
func SizeEstimate(r *region.Region, maxZoom int, polarOffset float64) int {
	baseArea := r.AreaFraction()

	var total float64
	for z := 0; z <= maxZoom; z++ {
		level := maxZoom - z
		areaAtLevel := baseArea
		if level >= 0 {
			yLimit := tilemath.ScaleBracketY(level, polarOffset)
			if yLimit < math.Pi {
				_, vmin := tilemath.MercatorToXY(0, yLimit)
				if vmin < 0 {
					vmin = 0
				}
				// Clip the region's area fraction to the scale-compensated
				// vertical band [vmin, 1-vmin]; approximate by scaling
				// linearly with the surviving band height, since we don't
				// retain the polygon's per-row area distribution.
				bandHeight := 1 - 2*vmin
				if bandHeight < 0 {
					bandHeight = 0
				}
				if bandHeight < 1 {
					areaAtLevel = baseArea * bandHeight
				}
			}
		}
		tilesAtZ := areaAtLevel * math.Exp2(float64(2*z))
		total += math.Ceil(tilesAtZ)
	}

	fudge := math.Min(5/math.Sqrt(math.Max(total, 1)), 0.75)
	fudgedTotal := math.Ceil(total * (1 + fudge))

	maxPossible := math.Floor(4.0 / 3.0 * math.Exp2(float64(2*maxZoom)))
	if fudgedTotal > maxPossible {
		fudgedTotal = maxPossible
	}
	return int(fudgedTotal)
}
