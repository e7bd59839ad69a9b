// Package readpath implements the tile-serving read side: given
// (layer,z,x,y), return cached bytes, or fall back to cropping and
// resampling an ancestor tile's cached image, per spec.md §4.9.
// Grounded on original_source/nav/texture.py's get_texture_image /
// get_zoom_tile / get_fallback_tile (crop via 2**zdiff, PIL BICUBIC
// resize, ImageEnhance.Brightness(.9**zdiff) decay per fallback level)
// and original_source/birdseye.py's analogous parent-tile fallback,
// reworked onto image/draw.Draw + golang.org/x/image/draw's
// CatmullRom scaler (the teacher's own x/image dependency, unused for
// tiles until now) instead of PIL.
package readpath

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	xdraw "golang.org/x/image/draw"

	"github.com/synmap/tilecache/internal/layer"
	"github.com/synmap/tilecache/internal/telemetry"
	"github.com/synmap/tilecache/internal/tilestore"
)

// decodePNG is the default decoder: layers whose tile bytes are not
// PNG should supply their own via WithDecoder.
func decodePNG(data []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(data))
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("readpath: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// TileSize is the native pixel width/height of every tile this service
// serves, matching the layer templates' rendered output.
const TileSize = 256

// DefaultLookback is the default number of ancestor zoom levels walked
// before giving up and returning the missing sentinel, matching
// original_source/nav/texture.py's fallback=2.
const DefaultLookback = 2

// decayPerLevel is the brightness multiplier applied per fallback
// level, matching original_source/nav/texture.py's enhance(.9**zdiff).
const decayPerLevel = 0.9

// Reader serves decoded tile images with ancestor fallback, backed by
// an LRU of recently-decoded tiles to absorb repeated proxy reads of a
// hot tile without re-hitting the blob store.
type Reader struct {
	store    *tilestore.Store
	layers   *layer.Registry
	lookback int
	decode   func([]byte) (image.Image, error)

	cache *lru.Cache[cacheKey, image.Image]
}

type cacheKey struct {
	Layer   string
	Z, X, Y int
}

// Option configures a Reader.
type Option func(*Reader)

// WithLookback overrides the default ancestor lookback depth K.
func WithLookback(k int) Option {
	return func(r *Reader) { r.lookback = k }
}

// WithDecoder overrides the image decode function (defaults to PNG).
func WithDecoder(decode func([]byte) (image.Image, error)) Option {
	return func(r *Reader) { r.decode = decode }
}

// New builds a Reader over store, decoding images as layers require
// and caching up to cacheSize decoded tiles.
func New(store *tilestore.Store, layers *layer.Registry, cacheSize int, opts ...Option) (*Reader, error) {
	c, err := lru.New[cacheKey, image.Image](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("readpath: build LRU: %w", err)
	}
	r := &Reader{
		store:    store,
		layers:   layers,
		lookback: DefaultLookback,
		decode:   decodePNG,
		cache:    c,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Get returns the rendered bytes for (layer,z,x,y): an exact cache hit
// if present, otherwise an ancestor crop-and-resample up to the
// configured lookback, otherwise an opaque missing-sentinel image of
// TileSize x TileSize.
func (r *Reader) Get(ctx context.Context, layerID string, z, x, y int) ([]byte, error) {
	l := r.layers.Get(layerID)
	if l == nil {
		return nil, fmt.Errorf("readpath: unknown layer %q", layerID)
	}

	if img, ok := r.exact(ctx, l, z, x, y); ok {
		telemetry.RecordCacheHit("readpath")
		return encodePNG(img)
	}

	for zdiff := 1; zdiff <= r.lookback; zdiff++ {
		az, ax, ay := z-zdiff, x>>uint(zdiff), y>>uint(zdiff)
		if az < 0 {
			break
		}
		ancestor, ok := r.exact(ctx, l, az, ax, ay)
		if !ok {
			continue
		}
		cropped := cropAndResample(ancestor, x, y, zdiff)
		decayed := decayBrightness(cropped, math.Pow(decayPerLevel, float64(zdiff)))
		telemetry.RecordCacheMiss("readpath")
		return encodePNG(decayed)
	}

	telemetry.RecordCacheMiss("readpath")
	return encodePNG(missingSentinel())
}

// exact returns the decoded image for (layer,z,x,y) if the tile store
// holds real (non-sentinel) data for it, consulting the decode cache
// first.
func (r *Reader) exact(ctx context.Context, l *layer.Layer, z, x, y int) (image.Image, bool) {
	k := cacheKey{l.ID, z, x, y}
	if img, ok := r.cache.Get(k); ok {
		return img, true
	}

	result, data, err := r.store.Get(ctx, l.ID, z, x, y, l.Extension)
	if err != nil || result != tilestore.ResultHit {
		return nil, false
	}
	img, err := r.decode(data)
	if err != nil {
		return nil, false
	}
	r.cache.Add(k, img)
	return img, true
}

// cropAndResample extracts the sub-rectangle of ancestor covering
// tile (x,y) at zdiff levels below it, and resamples it up to
// TileSize x TileSize via a Catmull-Rom scaler (the Go analogue of
// PIL's BICUBIC used in original_source/nav/texture.py).
func cropAndResample(ancestor image.Image, x, y, zdiff int) image.Image {
	scale := 1 << uint(zdiff)
	sub := ancestor.Bounds().Dx() / scale

	subX := (x % scale) * sub
	subY := (y % scale) * sub

	cropRect := image.Rect(subX, subY, subX+sub, subY+sub).Add(ancestor.Bounds().Min)
	cropped := image.NewRGBA(image.Rect(0, 0, sub, sub))
	draw.Draw(cropped, cropped.Bounds(), ancestor, cropRect.Min, draw.Src)

	out := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	xdraw.CatmullRom.Scale(out, out.Bounds(), cropped, cropped.Bounds(), xdraw.Over, nil)
	return out
}

// decayBrightness scales every pixel's RGB channels by factor,
// matching ImageEnhance.Brightness(tile).enhance(factor).
func decayBrightness(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for py := b.Min.Y; py < b.Max.Y; py++ {
		for px := b.Min.X; px < b.Max.X; px++ {
			r, g, bl, a := img.At(px, py).RGBA()
			out.SetRGBA(px, py, color.RGBA{
				R: scaleChannel(r, factor),
				G: scaleChannel(g, factor),
				B: scaleChannel(bl, factor),
				A: uint8(a >> 8),
			})
		}
	}
	return out
}

func scaleChannel(c uint32, factor float64) uint8 {
	v := float64(c>>8) * factor
	if v > 255 {
		v = 255
	}
	if v < 0 {
		v = 0
	}
	return uint8(v)
}

// missingSentinel returns an opaque flat-gray image marking a tile
// with no data anywhere in the cache, up to the configured lookback.
func missingSentinel() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}), image.Point{}, draw.Src)
	return img
}
