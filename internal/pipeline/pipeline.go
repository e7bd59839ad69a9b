// Package pipeline orchestrates the three download stages — enumerate,
// cull, download — each exposing a monitorable (processed, total,
// errors) snapshot, grounded on pkg/monitoring/health.go's
// ticker-driven status-snapshot pattern (generalized from system
// health metrics to per-stage tile counts) and
// original_source/mapcache/mapdownload.py's TileEnumerator/TileCuller/
// TileDownloader thread triad. Enumerator.Run and Culler.Run run on the
// caller's goroutine; Downloader.Run runs its producer and consumer as
// goroutines supervised by golang.org/x/sync/errgroup.
package pipeline

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/synmap/tilecache/internal/dbsqlite"
	"github.com/synmap/tilecache/internal/download"
	"github.com/synmap/tilecache/internal/layer"
	"github.com/synmap/tilecache/internal/pipelineerr"
	"github.com/synmap/tilecache/internal/region"
	"github.com/synmap/tilecache/internal/telemetry"
	"github.com/synmap/tilecache/internal/tessellate"
	"github.com/synmap/tilecache/internal/tilestore"
	"github.com/synmap/tilecache/internal/tracing"
	"github.com/synmap/tilecache/internal/urltemplate"
)

// Snapshot reports a stage's progress, matching the (processed, total,
// errors) contract spec.md §4.7 requires of every stage.
type Snapshot struct {
	Processed int
	Total     int
	Errors    int
	LastError string
}

// Tile identifies a single (layer,z,x,y) unit of work flowing through
// the pipeline.
type Tile struct {
	Layer string
	Z, X, Y int
}

// Monitor holds a stage's live snapshot behind a mutex, updated by the
// stage's own goroutine and read concurrently by a reporting ticker —
// the same shape as pkg/monitoring/health.go's ConnectionMonitor.
type Monitor struct {
	mu   sync.Mutex
	snap Snapshot
	name string
}

func newMonitor(name string, total int) *Monitor {
	return &Monitor{name: name, snap: Snapshot{Total: total}}
}

// Status returns the current snapshot.
func (m *Monitor) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *Monitor) addProcessed(n int) {
	m.mu.Lock()
	m.snap.Processed += n
	m.mu.Unlock()
	telemetry.RecordStageProgress(m.name, n, 0)
}

func (m *Monitor) addError(msg string) {
	m.mu.Lock()
	m.snap.Errors++
	m.snap.LastError = msg
	m.mu.Unlock()
	telemetry.RecordStageProgress(m.name, 0, 1)
}

func (m *Monitor) setTotal(total int) {
	m.mu.Lock()
	m.snap.Total = total
	m.mu.Unlock()
	telemetry.SetStageTotal(m.name, total)
}

// Enumerator runs the tessellator for every configured layer and
// collects the resulting (layer,z,x,y) set, per spec.md §4.7 step 1.
type Enumerator struct {
	Monitor *Monitor
	tiles   map[Tile]bool
	mu      sync.Mutex
}

// NewEnumerator builds an Enumerator with a size-estimate total seeded
// from the tessellator's estimate across all layers.
func NewEnumerator(r *region.Region, layers []*layer.Layer) *Enumerator {
	estimate := 0
	for _, l := range layers {
		estimate += tessellate.SizeEstimate(r, l.MaxZoom, tessellate.DefaultPolarOffset)
	}
	return &Enumerator{
		Monitor: newMonitor("enumerate", estimate),
		tiles:   make(map[Tile]bool),
	}
}

// Run tessellates each layer at its configured max zoom and min-depth
// floor, merging results into a single tile set. It returns the final
// set once done; the caller typically runs this in its own goroutine
// and polls Monitor.Status() concurrently.
func (e *Enumerator) Run(ctx context.Context, r *region.Region, layers []*layer.Layer) (map[Tile]bool, error) {
	for _, l := range layers {
		layerCtx, span := tracing.StartSpan(ctx, "enumerate.tessellate")
		tracing.SetAttributes(layerCtx,
			attribute.String(tracing.AttrLayer, l.ID),
			attribute.Int(tracing.AttrZoom, l.MaxZoom),
		)

		for t := range tessellate.Tiles(layerCtx, r, l.MaxZoom, tessellate.DefaultPolarOffset) {
			if t.Z < l.MinDepth {
				continue
			}
			key := Tile{Layer: l.ID, Z: t.Z, X: t.X, Y: t.Y}
			e.mu.Lock()
			e.tiles[key] = true
			e.mu.Unlock()
			e.Monitor.addProcessed(1)
		}
		tracing.SetStatus(layerCtx, codes.Ok, "")
		span.End()

		select {
		case <-ctx.Done():
			return e.tiles, ctx.Err()
		default:
		}
	}
	e.Monitor.setTotal(len(e.tiles))
	return e.tiles, nil
}

// Culler queries the metadata store to determine which enumerated
// tiles already satisfy their layer's refresh policy, per spec.md §4.7
// step 2.
type Culler struct {
	Monitor *Monitor
	db      *dbsqlite.DB
}

// NewCuller builds a Culler for the given enumerated tile count.
func NewCuller(db *dbsqlite.DB, total int) *Culler {
	return &Culler{Monitor: newMonitor("cull", total), db: db}
}

const cullChunkSize = 100

// Run partitions tiles by layer, chunks each partition, and queries
// existing rows per the layer's refresh policy, returning the reduced
// set that still needs fetching.
func (c *Culler) Run(ctx context.Context, tiles map[Tile]bool, layers *layer.Registry, now time.Time) (map[Tile]bool, error) {
	byLayer := make(map[string][]Tile)
	for t := range tiles {
		byLayer[t.Layer] = append(byLayer[t.Layer], t)
	}

	toFetch := make(map[Tile]bool, len(tiles))
	for layerID, ts := range byLayer {
		l := layers.Get(layerID)
		if l == nil {
			continue
		}
		if l.Refresh == layer.RefreshAlways {
			for _, t := range ts {
				toFetch[t] = true
			}
			c.Monitor.addProcessed(len(ts))
			continue
		}

		var cutoff, cutoffMissing *int64
		if l.Refresh == layer.RefreshDays {
			cutoffUnix := now.AddDate(0, 0, -l.RefreshDaysN).Unix()
			cutoff = &cutoffUnix
			cutoffMissing = &cutoffUnix
		}

		for i := 0; i < len(ts); i += cullChunkSize {
			end := i + cullChunkSize
			if end > len(ts) {
				end = len(ts)
			}
			chunk := ts[i:end]
			tuples := make([][3]int, len(chunk))
			for j, t := range chunk {
				tuples[j] = [3]int{t.Z, t.X, t.Y}
			}

			queryCtx, span := tracing.StartSpan(ctx, "cull.existing_tiles")
			tracing.SetAttributes(queryCtx,
				attribute.String(tracing.AttrLayer, layerID),
				attribute.Int("cull.chunk_size", len(chunk)),
			)

			existing, err := c.db.ExistingTiles(queryCtx, dbsqlite.ExistingQuery{
				Layer:                layerID,
				Tuples:               tuples,
				NullDigest:           tilestore.NullDigest,
				RefreshCutoffUnix:    cutoff,
				RefreshCutoffMissing: cutoffMissing,
			})
			if err != nil {
				tracing.RecordError(queryCtx, err)
				tracing.SetStatus(queryCtx, codes.Error, err.Error())
				span.End()
				c.Monitor.addError(err.Error())
				return nil, err
			}
			tracing.SetStatus(queryCtx, codes.Ok, "")
			span.End()

			for _, t := range chunk {
				if !existing[[3]int{t.Z, t.X, t.Y}] {
					toFetch[t] = true
				}
			}
			c.Monitor.addProcessed(len(chunk))
		}
	}
	return toFetch, nil
}

// Downloader feeds culled tiles into the download manager in
// random-walk order and persists results via the tile store, per
// spec.md §4.7 step 3.
type Downloader struct {
	Monitor *Monitor
	mgr     *download.Manager
	store   *tilestore.Store
}

// NewDownloader builds a Downloader wrapping an already-started
// download.Manager.
func NewDownloader(mgr *download.Manager, store *tilestore.Store, total int) *Downloader {
	return &Downloader{Monitor: newMonitor("download", total), mgr: mgr, store: store}
}

// Run enqueues tiles (grouped by zoom, random-walk ordered within each
// zoom) and drains results, persisting each into the tile store.
// clockUnix supplies the fetched_on timestamp (injected so callers can
// keep this deterministic in tests).
func (d *Downloader) Run(ctx context.Context, tiles map[Tile]bool, layers *layer.Registry, templates map[string]*urltemplate.Template, clockUnix func() int64) error {
	g, gctx := errgroup.WithContext(ctx)

	ordered := RandomWalk(tiles)

	g.Go(func() error {
		for _, t := range ordered {
			tmpl := templates[t.Layer]
			if tmpl == nil {
				continue
			}
			job := download.Job{
				Key:   t,
				URL:   tmpl.URL(t.Z, t.X, t.Y),
				Layer: t.Layer,
			}
			if err := d.mgr.Enqueue(gctx, job); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		remaining := len(ordered)
		for remaining > 0 {
			select {
			case res, ok := <-d.mgr.Results():
				if !ok {
					return nil
				}
				remaining--
				t := res.Key.(Tile)
				l := layers.Get(t.Layer)
				ext := ""
				if l != nil {
					ext = l.Extension
				}
				if err := d.persist(gctx, t, ext, res, clockUnix()); err != nil {
					d.Monitor.addError(err.Error())
				}
				d.Monitor.addProcessed(1)
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

// persist classifies a download outcome per spec.md §7 before touching
// the store: a 200 writes the tile body, 404/302 write the null-digest
// "known missing" sentinel, and a 403 or any other outcome (an IO
// failure with status 0, or a retryable status such as 500 still
// returned after the last retry) is reported as an error and never
// persisted.
func (d *Downloader) persist(ctx context.Context, t Tile, ext string, res download.Result, fetchedOn int64) error {
	switch {
	case res.Status == 200:
		return d.store.Put(ctx, t.Layer, t.Z, t.X, t.Y, ext, res.Data, fetchedOn)
	case pipelineerr.IsMissing(res.Status):
		return d.store.Put(ctx, t.Layer, t.Z, t.X, t.Y, ext, nil, fetchedOn)
	case res.Status == 403:
		return pipelineerr.FromHTTPStatus(pipelineerr.StagePersist, res.Status, "tile download banned")
	default:
		msg := "download failed with no response"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		return pipelineerr.New(pipelineerr.CodeTransient, pipelineerr.StagePersist, msg).
			WithGuidance("retries exhausted; tile skipped")
	}
}

// RandomWalk orders tiles grouped by zoom (ascending), then within
// each zoom visits tiles via the random-walk heuristic from
// original_source/mapcache/mapdownload.py's random_walk/
// random_walk_level: pick a random start, repeatedly jump to the
// nearest (Manhattan) unvisited tile, and download a shuffled
// window around it. This avoids the raster-scan footprint that tends
// to trigger server-side banning while keeping enough locality for
// HTTP keep-alive to help.
func RandomWalk(tiles map[Tile]bool) []Tile {
	byZoom := make(map[int][]Tile)
	zooms := []int{}
	for t := range tiles {
		if _, ok := byZoom[t.Z]; !ok {
			zooms = append(zooms, t.Z)
		}
		byZoom[t.Z] = append(byZoom[t.Z], t)
	}
	sortInts(zooms)

	var out []Tile
	for _, z := range zooms {
		out = append(out, randomWalkLevel(byZoom[z])...)
	}
	return out
}

const windowSize = 10

func randomWalkLevel(level []Tile) []Tile {
	remaining := make(map[Tile]bool, len(level))
	for _, t := range level {
		remaining[t] = true
	}

	out := make([]Tile, 0, len(level))
	var target *Tile

	for len(remaining) > 0 {
		if target == nil {
			target = randElem(remaining)
		} else {
			target = closestUnvisited(*target, remaining)
		}

		xmin := target.X - windowSize/2
		ymin := target.Y - windowSize/2
		xmax := xmin + windowSize - 1
		ymax := ymin + windowSize - 1

		var swatch []Tile
		for t := range remaining {
			if t.X >= xmin && t.X <= xmax && t.Y >= ymin && t.Y <= ymax {
				swatch = append(swatch, t)
			}
		}
		for _, t := range swatch {
			delete(remaining, t)
		}
		shuffle(swatch)
		out = append(out, swatch...)
	}
	return out
}

func closestUnvisited(from Tile, remaining map[Tile]bool) *Tile {
	best := -1
	var bestTile Tile
	for t := range remaining {
		d := manhattan(from, t)
		if best == -1 || d < best {
			best = d
			bestTile = t
		}
	}
	return &bestTile
}

func manhattan(a, b Tile) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func randElem(s map[Tile]bool) *Tile {
	idx := rand.Intn(len(s))
	i := 0
	for t := range s {
		if i == idx {
			tc := t
			return &tc
		}
		i++
	}
	return nil
}

func shuffle(s []Tile) {
	rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
