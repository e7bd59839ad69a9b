// Package fetch implements the on-demand single-tile fetch path: check
// the cache, fall back to an HTTP request through the shared download
// manager, and persist the result, grounded on pkg/core/tiles.go's
// FetchMapTile (cache-check -> HTTP -> cache-store) and
// pkg/tools/tile_cache.go's resource-manager wiring, generalized here
// to share internal/download's Manager instead of calling an
// *http.Client directly.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/synmap/tilecache/internal/download"
	"github.com/synmap/tilecache/internal/layer"
	"github.com/synmap/tilecache/internal/pipelineerr"
	"github.com/synmap/tilecache/internal/telemetry"
	"github.com/synmap/tilecache/internal/tilestore"
	"github.com/synmap/tilecache/internal/urltemplate"
)

// Request identifies a single on-demand tile fetch, per spec.md §4.8's
// (tile, url, {cache, overwrite}) contract.
type Request struct {
	Layer string
	Z, X, Y int

	// SkipCache, if true, never persists a freshly fetched tile — the
	// bytes are still returned through the callback. Zero value caches,
	// matching the bulk path's default behavior.
	SkipCache bool

	// Overwrite, if true, persists a freshly fetched tile even when a
	// row for it already exists. Zero value leaves an existing row
	// alone.
	Overwrite bool
}

// Result is the outcome delivered to a caller's callback.
type Result struct {
	Request Request
	Data    []byte
	Cached  bool
	Err     error
}

// Callback receives a completed Result. Fetch invokes it directly: on
// the goroutine calling Fetch for a cache hit, and on the Service's
// dispatcher goroutine for a downloaded tile. It is not posted back
// onto the caller's own goroutine or scheduler.
type Callback func(Result)

// Service dispatches on-demand fetches: a cache hit resolves
// immediately, a miss is enqueued on the shared download.Manager and
// its result is dispatched asynchronously once the manager answers.
type Service struct {
	mgr       *download.Manager
	store     *tilestore.Store
	layers    *layer.Registry
	templates map[string]*urltemplate.Template

	mu      sync.Mutex
	pending map[any]pendingFetch

	dispatchDone chan struct{}
}

// pendingFetch is what the dispatcher needs once a job's result
// arrives: the caller's callback plus the persistence flags from the
// originating Request.
type pendingFetch struct {
	cb        Callback
	skipCache bool
	overwrite bool
}

// New builds a Service sharing an already-started download.Manager and
// launches its result dispatcher.
func New(mgr *download.Manager, store *tilestore.Store, layers *layer.Registry, templates map[string]*urltemplate.Template) *Service {
	s := &Service{
		mgr:          mgr,
		store:        store,
		layers:       layers,
		templates:    templates,
		pending:      make(map[any]pendingFetch),
		dispatchDone: make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// key identifies an in-flight fetch uniquely for the dispatcher's
// pending map.
type key struct {
	Layer   string
	Z, X, Y int
}

// Fetch resolves req, invoking cb exactly once with the outcome. A
// cache hit (including the missing-sentinel) is served from the
// calling goroutine; a miss enqueues a download job and returns
// immediately, invoking cb later from the dispatcher goroutine.
func (s *Service) Fetch(ctx context.Context, req Request, cb Callback) error {
	l := s.layers.Get(req.Layer)
	if l == nil {
		return fmt.Errorf("fetch: unknown layer %q", req.Layer)
	}

	result, data, err := s.store.Get(ctx, req.Layer, req.Z, req.X, req.Y, l.Extension)
	if err != nil {
		return fmt.Errorf("fetch: cache lookup: %w", err)
	}
	switch result {
	case tilestore.ResultHit, tilestore.ResultMissing:
		cb(Result{Request: req, Data: data, Cached: true})
		return nil
	}

	tmpl := s.templates[req.Layer]
	if tmpl == nil {
		return fmt.Errorf("fetch: no URL template compiled for layer %q", req.Layer)
	}

	k := key{req.Layer, req.Z, req.X, req.Y}
	s.mu.Lock()
	s.pending[k] = pendingFetch{cb: cb, skipCache: req.SkipCache, overwrite: req.Overwrite}
	s.mu.Unlock()

	job := download.Job{Key: k, URL: tmpl.URL(req.Z, req.X, req.Y), Layer: req.Layer}
	if err := s.mgr.Enqueue(ctx, job); err != nil {
		s.mu.Lock()
		delete(s.pending, k)
		s.mu.Unlock()
		return fmt.Errorf("fetch: enqueue: %w", err)
	}
	return nil
}

// dispatch drains the download manager's result channel, persists 200
// and 404/302 answers into the tile store (subject to the request's
// SkipCache/Overwrite flags; 403 and failed downloads are not
// persisted), and invokes the waiting callback.
// It runs for the lifetime of the Service.
func (s *Service) dispatch() {
	defer close(s.dispatchDone)
	for res := range s.mgr.Results() {
		k, ok := res.Key.(key)
		if !ok {
			// Not one of ours — e.g. a bulk-download job sharing the
			// manager. Ignore.
			continue
		}

		s.mu.Lock()
		pf, ok := s.pending[k]
		delete(s.pending, k)
		s.mu.Unlock()
		if !ok {
			continue
		}
		cb := pf.cb

		l := s.layers.Get(k.Layer)
		ext := ""
		if l != nil {
			ext = l.Extension
		}

		req := requestFromKey(k, pf)
		switch {
		case res.Status == 200:
			if err := s.persistUnlessPresent(k, ext, res.Data, pf); err != nil {
				cb(Result{Request: req, Err: err})
				continue
			}
			telemetry.RecordCacheMiss("readpath")
			cb(Result{Request: req, Data: res.Data})
		case pipelineerr.IsMissing(res.Status):
			if err := s.persistUnlessPresent(k, ext, nil, pf); err != nil {
				cb(Result{Request: req, Err: err})
				continue
			}
			telemetry.RecordCacheMiss("readpath")
			cb(Result{Request: req})
		case res.Status == 403:
			cb(Result{Request: req, Err: pipelineerr.FromHTTPStatus(pipelineerr.StageDownload, res.Status, "tile fetch banned")})
		default:
			msg := "fetch failed with no response"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			cb(Result{Request: req, Err: pipelineerr.New(pipelineerr.CodeTransient, pipelineerr.StageDownload, msg)})
		}
	}
}

func requestFromKey(k key, pf pendingFetch) Request {
	return Request{Layer: k.Layer, Z: k.Z, X: k.X, Y: k.Y, SkipCache: pf.skipCache, Overwrite: pf.overwrite}
}

// persistUnlessPresent applies the §4.8 {cache, overwrite} contract: a
// SkipCache request never persists; otherwise an existing row is left
// alone unless Overwrite is set.
func (s *Service) persistUnlessPresent(k key, ext string, data []byte, pf pendingFetch) error {
	if pf.skipCache {
		return nil
	}
	if !pf.overwrite {
		if result, _, err := s.store.Get(context.Background(), k.Layer, k.Z, k.X, k.Y, ext); err == nil && result != tilestore.ResultNotPresent {
			return nil
		}
	}
	return s.store.Put(context.Background(), k.Layer, k.Z, k.X, k.Y, ext, data, time.Now().Unix())
}

// Wait blocks until the dispatcher goroutine exits, i.e. until the
// underlying download.Manager's result channel is closed by Shutdown.
func (s *Service) Wait() {
	<-s.dispatchDone
}
