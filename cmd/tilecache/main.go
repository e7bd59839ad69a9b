// Command tilecache is the single entry point for the offline map-tile
// caching pipeline: given a download spec (file or stdin), it
// validates it, runs the enumerate/cull/download/persist pipeline
// against the configured region and layers, and exits. Grounded on
// cmd/osmmcp/main.go's flag-parsing/slog/signal-handling/Prometheus-
// /metrics shape, stripped of the MCP server/transport/registration
// concerns that have no analogue in this spec.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synmap/tilecache/internal/dbsqlite"
	"github.com/synmap/tilecache/internal/download"
	"github.com/synmap/tilecache/internal/layer"
	"github.com/synmap/tilecache/internal/logging"
	"github.com/synmap/tilecache/internal/pipeline"
	"github.com/synmap/tilecache/internal/region"
	"github.com/synmap/tilecache/internal/specfile"
	"github.com/synmap/tilecache/internal/tilestore"
	"github.com/synmap/tilecache/internal/tracing"
	"github.com/synmap/tilecache/internal/urltemplate"
)

const version = "0.1.0"

func main() {
	var (
		specPath    string
		debug       bool
		cacheDir    string
		dbPath      string
		metricsAddr string
		workers     int
	)

	flag.StringVar(&specPath, "spec", "", "path to a download spec YAML file (reads stdin if empty)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.StringVar(&cacheDir, "cache-dir", "./tilecache-data", "root directory for the content-addressed blob store")
	flag.StringVar(&dbPath, "db", "./tilecache.db", "path to the sqlite metadata database")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this address")
	flag.IntVar(&workers, "workers", 8, "number of concurrent download workers")
	flag.Parse()

	logger := logging.Init(debug)

	shutdownTracing := tracing.Init(version)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("error shutting down tracing", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("starting metrics server", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := run(ctx, logger, runConfig{
		specPath: specPath,
		cacheDir: cacheDir,
		dbPath:   dbPath,
		workers:  workers,
	}); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

type runConfig struct {
	specPath string
	cacheDir string
	dbPath   string
	workers  int
}

func run(ctx context.Context, logger *slog.Logger, cfg runConfig) error {
	data, err := readSpec(cfg.specPath)
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}

	spec, err := specfile.Parse(data)
	if err != nil {
		return fmt.Errorf("invalid spec: %w", err)
	}
	logger.Info("loaded spec", "name", spec.Name, "layers", len(spec.Layers))

	db, err := dbsqlite.Open(ctx, cfg.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := upsertRegion(ctx, db, spec); err != nil {
		return err
	}

	store := tilestore.New(cfg.cacheDir, db)

	registry, err := layer.NewRegistry(spec.Layers)
	if err != nil {
		return fmt.Errorf("build layer registry: %w", err)
	}

	templates := make(map[string]*urltemplate.Template, len(spec.Layers))
	for _, l := range spec.Layers {
		tmpl, err := urltemplate.CompileForLayer(l)
		if err != nil {
			return fmt.Errorf("compile template for layer %q: %w", l.ID, err)
		}
		templates[l.ID] = tmpl
	}

	stageLog := logging.Stage(logger, "enumerate")
	enumerator := pipeline.NewEnumerator(spec.Region, spec.Layers)
	tiles, err := enumerator.Run(ctx, spec.Region, spec.Layers)
	if err != nil {
		return fmt.Errorf("enumerate: %w", err)
	}
	stageLog.Info("enumerate complete", "tiles", len(tiles))

	culler := pipeline.NewCuller(db, len(tiles))
	toFetch, err := culler.Run(ctx, tiles, registry, time.Now())
	if err != nil {
		return fmt.Errorf("cull: %w", err)
	}
	logging.Stage(logger, "cull").Info("cull complete", "to_fetch", len(toFetch), "skipped", len(tiles)-len(toFetch))

	mgr := download.New(cfg.workers, cfg.workers*4, download.WithLogger(logging.Stage(logger, "download")))
	mgr.Start(ctx)

	downloader := pipeline.NewDownloader(mgr, store, len(toFetch))
	err = downloader.Run(ctx, toFetch, registry, templates, func() int64 { return time.Now().Unix() })
	mgr.Shutdown()
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	status := downloader.Monitor.Status()
	logging.Stage(logger, "persist").Info("download complete",
		"processed", status.Processed, "total", status.Total, "errors", status.Errors)

	return nil
}

// upsertRegion persists spec.Region under spec.Name, enforcing §3/§7:
// "world" is reserved and read-only, and a region name already on
// file may only be replaced when the spec sets update: true.
func upsertRegion(ctx context.Context, db *dbsqlite.DB, spec *specfile.Spec) error {
	if strings.EqualFold(spec.Name, region.WorldName) {
		return fmt.Errorf("persist region: %q is reserved and read-only", spec.Name)
	}

	_, err := db.GetRegion(ctx, spec.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no existing region; nothing to guard against
	case err != nil:
		return fmt.Errorf("persist region: look up existing region: %w", err)
	case !spec.Update:
		return fmt.Errorf("persist region: region %q already exists; set update: true to replace it", spec.Name)
	}

	if err := db.UpsertRegion(ctx, &dbsqlite.Region{Name: spec.Name, Boundary: encodeBoundary(spec.Region)}); err != nil {
		return fmt.Errorf("persist region: %w", err)
	}
	return nil
}

func readSpec(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// encodeBoundary renders a region's vertices as the whitespace-separated
// "lat,lon lat,lon ..." string the regions table stores, per spec.md §6.
func encodeBoundary(r *region.Region) string {
	parts := make([]string, 0, len(r.Vertices))
	for _, v := range r.Vertices {
		parts = append(parts, fmt.Sprintf("%g,%g", v.Lat, v.Lon))
	}
	return strings.Join(parts, " ")
}
