// Package tilestore implements the content-addressed tile blob store:
// writing a downloaded tile computes its hash, writes the blob exactly
// once, and upserts the metadata row; reclaiming a displaced blob when
// no tile references it anymore. Grounded on
// original_source/mapcache/maptile.py's Tile.save/path_intermediary
// (prefix-bucketed blob paths) and mapdownload.py's commit_tile
// (displaced-uuid reclaim), adapted from SQLAlchemy sessions onto
// internal/dbsqlite.
package tilestore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/synmap/tilecache/internal/dbsqlite"
	"github.com/synmap/tilecache/internal/telemetry"
	"github.com/synmap/tilecache/internal/tilemath"
)

// HashLength is the number of raw SHA-1 bytes kept in a uuid (matching
// original_source's HASH_LENGTH = 8 bytes, i.e. 16 hex chars).
const HashLength = 8

// BucketPrefixLen is the number of leading hex characters of the uuid
// used as the first-level directory bucket, so no single directory
// accumulates an unmanageable number of entries.
const BucketPrefixLen = 3

// NullDigest is the sentinel uuid meaning "known missing": recorded in
// metadata, with no corresponding blob on disk.
var NullDigest = fmt.Sprintf("%0*x", HashLength*2, 0)

// Store is the content-addressed tile blob store: a root directory for
// blobs plus the metadata database.
type Store struct {
	root string
	db   *dbsqlite.DB
}

// New returns a Store rooted at blobRoot, backed by db for metadata.
func New(blobRoot string, db *dbsqlite.DB) *Store {
	return &Store{root: blobRoot, db: db}
}

// Digest computes the store's content-address for data. A nil data
// slice yields NullDigest; an empty non-nil slice is hashed like any
// other content.
func Digest(data []byte) string {
	if data == nil {
		return NullDigest
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:HashLength])
}

// BlobPath returns the on-disk path for a uuid with the given file
// extension, e.g. root/abc/abcdef0123456789.png.
func (s *Store) BlobPath(uuid, extension string) string {
	bucket := uuid
	if len(bucket) > BucketPrefixLen {
		bucket = bucket[:BucketPrefixLen]
	}
	name := uuid
	if extension != "" {
		name = uuid + "." + extension
	}
	return filepath.Join(s.root, bucket, name)
}

// Put executes the write protocol from spec.md §4.4 for a downloaded
// tile: compute the uuid, write the blob idempotently, upsert the
// metadata row, and reclaim a displaced blob if orphaned.
func (s *Store) Put(ctx context.Context, layer string, z, x, y int, extension string, data []byte, fetchedOnUnix int64) error {
	uuid := Digest(data)

	if data != nil {
		path := s.BlobPath(uuid, extension)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("tilestore: mkdir for %s: %w", path, err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("tilestore: write blob %s: %w", path, err)
			}
			telemetry.BlobsStored.Inc()
		}
	}

	prior, err := s.db.GetTile(ctx, layer, z, x, y)
	var priorUUID string
	hadPrior := err == nil
	if hadPrior {
		priorUUID = prior.UUID
	}

	qt := tilemath.ToQuadkey(z, x, y)
	if err := s.db.UpsertTile(ctx, &dbsqlite.Tile{
		Layer: layer, Z: z, X: x, Y: y, QT: qt, UUID: uuid, FetchedOn: fetchedOnUnix,
	}); err != nil {
		return fmt.Errorf("tilestore: upsert tile row: %w", err)
	}

	if hadPrior && priorUUID != uuid && priorUUID != NullDigest {
		if err := s.reclaimIfOrphaned(ctx, priorUUID, extension); err != nil {
			return err
		}
	}
	return nil
}

// reclaimIfOrphaned removes a blob from disk if no tile row references
// its uuid anymore.
func (s *Store) reclaimIfOrphaned(ctx context.Context, uuid, extension string) error {
	count, err := s.db.CountByUUID(ctx, uuid)
	if err != nil {
		return fmt.Errorf("tilestore: count references for %s: %w", uuid, err)
	}
	if count > 0 {
		return nil
	}
	path := s.BlobPath(uuid, extension)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tilestore: reclaim blob %s: %w", path, err)
	}
	telemetry.BlobsReclaimed.Inc()
	return nil
}

// Result is the outcome of a Get call.
type Result int

const (
	// ResultHit means the tile has data and Get returns its bytes.
	ResultHit Result = iota
	// ResultMissing means the tile was fetched but known absent from
	// the upstream source (the null digest is recorded).
	ResultMissing
	// ResultNotPresent means no row exists for this tile at all.
	ResultNotPresent
)

// Get retrieves tile bytes for (layer,z,x,y).
func (s *Store) Get(ctx context.Context, layer string, z, x, y int, extension string) (Result, []byte, error) {
	row, err := s.db.GetTile(ctx, layer, z, x, y)
	if err != nil {
		telemetry.RecordCacheMiss("tilestore")
		return ResultNotPresent, nil, nil
	}
	if row.UUID == NullDigest {
		telemetry.RecordCacheMiss("tilestore")
		return ResultMissing, nil, nil
	}
	data, err := os.ReadFile(s.BlobPath(row.UUID, extension))
	if err != nil {
		return ResultNotPresent, nil, fmt.Errorf("tilestore: read blob for %s/%d/%d/%d: %w", layer, z, x, y, err)
	}
	telemetry.RecordCacheHit("tilestore")
	return ResultHit, data, nil
}

// Descendants returns the rows for all descendants of (layer,z,x,y),
// using the qt string-range predicate, optionally clamped to maxDepth
// levels below z.
func (s *Store) Descendants(ctx context.Context, layer string, z, x, y, maxDepth int) ([]dbsqlite.Tile, error) {
	qt := tilemath.ToQuadkey(z, x, y)
	return s.db.DescendantsOf(ctx, layer, qt, maxDepth)
}

// Ancestor returns the row for the ancestor of (z,x,y) at zoom z-levels
// above, i.e. the tile (z-levels, x>>levels, y>>levels).
func (s *Store) Ancestor(ctx context.Context, layer string, z, x, y, levels int) (*dbsqlite.Tile, error) {
	if levels <= 0 || levels > z {
		return nil, fmt.Errorf("tilestore: invalid ancestor levels %d for zoom %d", levels, z)
	}
	az := z - levels
	ax := x >> uint(levels)
	ay := y >> uint(levels)
	return s.db.GetTile(ctx, layer, az, ax, ay)
}
