package tilestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/synmap/tilecache/internal/dbsqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := dbsqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("dbsqlite.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	root := t.TempDir()
	return New(root, db)
}

func TestDigestNilIsNullDigest(t *testing.T) {
	if got := Digest(nil); got != NullDigest {
		t.Errorf("Digest(nil) = %q, want %q", got, NullDigest)
	}
}

func TestDigestDeterministic(t *testing.T) {
	data := []byte("hello tile")
	a := Digest(data)
	b := Digest(data)
	if a != b {
		t.Errorf("Digest not deterministic: %q != %q", a, b)
	}
	if len(a) != HashLength*2 {
		t.Errorf("Digest length = %d, want %d", len(a), HashLength*2)
	}
}

func TestPutAndGetHit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := []byte("tile-bytes")
	if err := s.Put(ctx, "osm", 3, 5, 2, "png", data, 1000); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, got, err := s.Get(ctx, "osm", 3, 5, 2, "png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result != ResultHit {
		t.Fatalf("Get result = %v, want ResultHit", result)
	}
	if string(got) != string(data) {
		t.Errorf("Get bytes = %q, want %q", got, data)
	}
}

func TestPutMissingSentinel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "osm", 3, 5, 2, "png", nil, 1000); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, _, err := s.Get(ctx, "osm", 3, 5, 2, "png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result != ResultMissing {
		t.Errorf("Get result = %v, want ResultMissing", result)
	}
}

func TestGetNotPresent(t *testing.T) {
	s := newTestStore(t)
	result, _, err := s.Get(context.Background(), "osm", 3, 5, 2, "png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result != ResultNotPresent {
		t.Errorf("Get result = %v, want ResultNotPresent", result)
	}
}

func TestPutDoesNotOverwriteExistingBlob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte("original")

	if err := s.Put(ctx, "osm", 1, 0, 0, "png", data, 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	path := s.BlobPath(Digest(data), "png")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat blob: %v", err)
	}
	originalModTime := info.ModTime()

	// Put the same layer/tile/data again; must not attempt to rewrite the
	// blob (idempotent write).
	if err := s.Put(ctx, "osm", 1, 0, 0, "png", data, 2); err != nil {
		t.Fatalf("Put again: %v", err)
	}
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat blob after second put: %v", err)
	}
	if !info2.ModTime().Equal(originalModTime) || info2.Size() != info.Size() {
		t.Errorf("blob appears rewritten rather than left alone")
	}
}

func TestPutReclaimsOrphanedBlobOnRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	oldData := []byte("old-version")
	newData := []byte("new-version")

	if err := s.Put(ctx, "osm", 2, 1, 1, "png", oldData, 1); err != nil {
		t.Fatalf("Put old: %v", err)
	}
	oldPath := s.BlobPath(Digest(oldData), "png")
	if _, err := os.Stat(oldPath); err != nil {
		t.Fatalf("expected old blob to exist: %v", err)
	}

	if err := s.Put(ctx, "osm", 2, 1, 1, "png", newData, 2); err != nil {
		t.Fatalf("Put new: %v", err)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("expected orphaned old blob to be reclaimed, stat err = %v", err)
	}
	newPath := s.BlobPath(Digest(newData), "png")
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("expected new blob to exist: %v", err)
	}
}

func TestPutSharedBlobNotReclaimedWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	shared := []byte("shared-content")
	if err := s.Put(ctx, "layerA", 1, 0, 0, "png", shared, 1); err != nil {
		t.Fatalf("Put layerA: %v", err)
	}
	if err := s.Put(ctx, "layerB", 1, 0, 0, "png", shared, 1); err != nil {
		t.Fatalf("Put layerB: %v", err)
	}

	// Refresh layerA's tile with different content; the shared blob must
	// survive because layerB still references it.
	if err := s.Put(ctx, "layerA", 1, 0, 0, "png", []byte("different"), 2); err != nil {
		t.Fatalf("Put layerA refresh: %v", err)
	}

	sharedPath := s.BlobPath(Digest(shared), "png")
	if _, err := os.Stat(sharedPath); err != nil {
		t.Errorf("expected shared blob to still exist (referenced by layerB): %v", err)
	}
}

func TestBlobPathBucketing(t *testing.T) {
	s := newTestStore(t)
	uuid := "abcdef0123456789"
	path := s.BlobPath(uuid, "png")
	expected := filepath.Join(s.root, "abc", uuid+".png")
	if path != expected {
		t.Errorf("BlobPath = %q, want %q", path, expected)
	}
}

func TestAncestorWalk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "osm", 1, 0, 0, "png", []byte("parent"), 1); err != nil {
		t.Fatalf("Put parent: %v", err)
	}

	ancestor, err := s.Ancestor(ctx, "osm", 2, 1, 1, 1)
	if err != nil {
		t.Fatalf("Ancestor: %v", err)
	}
	if ancestor.Z != 1 || ancestor.X != 0 || ancestor.Y != 0 {
		t.Errorf("Ancestor = (%d,%d,%d), want (1,0,0)", ancestor.Z, ancestor.X, ancestor.Y)
	}
}

func TestDescendantsQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "osm", 1, 0, 0, "png", []byte("p"), 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "osm", 2, 0, 0, "png", []byte("c"), 1); err != nil {
		t.Fatalf("Put child: %v", err)
	}

	desc, err := s.Descendants(ctx, "osm", 1, 0, 0, 0)
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if len(desc) != 1 || desc[0].Z != 2 {
		t.Errorf("Descendants = %+v, want single z=2 row", desc)
	}
}
