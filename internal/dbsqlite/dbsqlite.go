// Package dbsqlite owns the metadata database: tile rows and region
// boundaries, mapped with sqlx struct tags over a pure-Go SQLite
// driver. There is no ORM and no declarative model layer; Tile and
// Region are plain structs, matching the sqlx-over-sqlite pattern seen
// across the example pack's tile/spatial-metadata manifests.
package dbsqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tiles (
    layer      TEXT    NOT NULL,
    z          INTEGER NOT NULL,
    x          INTEGER NOT NULL,
    y          INTEGER NOT NULL,
    qt         TEXT    NOT NULL,
    uuid       TEXT    NOT NULL,
    fetched_on INTEGER NOT NULL,
    PRIMARY KEY (layer, z, x, y)
);
CREATE INDEX IF NOT EXISTS idx_tiles_layer_qt ON tiles(layer, qt);
CREATE INDEX IF NOT EXISTS idx_tiles_uuid ON tiles(uuid);

CREATE TABLE IF NOT EXISTS regions (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    name     TEXT UNIQUE NOT NULL,
    boundary TEXT NOT NULL
);
`

// Tile is the persisted row for one (layer,z,x,y) tile.
type Tile struct {
	Layer     string `db:"layer"`
	Z         int    `db:"z"`
	X         int    `db:"x"`
	Y         int    `db:"y"`
	QT        string `db:"qt"`
	UUID      string `db:"uuid"`
	FetchedOn int64  `db:"fetched_on"`
}

// Region is the persisted row for a named boundary polygon, stored as
// a flat "lat,lon lat,lon ..." string, matching the boundary encoding
// in original_source/mapcache/maptile.py's Region model.
type Region struct {
	ID       int64  `db:"id"`
	Name     string `db:"name"`
	Boundary string `db:"boundary"`
}

// DB wraps a sqlx connection to the tile cache metadata database.
type DB struct {
	*sqlx.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema migration.
func Open(ctx context.Context, path string) (*DB, error) {
	conn, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbsqlite: open %s: %w", path, err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dbsqlite: migrate schema: %w", err)
	}
	return &DB{DB: conn}, nil
}

// GetTile fetches the row for (layer,z,x,y). Returns sql.ErrNoRows if
// absent.
func (db *DB) GetTile(ctx context.Context, layer string, z, x, y int) (*Tile, error) {
	var t Tile
	err := db.GetContext(ctx, &t,
		`SELECT layer, z, x, y, qt, uuid, fetched_on FROM tiles WHERE layer=? AND z=? AND x=? AND y=?`,
		layer, z, x, y)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertTile inserts or replaces the row for (layer,z,x,y).
func (db *DB) UpsertTile(ctx context.Context, t *Tile) error {
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO tiles (layer, z, x, y, qt, uuid, fetched_on)
		VALUES (:layer, :z, :x, :y, :qt, :uuid, :fetched_on)
		ON CONFLICT (layer, z, x, y) DO UPDATE SET
			qt = excluded.qt,
			uuid = excluded.uuid,
			fetched_on = excluded.fetched_on
	`, t)
	return err
}

// CountByUUID returns how many tile rows (across all layers) reference
// the given uuid, used to decide whether a displaced blob is orphaned.
func (db *DB) CountByUUID(ctx context.Context, uuid string) (int, error) {
	var n int
	err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM tiles WHERE uuid = ?`, uuid)
	return n, err
}

// ExistingTiles queries which of the given (z,x,y) tuples for layer
// already have a row satisfying the refresh cutoffs, grounded on
// original_source/mapcache/mapdownload.py's query_tiles: a row with a
// non-null-digest uuid counts as present if fetched after
// refreshCutoff; a row with the null digest counts as present if
// fetched after refreshCutoffMissing. Cutoffs are unix seconds. When both
// pointers are nil no cutoff clause is added and every existing row
// counts as present; when only one is set, the nil one's branch never
// counts a row as present.
type ExistingQuery struct {
	Layer                string
	Tuples               [][3]int // z,x,y
	NullDigest           string
	RefreshCutoffUnix    *int64
	RefreshCutoffMissing *int64
}

// ExistingTiles returns the subset of q.Tuples that already have a
// satisfying row.
func (db *DB) ExistingTiles(ctx context.Context, q ExistingQuery) (map[[3]int]bool, error) {
	result := make(map[[3]int]bool, len(q.Tuples))
	if len(q.Tuples) == 0 {
		return result, nil
	}

	query, args := buildExistingQuery(q)
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dbsqlite: existing tiles query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Tile
		if err := rows.StructScan(&t); err != nil {
			return nil, err
		}
		result[[3]int{t.Z, t.X, t.Y}] = true
	}
	return result, rows.Err()
}

func buildExistingQuery(q ExistingQuery) (string, []any) {
	placeholders := make([]string, len(q.Tuples))
	args := []any{q.Layer}
	for i, t := range q.Tuples {
		placeholders[i] = "(?,?,?)"
		args = append(args, t[0], t[1], t[2])
	}
	query := fmt.Sprintf(
		`SELECT layer, z, x, y, qt, uuid, fetched_on FROM tiles WHERE layer = ? AND (z,x,y) IN (%s)`,
		joinComma(placeholders),
	)

	var cutoffClauses []string
	if q.RefreshCutoffUnix != nil {
		cutoffClauses = append(cutoffClauses, "(uuid != ? AND fetched_on > ?)")
		args = append(args, q.NullDigest, *q.RefreshCutoffUnix)
	}
	if q.RefreshCutoffMissing != nil {
		cutoffClauses = append(cutoffClauses, "(uuid = ? AND fetched_on > ?)")
		args = append(args, q.NullDigest, *q.RefreshCutoffMissing)
	}
	if len(cutoffClauses) > 0 {
		query += " AND (" + joinOr(cutoffClauses) + ")"
	}
	return query, args
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func joinOr(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += " OR "
		}
		out += s
	}
	return out
}

// DescendantsOf returns all tile rows for layer whose qt is a strict
// prefix-extension of the given ancestor qt, optionally clamped to a
// maximum depth below the ancestor's zoom.
func (db *DB) DescendantsOf(ctx context.Context, layer, qt string, maxDepth int) ([]Tile, error) {
	query := `SELECT layer, z, x, y, qt, uuid, fetched_on FROM tiles
		WHERE layer = ? AND qt > ? AND qt < ? `
	args := []any{layer, qt, qt + "4"}
	if maxDepth > 0 {
		query += " AND z <= ?"
		args = append(args, len(qt)+maxDepth)
	}

	var out []Tile
	if err := db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertRegion inserts or replaces the region row by unique name.
func (db *DB) UpsertRegion(ctx context.Context, r *Region) error {
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO regions (name, boundary) VALUES (:name, :boundary)
		ON CONFLICT (name) DO UPDATE SET boundary = excluded.boundary
	`, r)
	return err
}

// GetRegion fetches a region by name. Returns sql.ErrNoRows if absent.
func (db *DB) GetRegion(ctx context.Context, name string) (*Region, error) {
	var r Region
	err := db.GetContext(ctx, &r, `SELECT id, name, boundary FROM regions WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
