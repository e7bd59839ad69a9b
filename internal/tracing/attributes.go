package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys used across pipeline spans.
const (
	AttrLayer  = "tile.layer"
	AttrZoom   = "tile.z"
	AttrTileX  = "tile.x"
	AttrTileY  = "tile.y"
	AttrStage  = "pipeline.stage"
	AttrStatus = "pipeline.status"

	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"

	AttrCacheType = "cache.type"
	AttrCacheHit  = "cache.hit"
	AttrCacheKey  = "cache.key"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Cache type label values.
const (
	CacheTypeTileStore = "tilestore"
	CacheTypeReadPath  = "readpath"
)

// TileAttributes returns the standard (layer,z,x,y) attribute set for a span
// about a single tile.
func TileAttributes(layer string, z, x, y int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrLayer, layer),
		attribute.Int(AttrZoom, z),
		attribute.Int(AttrTileX, x),
		attribute.Int(AttrTileY, y),
	}
}

// CacheAttributes returns attributes for a cache lookup.
func CacheAttributes(cacheType string, hit bool, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheType, cacheType),
		attribute.Bool(AttrCacheHit, hit),
		attribute.String(AttrCacheKey, key),
	}
}

// ErrorAttributes returns attributes describing err, or nil if err is nil.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
