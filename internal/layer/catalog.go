package layer

import (
	"strconv"
	"sync/atomic"
)

// osmRoundRobinFactoryName is the built-in factory registered below,
// demonstrating original_source/settings.py's documented tile_url
// contract: "tile_url may also be a function ... returning another
// function [(z, x, y) => url template str] to be called for every
// tile access" — a round-robin over the same osmmapnik mirror set,
// cycling independently of the tile coordinates rather than hashing
// on them the way the {s:} placeholder does.
const osmRoundRobinFactoryName = "osmmapnik-roundrobin"

func init() {
	RegisterFactory(osmRoundRobinFactoryName, osmRoundRobinFactory)
}

func osmRoundRobinFactory() (string, PerTileFunc) {
	hosts := [...]string{"a", "b", "c"}
	var n uint32
	return "", func(z, x, y int) string {
		i := atomic.AddUint32(&n, 1) - 1
		host := hosts[i%uint32(len(hosts))]
		return "http://" + host + ".tile.openstreetmap.org/" +
			strconv.Itoa(z) + "/" + strconv.Itoa(x) + "/" + strconv.Itoa(y) + ".png"
	}
}

// Catalog is the set of built-in tile-source templates, the Go
// analogue of original_source/settings.py's LAYERS dict: a fixed
// mapping from layer id to URL template, file extension, and display
// metadata. A download spec selects a subset of these ids and layers
// in its own zoom/refresh policy on top.
func Catalog() map[string]TemplateSource {
	return map[string]TemplateSource{
		"osmmapnik": {
			Template: "http://{s:abc}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		},
		"bingsatlab": {
			Template: "http://ecn.dynamic.t{s:0-3}.tiles.virtualearth.net/comp/CompositionHandler/{qt}?it=A,G,L&n=z",
		},
		"chartbundle": {
			Template: "http://wms.chartbundle.com/tms/1.0.0/sec/{z}/{x}/{-y}.{type}",
		},
		"osmmapnik-roundrobin": {
			Factory: osmRoundRobinFactoryName,
		},
	}
}

// CatalogMeta mirrors the non-template fields original_source/settings.py
// attaches to each layer entry (file_type, display name, overlay,
// min_depth).
type CatalogMeta struct {
	Extension   string
	DisplayName string
	Overlay     bool
	MinDepth    int
}

// CatalogMetas returns the fixed metadata for each built-in layer id.
func CatalogMetas() map[string]CatalogMeta {
	return map[string]CatalogMeta{
		"osmmapnik":  {Extension: "png", DisplayName: "openstreetmap standard (mapnik)"},
		"bingsatlab": {Extension: "jpg", DisplayName: "bing satellite labelled", MinDepth: 1},
		"chartbundle": {
			Extension:   "png",
			DisplayName: "faa aeronautical (vfr sectional)",
		},
		"osmmapnik-roundrobin": {
			Extension:   "png",
			DisplayName: "openstreetmap standard (mapnik, round-robin mirrors)",
		},
	}
}
