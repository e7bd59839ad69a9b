// Package urltemplate compiles a layer's tile URL template once and
// invokes it per tile without re-parsing. It depends only on
// internal/layer and a (layerID,z,x,y) tuple, never on
// internal/tilestore's Tile type, to avoid a cyclic import between the
// store and the layer configuration.
//
// Grounded on original_source/mapcache/mapdownload.py's
// precompile_tile_url: the template is rewritten once into a small set
// of closures (shard picker, quadkey builder) plus a Go format string,
// rather than re-parsing placeholders on every call.
package urltemplate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/synmap/tilecache/internal/layer"
	"github.com/synmap/tilecache/internal/tilemath"
)

var (
	shardRe = regexp.MustCompile(`\{s:([^}]+)\}`)
	qtRe    = regexp.MustCompile(`\{qt(:([^}]+))?\}`)
)

// Template is a compiled, hermetic tile-URL generator for one layer:
// compiling it does all the regexp/parsing work once, so URL(z,x,y)
// does only string substitution per call and never leaks state between
// invocations.
type Template struct {
	build func(z, x, y int) string
}

// Compile compiles the given raw template string (as found in
// layer.TemplateSource.Template) against the layer's file extension.
func Compile(raw string, fileExtension string) (*Template, error) {
	// Protect literal '%' before using the string as a Go format
	// verb source: double every '%' so Sprintf emits it literally.
	working := strings.ReplaceAll(raw, "%", "%%")

	var shards []string
	if m := shardRe.FindStringSubmatch(working); m != nil {
		spec := m[1]
		var err error
		shards, err = parseShardSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("urltemplate: %w", err)
		}
		working = strings.Replace(working, m[0], "%[5]s", 1)
	}

	hasQT := false
	qtAlphabet := ""
	if m := qtRe.FindStringSubmatch(working); m != nil {
		hasQT = true
		qtAlphabet = m[2]
		working = strings.Replace(working, m[0], "%[6]s", 1)
	}

	working = strings.ReplaceAll(working, "{z}", "%[1]d")
	working = strings.ReplaceAll(working, "{x}", "%[2]d")
	working = strings.ReplaceAll(working, "{y}", "%[3]d")
	working = strings.ReplaceAll(working, "{-y}", "%[4]d")
	working = strings.ReplaceAll(working, "{type}", fileExtension)

	fmtstr := working
	t := &Template{
		build: func(z, x, y int) string {
			shard := ""
			if len(shards) > 0 {
				shard = shards[mod(x+y, len(shards))]
			}
			qt := ""
			if hasQT {
				qt = quadkeyWithAlphabet(z, x, y, qtAlphabet)
			}
			invY := tilemath.InvertY(y, z)
			return fmt.Sprintf(fmtstr, z, x, y, invY, shard, qt)
		},
	}
	return t, nil
}

// CompileForLayer compiles the layer's configured template source: a
// literal template string, or a registered Factory (called once here,
// per original_source/settings.py's "called once the first time this
// layer is accessed" contract) producing either a template string to
// compile or a PerTileFunc invoked directly on every URL() call.
func CompileForLayer(l *layer.Layer) (*Template, error) {
	if l.Template.Template != "" {
		return Compile(l.Template.Template, l.Extension)
	}

	if l.Template.Factory == "" {
		return nil, fmt.Errorf("urltemplate: layer %q has no template or factory to compile", l.ID)
	}
	factory, ok := layer.LookupFactory(l.Template.Factory)
	if !ok {
		return nil, fmt.Errorf("urltemplate: layer %q references unknown factory %q", l.ID, l.Template.Factory)
	}
	tmplStr, perTile := factory()
	if perTile != nil {
		return &Template{build: perTile}, nil
	}
	if tmplStr == "" {
		return nil, fmt.Errorf("urltemplate: factory %q for layer %q produced neither a template nor a per-tile function", l.Template.Factory, l.ID)
	}
	return Compile(tmplStr, l.Extension)
}

// URL renders the compiled template for tile (z,x,y).
func (t *Template) URL(z, x, y int) string {
	return t.build(z, x, y)
}

func parseShardSpec(spec string) ([]string, error) {
	if strings.Contains(spec, "-") {
		parts := strings.SplitN(spec, "-", 2)
		lo, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid shard range %q: %w", spec, err)
		}
		hi, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid shard range %q: %w", spec, err)
		}
		if hi < lo {
			return nil, fmt.Errorf("invalid shard range %q: hi < lo", spec)
		}
		out := make([]string, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			out = append(out, strconv.Itoa(i))
		}
		return out, nil
	}
	out := make([]string, 0, len(spec))
	for _, r := range spec {
		out = append(out, string(r))
	}
	return out, nil
}

func quadkeyWithAlphabet(z, x, y int, alphabet string) string {
	qt := tilemath.ToQuadkey(z, x, y)
	if alphabet == "" || len(alphabet) != 4 {
		return qt
	}
	out := make([]byte, len(qt))
	for i := 0; i < len(qt); i++ {
		digit := qt[i] - '0'
		out[i] = alphabet[digit]
	}
	return string(out)
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
