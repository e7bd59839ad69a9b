// Package specfile parses and validates the download spec: the YAML
// document naming a region and a set of layers to cache, per spec.md
// §6. Grounded on the teacher's LaPingvino-recuerdo go.mod's direct use
// of gopkg.in/yaml.v3 for its own lesson/config YAML, and on
// original_source/settings.py's LAYERS catalog for the layer-id
// vocabulary a spec is allowed to reference.
package specfile

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synmap/tilecache/internal/layer"
	"github.com/synmap/tilecache/internal/pipelineerr"
	"github.com/synmap/tilecache/internal/region"
)

// LayerSpec is one entry under the spec's `layers` mapping.
type LayerSpec struct {
	Zoom             int     `yaml:"zoom"`
	RefreshOlderThan float64 `yaml:"refresh-older-than"`
	RefreshMode      string  `yaml:"refresh-mode"`
}

// rawSpec mirrors the YAML document shape exactly, before validation.
type rawSpec struct {
	Name    string               `yaml:"name"`
	Update  bool                 `yaml:"update"`
	Region  string               `yaml:"region"`
	Layers  map[string]LayerSpec `yaml:"layers"`
}

// Spec is a fully parsed and validated download spec, ready to drive
// the pipeline.
type Spec struct {
	Name   string
	Update bool
	Region *region.Region
	Layers []*layer.Layer
}

// Parse parses and validates raw YAML bytes into a Spec. Any
// validation failure is returned as a *pipelineerr.Error with
// Code == pipelineerr.CodeValidation and Stage == pipelineerr.StageSpec,
// per spec.md §6's "invalid specs terminate with a diagnostic before
// any download begins".
func Parse(data []byte) (*Spec, error) {
	var raw rawSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.CodeValidation, pipelineerr.StageSpec, "malformed YAML", err)
	}

	if strings.TrimSpace(raw.Name) == "" {
		return nil, pipelineerr.New(pipelineerr.CodeValidation, pipelineerr.StageSpec, "name is required")
	}

	reg, err := parseRegion(raw.Name, raw.Region)
	if err != nil {
		return nil, err
	}

	if len(raw.Layers) == 0 {
		return nil, pipelineerr.New(pipelineerr.CodeValidation, pipelineerr.StageSpec, "at least one layer is required")
	}

	catalog := layer.Catalog()
	metas := layer.CatalogMetas()

	layers := make([]*layer.Layer, 0, len(raw.Layers))
	for id, ls := range raw.Layers {
		tmpl, known := catalog[id]
		if !known {
			return nil, pipelineerr.New(pipelineerr.CodeValidation, pipelineerr.StageSpec,
				fmt.Sprintf("unknown layer %q", id))
		}
		if ls.Zoom < 0 || ls.Zoom > 30 {
			return nil, pipelineerr.New(pipelineerr.CodeValidation, pipelineerr.StageSpec,
				fmt.Sprintf("layer %q: zoom %d out of range [0,30]", id, ls.Zoom))
		}

		l := &layer.Layer{
			ID:        id,
			Template:  tmpl,
			MaxZoom:   ls.Zoom,
			Cacheable: true,
		}
		if meta, ok := metas[id]; ok {
			l.Extension = meta.Extension
			l.DisplayName = meta.DisplayName
			l.Overlay = meta.Overlay
			l.MinDepth = meta.MinDepth
		}

		refresh, days, err := parseRefresh(id, ls)
		if err != nil {
			return nil, err
		}
		l.Refresh = refresh
		l.RefreshDaysN = days

		layers = append(layers, l)
	}

	return &Spec{Name: raw.Name, Update: raw.Update, Region: reg, Layers: layers}, nil
}

func parseRegion(name, raw string) (*region.Region, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, region.WorldName) {
		return region.World(), nil
	}

	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	if len(fields)%2 != 0 {
		return nil, pipelineerr.New(pipelineerr.CodeValidation, pipelineerr.StageSpec,
			"region vertex list has an odd number of coordinates")
	}

	vertices := make([]region.Vertex, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		lat, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, pipelineerr.Wrap(pipelineerr.CodeValidation, pipelineerr.StageSpec,
				"region vertex has a non-numeric latitude", err)
		}
		lon, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, pipelineerr.Wrap(pipelineerr.CodeValidation, pipelineerr.StageSpec,
				"region vertex has a non-numeric longitude", err)
		}
		vertices = append(vertices, region.Vertex{Lat: lat, Lon: lon})
	}

	reg, err := region.New(name, vertices)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.CodeValidation, pipelineerr.StageSpec, "invalid region", err)
	}
	return reg, nil
}

func parseRefresh(id string, ls LayerSpec) (layer.RefreshPolicy, int, error) {
	hasMode := ls.RefreshMode != ""
	hasDays := ls.RefreshOlderThan > 0

	if hasMode && hasDays {
		return 0, 0, pipelineerr.New(pipelineerr.CodeValidation, pipelineerr.StageSpec,
			fmt.Sprintf("layer %q: specify either refresh-older-than or refresh-mode, not both", id))
	}

	if hasDays {
		return layer.RefreshDays, int(ls.RefreshOlderThan), nil
	}

	switch ls.RefreshMode {
	case "", "never":
		return layer.RefreshNone, 0, nil
	case "always":
		return layer.RefreshAlways, 0, nil
	default:
		return 0, 0, pipelineerr.New(pipelineerr.CodeValidation, pipelineerr.StageSpec,
			fmt.Sprintf("layer %q: unknown refresh-mode %q", id, ls.RefreshMode))
	}
}
