// Package mapconfig loads the map session file: the extent, pixel size, scale
// and operational layers the identify coordinator runs against.
package mapconfig

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

// Extent is a map extent in the map's spatial reference.
type Extent struct {
	XMin float64 `yaml:"xmin" json:"xmin"`
	YMin float64 `yaml:"ymin" json:"ymin"`
	XMax float64 `yaml:"xmax" json:"xmax"`
	YMax float64 `yaml:"ymax" json:"ymax"`
	WKID int     `yaml:"wkid" json:"wkid,omitempty"`
}

func (e Extent) envelope() arcgis.Envelope {
	env := arcgis.Envelope{XMin: e.XMin, YMin: e.YMin, XMax: e.XMax, YMax: e.YMax}
	if e.WKID != 0 {
		env.SpatialReference = &arcgis.SpatialReference{WKID: e.WKID}
	}
	return env
}

func (e Extent) valid() bool {
	return e.XMax > e.XMin && e.YMax > e.YMin
}

// LayerEntry is one operational layer. Entries under a group layer are
// independent layers; entries under a service layer describe its sub-layers.
type LayerEntry struct {
	ID        string       `yaml:"id"`
	URL       string       `yaml:"url"`
	Type      string       `yaml:"type"`
	Visible   *bool        `yaml:"visible"`
	MinScale  float64      `yaml:"minScale"`
	MaxScale  float64      `yaml:"maxScale"`
	SubLayers []LayerEntry `yaml:"subLayers"`
}

// File is a parsed map session file.
type File struct {
	Extent Extent       `yaml:"extent"`
	Width  int          `yaml:"width"`
	Height int          `yaml:"height"`
	Scale  float64      `yaml:"scale"`
	Layers []LayerEntry `yaml:"layers"`

	layers []identify.Layer
}

// View overrides the file's view for one request. Zero values keep the
// file's settings.
type View struct {
	Extent  *Extent         `json:"extent,omitempty"`
	Width   int             `json:"width,omitempty"`
	Height  int             `json:"height,omitempty"`
	Scale   float64         `json:"scale,omitempty"`
	Visible map[string]bool `json:"visible,omitempty"`
}

// Load reads and validates the map file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapconfig: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a map file. JSON is accepted as well as YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "mapconfig: decode")
	}
	if !f.Extent.valid() {
		return nil, eris.New("mapconfig: extent must have xmax > xmin and ymax > ymin")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, eris.Errorf("mapconfig: invalid map size %dx%d", f.Width, f.Height)
	}

	seen := make(map[string]bool)
	layers, err := convertLayers(f.Layers, seen, true)
	if err != nil {
		return nil, err
	}
	f.layers = layers
	return &f, nil
}

func convertLayers(entries []LayerEntry, seen map[string]bool, independent bool) ([]identify.Layer, error) {
	out := make([]identify.Layer, 0, len(entries))
	for _, e := range entries {
		kind, err := identify.KindFromString(e.Type)
		if err != nil {
			return nil, eris.Wrapf(err, "mapconfig: layer %q", e.ID)
		}
		if independent {
			if e.ID == "" {
				return nil, eris.Errorf("mapconfig: layer with url %q has no id", e.URL)
			}
			if seen[e.ID] {
				return nil, eris.Errorf("mapconfig: duplicate layer id %q", e.ID)
			}
			seen[e.ID] = true
			if kind != identify.KindGroup && e.URL == "" {
				return nil, eris.Errorf("mapconfig: layer %q has no url", e.ID)
			}
		}
		if e.URL != "" && !arcgis.IsValidHTTPURL(e.URL) {
			return nil, eris.Errorf("mapconfig: layer %q: url %q is not an http or https url", e.ID, e.URL)
		}

		l := identify.Layer{
			ID:       e.ID,
			URL:      e.URL,
			Kind:     kind,
			Visible:  e.Visible == nil || *e.Visible,
			MinScale: e.MinScale,
			MaxScale: e.MaxScale,
		}
		if len(e.SubLayers) > 0 {
			subs, err := convertLayers(e.SubLayers, seen, kind == identify.KindGroup)
			if err != nil {
				return nil, err
			}
			l.SubLayers = subs
		}
		out = append(out, l)
	}
	return out, nil
}

// Snapshot returns the file's map state.
func (f *File) Snapshot() identify.Snapshot {
	return identify.Snapshot{
		Layers:      f.layers,
		Bounds:      f.Extent.envelope(),
		PixelWidth:  f.Width,
		PixelHeight: f.Height,
		MapScale:    f.Scale,
	}
}

// WithView returns the file's map state with v applied. Visibility overrides
// are keyed by layer id and reach layers nested in groups.
func (f *File) WithView(v View) (identify.Snapshot, error) {
	s := f.Snapshot()
	if v.Extent != nil {
		if !v.Extent.valid() {
			return identify.Snapshot{}, eris.New("mapconfig: invalid view extent")
		}
		s.Bounds = v.Extent.envelope()
	}
	if v.Width < 0 || v.Height < 0 {
		return identify.Snapshot{}, eris.Errorf("mapconfig: invalid view size %dx%d", v.Width, v.Height)
	}
	if v.Width > 0 {
		s.PixelWidth = v.Width
	}
	if v.Height > 0 {
		s.PixelHeight = v.Height
	}
	if v.Scale > 0 {
		s.MapScale = v.Scale
	}
	if len(v.Visible) > 0 {
		s.Layers = applyVisibility(f.layers, v.Visible)
	}
	return s, nil
}

func applyVisibility(layers []identify.Layer, visible map[string]bool) []identify.Layer {
	out := make([]identify.Layer, len(layers))
	for i, l := range layers {
		if on, ok := visible[l.ID]; ok {
			l.Visible = on
		}
		if l.Kind == identify.KindGroup {
			l.SubLayers = applyVisibility(l.SubLayers, visible)
		}
		out[i] = l
	}
	return out
}
