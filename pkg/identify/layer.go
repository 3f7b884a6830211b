// Package identify fans a map-point query out to every eligible map-service
// layer, joins the per-layer answers and annotates each feature with the
// schema of the sub-layer it came from.
package identify

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
)

// LayerKind is the service flavor of a map layer.
type LayerKind int

const (
	// KindUnknown is inferred from the layer URL when a binding is built.
	KindUnknown LayerKind = iota
	KindTiled
	KindDynamic
	KindFeature
	KindGroup
)

func (k LayerKind) String() string {
	switch k {
	case KindTiled:
		return "tiled"
	case KindDynamic:
		return "dynamic"
	case KindFeature:
		return "feature"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// KindFromString parses a layer kind name. Both the short names and the
// ArcGIS layer class names used by map configuration files are accepted.
func KindFromString(s string) (LayerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return KindUnknown, nil
	case "tiled", "arcgistiledmapservicelayer":
		return KindTiled, nil
	case "dynamic", "arcgisdynamicmapservicelayer":
		return KindDynamic, nil
	case "feature", "featurelayer":
		return KindFeature, nil
	case "group", "grouplayer":
		return KindGroup, nil
	}
	return KindUnknown, eris.Errorf("unknown layer kind %q", s)
}

// Layer is a map layer as the map widget reports it. The coordinator only
// reads layers.
//
// For KindGroup layers SubLayers are independent child layers. For service
// layers SubLayers lists the sub-layers of the service; an entry of KindGroup
// has no schema of its own.
type Layer struct {
	ID        string
	URL       string
	Kind      LayerKind
	Visible   bool
	MinScale  float64
	MaxScale  float64
	SubLayers []Layer
}

// VisibleAtScale reports whether scale lies inside the layer's scale range.
// A zero bound is unbounded. It ignores the Visible toggle.
func (l Layer) VisibleAtScale(scale float64) bool {
	if scale <= 0 {
		return true
	}
	if l.MinScale > 0 && scale > l.MinScale {
		return false
	}
	if l.MaxScale > 0 && scale < l.MaxScale {
		return false
	}
	return true
}

// subLayerNumber resolves the numeric id of a service sub-layer from its URL
// or, failing that, its ID.
func (l Layer) subLayerNumber() (int, bool) {
	if su, err := arcgis.ParseServiceURL(l.URL); err == nil && su.SubLayerID != nil {
		return *su.SubLayerID, true
	}
	n, err := strconv.Atoi(l.ID)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Map is the map widget's state as seen by the coordinator.
type Map interface {
	// LayersVisibleAtScale returns the top-level layers in range at the
	// current scale, including ones toggled off.
	LayersVisibleAtScale() []Layer
	// Scale is the current map scale denominator. Zero disables scale checks.
	Scale() float64
	Extent() arcgis.Envelope
	Width() int
	Height() int
}

// Snapshot is an immutable Map value.
type Snapshot struct {
	Layers      []Layer
	Bounds      arcgis.Envelope
	PixelWidth  int
	PixelHeight int
	MapScale    float64
}

var _ Map = Snapshot{}

func (s Snapshot) LayersVisibleAtScale() []Layer {
	out := make([]Layer, 0, len(s.Layers))
	for _, l := range s.Layers {
		if l.VisibleAtScale(s.MapScale) {
			out = append(out, l)
		}
	}
	return out
}

func (s Snapshot) Scale() float64          { return s.MapScale }
func (s Snapshot) Extent() arcgis.Envelope { return s.Bounds }
func (s Snapshot) Width() int              { return s.PixelWidth }
func (s Snapshot) Height() int             { return s.PixelHeight }
