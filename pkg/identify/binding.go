package identify

import (
	"github.com/rotisserie/eris"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
)

// ServiceTaskBinding pairs a layer with the identify endpoint that serves it.
type ServiceTaskBinding struct {
	LayerID string
	// EndpointURL is the MapServer or FeatureServer root, without a sub-layer suffix.
	EndpointURL string
	// SubLayerID is set when the layer URL addresses a single sub-layer.
	SubLayerID *int
	Kind       LayerKind
}

// NewBinding derives the binding for a layer. An unset kind is inferred from
// the URL: a sub-layer URL is a feature layer, a service root is dynamic.
func NewBinding(layer Layer) (*ServiceTaskBinding, error) {
	if layer.Kind == KindGroup {
		return nil, &ConfigurationError{
			LayerID: layer.ID,
			URL:     layer.URL,
			Err:     eris.New("group layers have no identify endpoint"),
		}
	}
	su, err := arcgis.ParseServiceURL(layer.URL)
	if err != nil {
		return nil, &ConfigurationError{LayerID: layer.ID, URL: layer.URL, Err: err}
	}

	kind := layer.Kind
	if kind == KindUnknown {
		if su.SubLayerID != nil {
			kind = KindFeature
		} else {
			kind = KindDynamic
		}
	}

	return &ServiceTaskBinding{
		LayerID:     layer.ID,
		EndpointURL: su.Root,
		SubLayerID:  su.SubLayerID,
		Kind:        kind,
	}, nil
}

// Parameters builds the identify request for geometry against the map view.
func (b *ServiceTaskBinding) Parameters(geometry arcgis.Geometry, view Map, tolerance int) arcgis.IdentifyParameters {
	p := arcgis.IdentifyParameters{
		Geometry:       geometry,
		MapExtent:      view.Extent(),
		Width:          view.Width(),
		Height:         view.Height(),
		Tolerance:      tolerance,
		LayerOption:    arcgis.LayerOptionVisible,
		ReturnGeometry: true,
	}
	if b.SubLayerID != nil {
		p.LayerIDs = []int{*b.SubLayerID}
	}
	return p
}
