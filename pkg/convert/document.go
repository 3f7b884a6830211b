package convert

import (
	"encoding/json"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

// Document is the JSON form of identify results, keyed by map layer id.
type Document struct {
	Seq    uint64                   `json:"seq"`
	Latest bool                     `json:"latest"`
	Layers map[string]LayerDocument `json:"layers"`
}

// LayerDocument is one layer slot. Error is set when the layer failed.
type LayerDocument struct {
	Results []ResultDocument `json:"results"`
	Error   string           `json:"error,omitempty"`
}

// ResultDocument is one identified feature with its popup.
type ResultDocument struct {
	LayerID          int             `json:"layerId"`
	LayerName        string          `json:"layerName"`
	Value            string          `json:"value"`
	DisplayFieldName string          `json:"displayFieldName"`
	Feature          FeatureDocument `json:"feature"`
	Title            string          `json:"title"`
	Content          string          `json:"content,omitempty"`
	Deferred         bool            `json:"deferred"`
	PopupURL         string          `json:"popupUrl,omitempty"`
}

// FeatureDocument carries ArcGIS JSON geometry unchanged.
type FeatureDocument struct {
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	Attributes map[string]any  `json:"attributes"`
}

// Decorator fills the popup fields of a result document.
type Decorator func(r identify.Result, doc *ResultDocument)

// ToDocument converts identify results. The title defaults to the display
// value; decorate, when non-nil, runs for every result.
func ToDocument(res *identify.Results, decorate Decorator) *Document {
	doc := &Document{Layers: map[string]LayerDocument{}}
	if res == nil {
		return doc
	}
	doc.Seq = res.Seq
	for id, lr := range res.Layers {
		if lr.Err != nil {
			doc.Layers[id] = LayerDocument{Results: []ResultDocument{}, Error: lr.Err.Error()}
			continue
		}
		results := make([]ResultDocument, 0, len(lr.Results))
		for _, r := range lr.Results {
			attrs := r.Feature.Attributes
			if attrs == nil {
				attrs = map[string]any{}
			}
			rd := ResultDocument{
				LayerID:          r.LayerID,
				LayerName:        r.LayerName,
				Value:            r.Value,
				DisplayFieldName: r.DisplayFieldName,
				Feature:          FeatureDocument{Geometry: r.Feature.Geometry, Attributes: attrs},
				Title:            r.Value,
			}
			if decorate != nil {
				decorate(r, &rd)
			}
			results = append(results, rd)
		}
		doc.Layers[id] = LayerDocument{Results: results}
	}
	return doc
}
