package identify

import (
	"encoding/json"
	"sort"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
)

// Results is the joined answer of one identify operation.
type Results struct {
	// Seq orders operations issued by one coordinator; see Coordinator.IsLatest.
	Seq uint64
	// Layers has one entry per dispatched layer, keyed by layer id.
	Layers map[string]*LayerResult
}

// LayerResult is one layer's slot. Err is set when the layer failed.
type LayerResult struct {
	LayerID string
	Results []Result
	Err     error
}

// Result is one identified feature annotated with its sub-layer schema.
type Result struct {
	LayerID          int
	LayerName        string
	Value            string
	DisplayFieldName string
	Feature          Feature
	// LayerInfo is nil when no schema was found for LayerID.
	LayerInfo *arcgis.LayerInfo
}

// Feature is the geometry and attributes of a result.
type Feature struct {
	Geometry   json.RawMessage
	Attributes map[string]any
}

// LayerIDs returns the layer ids in sorted order.
func (r *Results) LayerIDs() []string {
	ids := make([]string, 0, len(r.Layers))
	for id := range r.Layers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Errors returns the failed layers.
func (r *Results) Errors() map[string]error {
	out := make(map[string]error)
	for id, lr := range r.Layers {
		if lr.Err != nil {
			out[id] = lr.Err
		}
	}
	return out
}

// Flatten returns every result of every successful layer, ordered by layer id.
func Flatten(r *Results) []Result {
	if r == nil {
		return nil
	}
	var out []Result
	for _, id := range r.LayerIDs() {
		lr := r.Layers[id]
		if lr.Err != nil {
			continue
		}
		out = append(out, lr.Results...)
	}
	return out
}

func annotate(raw []arcgis.IdentifyResult, md *LayerMetadata) []Result {
	out := make([]Result, len(raw))
	for i, r := range raw {
		out[i] = Result{
			LayerID:          r.LayerID,
			LayerName:        r.LayerName,
			Value:            r.Value,
			DisplayFieldName: r.DisplayFieldName,
			Feature: Feature{
				Geometry:   r.Geometry,
				Attributes: r.Attributes,
			},
			LayerInfo: md.For(r.LayerID),
		}
	}
	return out
}
