// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

// Package convert renders identify results as GeoJSON, CSV or plain text.
package convert

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/utils"
)

// row is one successful result with the id of the map layer that produced it.
type row struct {
	layerID string
	result  identify.Result
}

func rows(res *identify.Results) []row {
	if res == nil {
		return nil
	}
	var out []row
	for _, id := range res.LayerIDs() {
		lr := res.Layers[id]
		if lr.Err != nil {
			continue
		}
		for _, r := range lr.Results {
			out = append(out, row{layerID: id, result: r})
		}
	}
	return out
}

// ToGeoJSON converts identify results to a GeoJSON FeatureCollection.
// Properties are the feature attributes plus the map layer id, the sub-layer
// name and the sub-layer id. Failed layers are skipped.
func ToGeoJSON(res *identify.Results) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}

	for _, rw := range rows(res) {
		g, err := utils.ParseGeometry(rw.result.Feature.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "layer %s: convert geometry", rw.layerID)
		}

		props := make(map[string]interface{}, len(rw.result.Feature.Attributes)+3)
		for k, v := range rw.result.Feature.Attributes {
			props[k] = v
		}
		props[ColumnLayerID] = rw.layerID
		props[ColumnLayerName] = rw.result.LayerName
		props[ColumnSubLayer] = rw.result.LayerID

		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   g,
			Properties: props,
		})
	}

	return fc, nil
}

// ToCSV converts identify results to CSV. Columns are the map layer id, the
// sub-layer name, the display value, every attribute seen (sorted) and WKT
// geometry last.
func ToCSV(res *identify.Results) (string, error) {
	rs := rows(res)
	if len(rs) == 0 {
		return "", nil
	}

	headerMap := make(map[string]bool)
	for _, rw := range rs {
		for k := range rw.result.Feature.Attributes {
			headerMap[k] = true
		}
	}
	var attrHeaders []string
	for k := range headerMap {
		attrHeaders = append(attrHeaders, k)
	}
	sort.Strings(attrHeaders)

	headers := append([]string{ColumnLayerID, ColumnLayerName, ColumnValue}, attrHeaders...)
	headers = append(headers, ColumnWKT)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return "", eris.Wrap(err, "failed to write CSV header")
	}

	for _, rw := range rs {
		wkt, err := utils.GeometryToWKT(rw.result.Feature.Geometry)
		if err != nil {
			return "", eris.Wrapf(err, "layer %s: convert geometry", rw.layerID)
		}
		record := make([]string, 0, len(headers))
		record = append(record, rw.layerID, rw.result.LayerName, rw.result.Value)
		for _, h := range attrHeaders {
			if v, ok := rw.result.Feature.Attributes[h]; ok && v != nil {
				record = append(record, fmt.Sprintf("%v", v))
			} else {
				record = append(record, "")
			}
		}
		record = append(record, wkt)
		if err := w.Write(record); err != nil {
			return "", eris.Wrap(err, "failed to write row to CSV")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrap(err, "error during CSV writing")
	}
	return buf.String(), nil
}

// ToText renders identify results for a terminal, grouped by map layer.
// Failed layers are listed with their error.
func ToText(res *identify.Results) (string, error) {
	if res == nil {
		return "", eris.New("no results to convert to text")
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("Identify #%d\n", res.Seq))
	output.WriteString(fmt.Sprintf("Layers: %d\n", len(res.Layers)))
	output.WriteString("========================================\n\n")

	for _, id := range res.LayerIDs() {
		lr := res.Layers[id]
		output.WriteString(fmt.Sprintf("Layer: %s\n", id))
		if lr.Err != nil {
			output.WriteString(fmt.Sprintf("  Error: %v\n\n", lr.Err))
			continue
		}
		output.WriteString(fmt.Sprintf("Total Features: %d\n", len(lr.Results)))

		for i, r := range lr.Results {
			output.WriteString(fmt.Sprintf("--- Feature %d (%s) ---\n", i+1, r.LayerName))

			var keys []string
			for k := range r.Feature.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			output.WriteString("Attributes:\n")
			for _, k := range keys {
				output.WriteString(fmt.Sprintf("  %s: %v\n", k, r.Feature.Attributes[k]))
			}

			output.WriteString("Geometry (WKT):\n")
			wkt, err := utils.GeometryToWKT(r.Feature.Geometry)
			switch {
			case err != nil:
				output.WriteString(fmt.Sprintf("  <Invalid Geometry: %v>\n", err))
			case wkt == "":
				output.WriteString("  <No Geometry>\n")
			default:
				output.WriteString(fmt.Sprintf("  %s\n", wkt))
			}
			output.WriteString("\n")
		}
	}

	return output.String(), nil
}
