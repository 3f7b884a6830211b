// Copyright (c) 2025 Sudo-Ivan
// Licensed under the MIT License

// Package export writes identify results as KML or GPX. Both formats carry
// WGS84 coordinates; Web Mercator geometries are reprojected.
package export

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/utils"
)

const (
	earthRadius = 6378137.0
	wgs84       = 4326
)

// webMercator lists the well-known ids of spherical Web Mercator.
var webMercator = map[int]bool{3857: true, 102100: true, 102113: true, 900913: true}

// nameKeys are tried in order when a result has no display value.
var nameKeys = []string{"name", "Name", "NAME", "title", "Title", "TITLE", "OBJECTID", "FID"}

// feature is one result with a parsed geometry.
type feature struct {
	layerID string
	result  identify.Result
	geom    geom.T
}

// features parses the geometries of every successful result, by layer id.
// Results without geometry are skipped.
func features(res *identify.Results) ([]feature, error) {
	if res == nil {
		return nil, eris.New("no results to export")
	}
	var out []feature
	for _, id := range res.LayerIDs() {
		lr := res.Layers[id]
		if lr.Err != nil {
			continue
		}
		for _, r := range lr.Results {
			g, err := utils.ParseGeometry(r.Feature.Geometry)
			if err != nil {
				return nil, eris.Wrapf(err, "layer %s: convert geometry", id)
			}
			if g == nil {
				continue
			}
			out = append(out, feature{layerID: id, result: r, geom: g})
		}
	}
	return out, nil
}

// lonLat returns a copy of g's flat coordinates in WGS84.
func lonLat(g geom.T) ([]float64, error) {
	src := g.FlatCoords()
	flat := make([]float64, len(src))
	copy(flat, src)

	srid := g.SRID()
	switch {
	case srid == 0 || srid == wgs84:
		return flat, nil
	case webMercator[srid]:
		stride := g.Stride()
		for i := 0; i+1 < len(flat); i += stride {
			flat[i], flat[i+1] = mercatorToLonLat(flat[i], flat[i+1])
		}
		return flat, nil
	}
	return nil, eris.Errorf("unsupported spatial reference %d", srid)
}

func mercatorToLonLat(x, y float64) (float64, float64) {
	lon := x / earthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

// featureName picks a label for a result.
func featureName(r identify.Result) string {
	if r.Value != "" {
		return r.Value
	}
	for _, key := range nameKeys {
		if val, ok := r.Feature.Attributes[key]; ok && val != nil {
			return fmt.Sprintf("%v", val)
		}
	}
	return "Feature"
}

// formatProperties formats attributes as "<strong>key</strong>: value" pairs
// in key order. A "geometry" attribute is skipped.
func formatProperties(props map[string]any, separator ...string) string {
	sep := "<br>"
	if len(separator) > 0 {
		sep = separator[0]
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		if k == "geometry" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("<strong>%s</strong>: %s", escapeXML(k), escapeXML(fmt.Sprintf("%v", props[k]))))
	}
	return strings.Join(parts, sep)
}

// escapeXML escapes XML special characters in a string.
func escapeXML(s string) string {
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
		"/", "&#x2F;",
	).Replace(s)
}
