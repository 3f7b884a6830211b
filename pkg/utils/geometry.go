package utils

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// esriGeometry is the union of the ArcGIS JSON geometry shapes.
type esriGeometry struct {
	X      *float64      `json:"x"`
	Y      *float64      `json:"y"`
	Points [][]float64   `json:"points"`
	Paths  [][][]float64 `json:"paths"`
	Rings  [][][]float64 `json:"rings"`
	XMin   *float64      `json:"xmin"`
	YMin   *float64      `json:"ymin"`
	XMax   *float64      `json:"xmax"`
	YMax   *float64      `json:"ymax"`

	SpatialReference *struct {
		WKID       int `json:"wkid"`
		LatestWKID int `json:"latestWkid"`
	} `json:"spatialReference"`
}

func (g *esriGeometry) srid() int {
	if g.SpatialReference == nil {
		return 0
	}
	if g.SpatialReference.LatestWKID != 0 {
		return g.SpatialReference.LatestWKID
	}
	return g.SpatialReference.WKID
}

// ParseGeometry converts an ArcGIS JSON geometry (point, multipoint, polyline,
// polygon or envelope) to a go-geom geometry. A missing or null geometry
// returns nil without error.
func ParseGeometry(raw json.RawMessage) (geom.T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var g esriGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(err, "decode arcgis geometry")
	}
	srid := g.srid()

	switch {
	case g.X != nil && g.Y != nil:
		return geom.NewPointFlat(geom.XY, []float64{*g.X, *g.Y}).SetSRID(srid), nil

	case g.XMin != nil && g.YMin != nil && g.XMax != nil && g.YMax != nil:
		ring := geom.NewLinearRingFlat(geom.XY, []float64{
			*g.XMin, *g.YMin,
			*g.XMax, *g.YMin,
			*g.XMax, *g.YMax,
			*g.XMin, *g.YMax,
			*g.XMin, *g.YMin,
		})
		p := geom.NewPolygon(geom.XY)
		if err := p.Push(ring); err != nil {
			return nil, eris.Wrap(err, "build envelope")
		}
		return p.SetSRID(srid), nil

	case len(g.Points) > 0:
		mp := geom.NewMultiPoint(geom.XY)
		for _, pt := range g.Points {
			if len(pt) < 2 {
				return nil, eris.New("multipoint coordinate has fewer than two ordinates")
			}
			if err := mp.Push(geom.NewPointFlat(geom.XY, pt[:2])); err != nil {
				return nil, eris.Wrap(err, "build multipoint")
			}
		}
		return mp.SetSRID(srid), nil

	case len(g.Paths) > 0:
		return polyline(g.Paths, srid)

	case len(g.Rings) > 0:
		return polygon(g.Rings, srid)
	}

	return nil, eris.Errorf("unrecognized arcgis geometry %s", truncate(string(raw), 64))
}

func polyline(paths [][][]float64, srid int) (geom.T, error) {
	var lines []*geom.LineString
	for _, path := range paths {
		flat, err := flatten(path)
		if err != nil {
			return nil, err
		}
		if len(flat) < 4 {
			continue
		}
		lines = append(lines, geom.NewLineStringFlat(geom.XY, flat))
	}
	switch len(lines) {
	case 0:
		return nil, eris.New("polyline has no paths with two or more vertices")
	case 1:
		return lines[0].SetSRID(srid), nil
	}
	mls := geom.NewMultiLineString(geom.XY)
	for _, ls := range lines {
		if err := mls.Push(ls); err != nil {
			return nil, eris.Wrap(err, "build multilinestring")
		}
	}
	return mls.SetSRID(srid), nil
}

// polygon groups ArcGIS rings into polygons: clockwise rings are shells and
// counter-clockwise rings are holes of the preceding shell.
func polygon(rings [][][]float64, srid int) (geom.T, error) {
	var polys []*geom.Polygon
	for _, ring := range rings {
		flat, err := flatten(ring)
		if err != nil {
			return nil, err
		}
		if len(flat) < 6 {
			continue
		}
		n := len(flat)
		if flat[0] != flat[n-2] || flat[1] != flat[n-1] {
			flat = append(flat, flat[0], flat[1])
		}
		lr := geom.NewLinearRingFlat(geom.XY, flat)

		if len(polys) == 0 || signedArea(flat) < 0 {
			polys = append(polys, geom.NewPolygon(geom.XY))
		}
		if err := polys[len(polys)-1].Push(lr); err != nil {
			return nil, eris.Wrap(err, "build polygon")
		}
	}
	switch len(polys) {
	case 0:
		return nil, eris.New("polygon has no rings with three or more vertices")
	case 1:
		return polys[0].SetSRID(srid), nil
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		if err := mp.Push(p); err != nil {
			return nil, eris.Wrap(err, "build multipolygon")
		}
	}
	return mp.SetSRID(srid), nil
}

func flatten(coords [][]float64) ([]float64, error) {
	flat := make([]float64, 0, 2*len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			return nil, eris.New("coordinate has fewer than two ordinates")
		}
		flat = append(flat, c[0], c[1])
	}
	return flat, nil
}

// signedArea is negative for clockwise rings.
func signedArea(flat []float64) float64 {
	var sum float64
	for i := 0; i+3 < len(flat); i += 2 {
		sum += flat[i]*flat[i+3] - flat[i+2]*flat[i+1]
	}
	return sum / 2
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// GeometryToWKT converts an ArcGIS JSON geometry to WKT. An absent geometry
// yields an empty string.
func GeometryToWKT(raw json.RawMessage) (string, error) {
	g, err := ParseGeometry(raw)
	if err != nil {
		return "", err
	}
	if g == nil {
		return "", nil
	}
	return wkt.Marshal(g)
}
