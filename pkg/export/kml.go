package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-kml"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

// ToKML renders results as a KML document with one folder per map layer.
// Each feature becomes a placemark whose description lists its attributes.
func ToKML(res *identify.Results, docName string) (string, error) {
	fs, err := features(res)
	if err != nil {
		return "", err
	}

	folders := make(map[string]*kml.CompoundElement)
	var order []string
	for _, f := range fs {
		g, err := kmlGeometry(f.geom)
		if err != nil {
			return "", eris.Wrapf(err, "layer %s", f.layerID)
		}
		pm := kml.Placemark(
			kml.Name(featureName(f.result)),
			kml.Description(formatProperties(f.result.Feature.Attributes)),
			extendedData(f.result.Feature.Attributes),
			g,
		)
		folder, ok := folders[f.layerID]
		if !ok {
			folder = kml.Folder(kml.Name(f.layerID))
			folders[f.layerID] = folder
			order = append(order, f.layerID)
		}
		folder.Add(pm)
	}

	children := []kml.Element{kml.Name(docName)}
	for _, id := range order {
		children = append(children, folders[id])
	}

	var buf bytes.Buffer
	if err := kml.KML(kml.Document(children...)).WriteIndent(&buf, "", "  "); err != nil {
		return "", eris.Wrap(err, "failed to write KML")
	}
	return buf.String(), nil
}

func extendedData(attrs map[string]any) kml.Element {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := make([]kml.Element, 0, len(keys))
	for _, k := range keys {
		d := kml.Data(kml.Value(fmt.Sprintf("%v", attrs[k])))
		d.Attr = append(d.Attr, xml.Attr{Name: xml.Name{Local: "name"}, Value: k})
		data = append(data, d)
	}
	return kml.ExtendedData(data...)
}

func kmlGeometry(g geom.T) (kml.Element, error) {
	flat, err := lonLat(g)
	if err != nil {
		return nil, err
	}
	stride := g.Stride()

	switch g := g.(type) {
	case *geom.Point:
		return kml.Point(kml.CoordinatesFlat(flat, 0, len(flat), stride, 2)), nil
	case *geom.MultiPoint:
		points := make([]kml.Element, 0, g.NumPoints())
		for offset := 0; offset < len(flat); offset += stride {
			points = append(points, kml.Point(kml.CoordinatesFlat(flat, offset, offset+stride, stride, 2)))
		}
		return kml.MultiGeometry(points...), nil
	case *geom.LineString:
		return kml.LineString(kml.CoordinatesFlat(flat, 0, len(flat), stride, 2)), nil
	case *geom.MultiLineString:
		lines := make([]kml.Element, 0, g.NumLineStrings())
		offset := 0
		for _, end := range g.Ends() {
			lines = append(lines, kml.LineString(kml.CoordinatesFlat(flat, offset, end, stride, 2)))
			offset = end
		}
		return kml.MultiGeometry(lines...), nil
	case *geom.Polygon:
		return kmlPolygon(flat, 0, g.Ends(), stride), nil
	case *geom.MultiPolygon:
		polygons := make([]kml.Element, 0, g.NumPolygons())
		offset := 0
		for _, ends := range g.Endss() {
			polygons = append(polygons, kmlPolygon(flat, offset, ends, stride))
			if len(ends) > 0 {
				offset = ends[len(ends)-1]
			}
		}
		return kml.MultiGeometry(polygons...), nil
	}
	return nil, eris.Errorf("unsupported geometry type %T", g)
}

func kmlPolygon(flat []float64, offset int, ends []int, stride int) kml.Element {
	boundaries := make([]kml.Element, 0, len(ends))
	for i, end := range ends {
		ring := kml.LinearRing(kml.CoordinatesFlat(flat, offset, end, stride, 2))
		if i == 0 {
			boundaries = append(boundaries, kml.OuterBoundaryIs(ring))
		} else {
			boundaries = append(boundaries, kml.InnerBoundaryIs(ring))
		}
		offset = end
	}
	return kml.Polygon(boundaries...)
}
