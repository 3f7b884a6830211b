package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

const (
	dbfNameLen  = 10
	dbfValueLen = 254
)

// shapeSuffixes names the file written for each shape type, in write order.
var shapeSuffixes = []struct {
	typ    shp.ShapeType
	suffix string
}{
	{shp.POINT, "point"},
	{shp.MULTIPOINT, "multipoint"},
	{shp.POLYLINE, "polyline"},
	{shp.POLYGON, "polygon"},
}

type shapeRecord struct {
	feature
	shape shp.Shape
}

// WriteShapefiles writes results to dir as one shapefile per shape type,
// named <base>_point, <base>_multipoint, <base>_polyline and <base>_polygon.
// Only types that occur are written. Each record carries the map layer id,
// sub-layer name, display value and every attribute as text. Coordinates stay
// in the service's spatial reference. It returns the .shp paths written.
func WriteShapefiles(res *identify.Results, dir, base string) ([]string, error) {
	fs, err := features(res)
	if err != nil {
		return nil, err
	}

	groups := make(map[shp.ShapeType][]shapeRecord)
	for _, f := range fs {
		s, typ, err := toShape(f.geom)
		if err != nil {
			return nil, eris.Wrapf(err, "layer %s", f.layerID)
		}
		groups[typ] = append(groups[typ], shapeRecord{feature: f, shape: s})
	}

	var paths []string
	for _, ss := range shapeSuffixes {
		recs := groups[ss.typ]
		if len(recs) == 0 {
			continue
		}
		path := filepath.Join(dir, base+"_"+ss.suffix+".shp")
		if err := writeShapefile(path, ss.typ, recs); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ShapefilePaths returns the .shp paths WriteShapefiles may create for base.
func ShapefilePaths(dir, base string) []string {
	paths := make([]string, 0, len(shapeSuffixes))
	for _, ss := range shapeSuffixes {
		paths = append(paths, filepath.Join(dir, base+"_"+ss.suffix+".shp"))
	}
	return paths
}

func writeShapefile(path string, typ shp.ShapeType, recs []shapeRecord) error {
	w, err := shp.Create(path, typ)
	if err != nil {
		return eris.Wrapf(err, "create shapefile %s", path)
	}

	var attrKeys []string
	seen := make(map[string]bool)
	for _, r := range recs {
		for k := range r.result.Feature.Attributes {
			if !seen[k] {
				seen[k] = true
				attrKeys = append(attrKeys, k)
			}
		}
	}
	sort.Strings(attrKeys)

	names := dbfFieldNames(append([]string{"LAYER_ID", "LAYER_NAME", "VALUE"}, attrKeys...))
	fields := make([]shp.Field, len(names))
	for i, name := range names {
		fields[i] = shp.StringField(name, dbfValueLen)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return eris.Wrapf(err, "set fields of %s", path)
	}

	for _, r := range recs {
		row := int(w.Write(r.shape))
		values := []string{r.layerID, r.result.LayerName, r.result.Value}
		for _, k := range attrKeys {
			v := r.result.Feature.Attributes[k]
			if v == nil {
				values = append(values, "")
				continue
			}
			values = append(values, fmt.Sprintf("%v", v))
		}
		for i, v := range values {
			if err := w.WriteAttribute(row, i, truncate(v, dbfValueLen)); err != nil {
				w.Close()
				return eris.Wrapf(err, "write attribute %s of %s", names[i], path)
			}
		}
	}
	w.Close()

	// The writer names the table <base>dbf.
	stem := strings.TrimSuffix(path, ".shp")
	if _, err := os.Stat(stem + "dbf"); err == nil {
		if err := os.Rename(stem+"dbf", stem+".dbf"); err != nil {
			return eris.Wrapf(err, "rename table of %s", path)
		}
	}
	return nil
}

// dbfFieldNames truncates names to the DBF limit and numbers duplicates.
func dbfFieldNames(keys []string) []string {
	used := make(map[string]bool, len(keys))
	out := make([]string, len(keys))
	for i, k := range keys {
		name := truncate(k, dbfNameLen)
		for n := 1; used[name]; n++ {
			suffix := fmt.Sprintf("_%d", n)
			name = truncate(k, dbfNameLen-len(suffix)) + suffix
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func toShape(g geom.T) (shp.Shape, shp.ShapeType, error) {
	flat := g.FlatCoords()
	stride := g.Stride()

	switch g := g.(type) {
	case *geom.Point:
		return &shp.Point{X: flat[0], Y: flat[1]}, shp.POINT, nil
	case *geom.MultiPoint:
		pts := shpPoints(flat, 0, len(flat), stride)
		return &shp.MultiPoint{Box: shp.BBoxFromPoints(pts), NumPoints: int32(len(pts)), Points: pts}, shp.MULTIPOINT, nil
	case *geom.LineString:
		return shp.NewPolyLine([][]shp.Point{shpPoints(flat, 0, len(flat), stride)}), shp.POLYLINE, nil
	case *geom.MultiLineString:
		return shp.NewPolyLine(shpParts(flat, 0, g.Ends(), stride)), shp.POLYLINE, nil
	case *geom.Polygon:
		p := shp.Polygon(*shp.NewPolyLine(shpParts(flat, 0, g.Ends(), stride)))
		return &p, shp.POLYGON, nil
	case *geom.MultiPolygon:
		var rings [][]shp.Point
		offset := 0
		for _, ends := range g.Endss() {
			rings = append(rings, shpParts(flat, offset, ends, stride)...)
			if len(ends) > 0 {
				offset = ends[len(ends)-1]
			}
		}
		p := shp.Polygon(*shp.NewPolyLine(rings))
		return &p, shp.POLYGON, nil
	}
	return nil, shp.NULL, eris.Errorf("unsupported geometry type %T", g)
}

func shpParts(flat []float64, offset int, ends []int, stride int) [][]shp.Point {
	parts := make([][]shp.Point, 0, len(ends))
	for _, end := range ends {
		parts = append(parts, shpPoints(flat, offset, end, stride))
		offset = end
	}
	return parts
}

func shpPoints(flat []float64, offset, end, stride int) []shp.Point {
	pts := make([]shp.Point, 0, (end-offset)/stride)
	for i := offset; i < end; i += stride {
		pts = append(pts, shp.Point{X: flat[i], Y: flat[i+1]})
	}
	return pts
}
