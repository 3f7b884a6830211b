package export

import (
	"bytes"
	"encoding/xml"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

const gpxNamespace = "http://www.topografix.com/GPX/1/1"

type gpxDocument struct {
	XMLName   xml.Name      `xml:"gpx"`
	Version   string        `xml:"version,attr"`
	Creator   string        `xml:"creator,attr"`
	XMLNS     string        `xml:"xmlns,attr"`
	Metadata  gpxMetadata   `xml:"metadata"`
	Waypoints []gpxWaypoint `xml:"wpt"`
	Tracks    []gpxTrack    `xml:"trk"`
}

type gpxMetadata struct {
	Name string `xml:"name"`
}

type gpxWaypoint struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Name string  `xml:"name,omitempty"`
	Desc string  `xml:"desc,omitempty"`
}

type gpxTrack struct {
	Name     string       `xml:"name,omitempty"`
	Desc     string       `xml:"desc,omitempty"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
}

// ToGPX renders results as GPX 1.1. Points become waypoints, lines become
// tracks and polygon outer rings become tracks named "<name> (Boundary)".
// Holes are dropped.
func ToGPX(res *identify.Results, docName string) (string, error) {
	fs, err := features(res)
	if err != nil {
		return "", err
	}

	doc := gpxDocument{
		Version:  "1.1",
		Creator:  "geoportal-identify",
		XMLNS:    gpxNamespace,
		Metadata: gpxMetadata{Name: docName},
	}

	for _, f := range fs {
		flat, err := lonLat(f.geom)
		if err != nil {
			return "", eris.Wrapf(err, "layer %s", f.layerID)
		}
		stride := f.geom.Stride()
		name := featureName(f.result)
		desc := formatProperties(f.result.Feature.Attributes, "\n")

		switch g := f.geom.(type) {
		case *geom.Point, *geom.MultiPoint:
			for i := 0; i+1 < len(flat); i += stride {
				doc.Waypoints = append(doc.Waypoints, gpxWaypoint{Lat: flat[i+1], Lon: flat[i], Name: name, Desc: desc})
			}
		case *geom.LineString:
			doc.Tracks = append(doc.Tracks, gpxTrack{Name: name, Desc: desc, Segments: []gpxSegment{segment(flat, 0, len(flat), stride)}})
		case *geom.MultiLineString:
			trk := gpxTrack{Name: name, Desc: desc}
			offset := 0
			for _, end := range g.Ends() {
				trk.Segments = append(trk.Segments, segment(flat, offset, end, stride))
				offset = end
			}
			doc.Tracks = append(doc.Tracks, trk)
		case *geom.Polygon:
			trk := gpxTrack{Name: name + " (Boundary)", Desc: desc}
			if ends := g.Ends(); len(ends) > 0 {
				trk.Segments = append(trk.Segments, segment(flat, 0, ends[0], stride))
			}
			doc.Tracks = append(doc.Tracks, trk)
		case *geom.MultiPolygon:
			trk := gpxTrack{Name: name + " (Boundary)", Desc: desc}
			offset := 0
			for _, ends := range g.Endss() {
				if len(ends) == 0 {
					continue
				}
				trk.Segments = append(trk.Segments, segment(flat, offset, ends[0], stride))
				offset = ends[len(ends)-1]
			}
			doc.Tracks = append(doc.Tracks, trk)
		default:
			return "", eris.Errorf("layer %s: unsupported geometry type %T", f.layerID, g)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", eris.Wrap(err, "failed to write GPX")
	}
	buf.WriteString("\n")
	return buf.String(), nil
}

func segment(flat []float64, offset, end, stride int) gpxSegment {
	seg := gpxSegment{Points: make([]gpxPoint, 0, (end-offset)/stride)}
	for i := offset; i < end; i += stride {
		seg.Points = append(seg.Points, gpxPoint{Lat: flat[i+1], Lon: flat[i]})
	}
	return seg
}
