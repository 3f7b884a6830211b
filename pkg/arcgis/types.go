package arcgis

import (
	"encoding/json"
	"fmt"
)

// Field types and popup types reported by ArcGIS layer metadata.
const (
	FieldTypeOID = "esriFieldTypeOID"

	HTMLPopupNone       = "esriServerHTMLPopupTypeNone"
	HTMLPopupAsHTMLText = "esriServerHTMLPopupTypeAsHTMLText"
	HTMLPopupAsURL      = "esriServerHTMLPopupTypeAsURL"
)

// ServiceError is the {"error": {...}} envelope ArcGIS returns with a 200 status.
type ServiceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *ServiceError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("arcgis error %d: %s (%v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
}

// errorEnvelope is embedded-decoded alongside every JSON response.
type errorEnvelope struct {
	Error *ServiceError `json:"error"`
}

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID       int `json:"wkid,omitempty"`
	LatestWKID int `json:"latestWkid,omitempty"`
}

// Geometry is a query geometry that can be sent to an identify endpoint.
type Geometry interface {
	GeometryType() string
}

// Point is an ArcGIS JSON point.
type Point struct {
	X                float64           `json:"x"`
	Y                float64           `json:"y"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// GeometryType implements Geometry.
func (Point) GeometryType() string { return "esriGeometryPoint" }

// Envelope is an ArcGIS JSON extent.
type Envelope struct {
	XMin             float64           `json:"xmin"`
	YMin             float64           `json:"ymin"`
	XMax             float64           `json:"xmax"`
	YMax             float64           `json:"ymax"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// GeometryType implements Geometry.
func (Envelope) GeometryType() string { return "esriGeometryEnvelope" }

// Field describes one attribute column of a layer.
type Field struct {
	Name   string `json:"name"`
	Alias  string `json:"alias"`
	Type   string `json:"type"`
	Length int    `json:"length,omitempty"`
}

// LayerInfo is the schema of a single (sub-)layer, from `<layerUrl>?f=json`.
// URL is not part of the response; the client fills it with the requested URL.
type LayerInfo struct {
	URL           string  `json:"-"`
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	GeometryType  string  `json:"geometryType"`
	DisplayField  string  `json:"displayField"`
	Fields        []Field `json:"fields"`
	HTMLPopupType string  `json:"htmlPopupType"`
	SubLayerIDs   []int   `json:"-"`
	MinScale      float64 `json:"minScale"`
	MaxScale      float64 `json:"maxScale"`
}

// UnmarshalJSON accepts subLayers either as id lists or as {id,name} objects,
// the two shapes returned by MapServer and FeatureServer respectively.
func (l *LayerInfo) UnmarshalJSON(data []byte) error {
	type plain LayerInfo
	aux := struct {
		*plain
		SubLayers   []json.RawMessage `json:"subLayers"`
		SubLayerIDs []int             `json:"subLayerIds"`
	}{plain: (*plain)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	l.SubLayerIDs = aux.SubLayerIDs
	for _, raw := range aux.SubLayers {
		var ref struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			var id int
			if err := json.Unmarshal(raw, &id); err != nil {
				return err
			}
			ref.ID = id
		}
		l.SubLayerIDs = append(l.SubLayerIDs, ref.ID)
	}
	return nil
}

// IsGroup reports whether the layer only groups other layers and has no schema of its own.
func (l *LayerInfo) IsGroup() bool {
	return l.Type == "Group Layer" || len(l.SubLayerIDs) > 0
}

// ObjectIDField returns the field typed as the object identifier, if any.
func (l *LayerInfo) ObjectIDField() (Field, bool) {
	for _, f := range l.Fields {
		if f.Type == FieldTypeOID {
			return f, true
		}
	}
	return Field{}, false
}

// ServiceLayer is one entry of a map service's layer list.
type ServiceLayer struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	ParentLayerID int     `json:"parentLayerId"`
	SubLayerIDs   []int   `json:"subLayerIds"`
	MinScale      float64 `json:"minScale"`
	MaxScale      float64 `json:"maxScale"`
}

// IsGroup reports whether the service layer is a group layer.
func (l ServiceLayer) IsGroup() bool {
	return len(l.SubLayerIDs) > 0 || l.Type == "Group Layer"
}

// ServiceInfo is the metadata of a MapServer or FeatureServer root.
type ServiceInfo struct {
	CurrentVersion float64        `json:"currentVersion"`
	MapName        string         `json:"mapName"`
	Description    string         `json:"serviceDescription"`
	Layers         []ServiceLayer `json:"layers"`
	Tables         []ServiceLayer `json:"tables"`
}

// IdentifyResult is one raw match returned by an identify endpoint.
type IdentifyResult struct {
	LayerID          int             `json:"layerId"`
	LayerName        string          `json:"layerName"`
	Value            string          `json:"value"`
	DisplayFieldName string          `json:"displayFieldName"`
	GeometryType     string          `json:"geometryType"`
	Attributes       map[string]any  `json:"attributes"`
	Geometry         json.RawMessage `json:"geometry"`
}

// identifyResponse is the documented `{"results": [...]}` response shape.
type identifyResponse struct {
	Results []IdentifyResult `json:"results"`
	Error   *ServiceError    `json:"error"`
}

// htmlPopupResponse is returned by `htmlPopup?f=json`.
type htmlPopupResponse struct {
	HTMLPopupType string        `json:"htmlPopupType"`
	Content       string        `json:"content"`
	Error         *ServiceError `json:"error"`
}
