package identify

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/WSDOT-GIS/geoportal-identify/internal/arcgistest"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
)

var testExtent = arcgis.Envelope{
	XMin: -13700000, YMin: 5900000, XMax: -13500000, YMax: 6100000,
	SpatialReference: &arcgis.SpatialReference{WKID: 3857},
}

var testPoint = arcgis.Point{X: -13600000, Y: 6000000, SpatialReference: &arcgis.SpatialReference{WKID: 3857}}

func newTestClient() *arcgis.Client {
	return arcgis.NewClient(5*time.Second, arcgis.WithRetry(arcgis.RetryConfig{MaxAttempts: 1}))
}

func newFake(t *testing.T) *arcgistest.Server {
	t.Helper()
	srv := arcgistest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

func subLayer(id int, name string) arcgis.LayerInfo {
	return arcgis.LayerInfo{
		ID:            id,
		Name:          name,
		Type:          "Feature Layer",
		GeometryType:  "esriGeometryPoint",
		DisplayField:  "NAME",
		HTMLPopupType: arcgis.HTMLPopupNone,
		Fields: []arcgis.Field{
			{Name: "OBJECTID", Alias: "OBJECTID", Type: arcgis.FieldTypeOID},
			{Name: "NAME", Alias: "Name", Type: "esriFieldTypeString", Length: 50},
		},
	}
}

func groupLayer(id int, name string, children ...int) arcgis.LayerInfo {
	return arcgis.LayerInfo{ID: id, Name: name, Type: "Group Layer", SubLayerIDs: children}
}

func hit(layerID int, name string) arcgis.IdentifyResult {
	return arcgis.IdentifyResult{
		LayerID:          layerID,
		LayerName:        "layer " + strconv.Itoa(layerID),
		Value:            name,
		DisplayFieldName: "NAME",
		Attributes:       map[string]any{"OBJECTID": float64(layerID*100 + 1), "NAME": name},
		Geometry:         json.RawMessage(`{"x":-13600000,"y":6000000}`),
	}
}

func snapshot(layers ...Layer) Snapshot {
	return Snapshot{
		Layers:      layers,
		Bounds:      testExtent,
		PixelWidth:  1024,
		PixelHeight: 768,
		MapScale:    50000,
	}
}

// countingRecorder tallies recorder events.
type countingRecorder struct {
	mu      sync.Mutex
	layers  map[string]int
	lookups map[string]int
	ops     int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{layers: map[string]int{}, lookups: map[string]int{}}
}

func (r *countingRecorder) lock()   { r.mu.Lock() }
func (r *countingRecorder) unlock() { r.mu.Unlock() }

func (r *countingRecorder) IdentifyCompleted(JoinMode, time.Duration, error) {
	r.lock()
	defer r.unlock()
	r.ops++
}

func (r *countingRecorder) LayerCompleted(outcome string) {
	r.lock()
	defer r.unlock()
	r.layers[outcome]++
}

func (r *countingRecorder) MetadataLookup(outcome string) {
	r.lock()
	defer r.unlock()
	r.lookups[outcome]++
}

func (r *countingRecorder) lookup(outcome string) int {
	r.lock()
	defer r.unlock()
	return r.lookups[outcome]
}

func (r *countingRecorder) layer(outcome string) int {
	r.lock()
	defer r.unlock()
	return r.layers[outcome]
}
