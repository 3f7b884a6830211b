package mapconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

const sampleMap = `
extent: {xmin: -13700000, ymin: 5700000, xmax: -13600000, ymax: 5800000, wkid: 3857}
width: 1024
height: 768
scale: 72000
layers:
  - id: mileposts
    url: https://example.com/arcgis/rest/services/Mileposts/MapServer
    type: ArcGISDynamicMapServiceLayer
    subLayers:
      - {id: "0", type: dynamic}
      - {id: "1", type: group}
  - id: traffic
    url: https://example.com/arcgis/rest/services/Traffic/FeatureServer/3
    type: feature
    visible: false
    minScale: 100000
  - id: overlays
    type: group
    subLayers:
      - id: cameras
        url: https://example.com/arcgis/rest/services/Cameras/MapServer
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleMap))
	require.NoError(t, err)

	s := f.Snapshot()
	assert.Equal(t, 1024, s.PixelWidth)
	assert.Equal(t, 768, s.PixelHeight)
	assert.InDelta(t, 72000, s.MapScale, 0)
	require.NotNil(t, s.Bounds.SpatialReference)
	assert.Equal(t, 3857, s.Bounds.SpatialReference.WKID)

	require.Len(t, s.Layers, 3)
	mp := s.Layers[0]
	assert.Equal(t, identify.KindDynamic, mp.Kind)
	assert.True(t, mp.Visible)
	require.Len(t, mp.SubLayers, 2)
	assert.Equal(t, identify.KindGroup, mp.SubLayers[1].Kind)

	traffic := s.Layers[1]
	assert.Equal(t, identify.KindFeature, traffic.Kind)
	assert.False(t, traffic.Visible)
	assert.InDelta(t, 100000, traffic.MinScale, 0)

	group := s.Layers[2]
	assert.Equal(t, identify.KindGroup, group.Kind)
	require.Len(t, group.SubLayers, 1)
	assert.Equal(t, "cameras", group.SubLayers[0].ID)
	assert.Equal(t, identify.KindUnknown, group.SubLayers[0].Kind)
}

func TestParse_JSON(t *testing.T) {
	doc := `{"extent": {"xmin": 0, "ymin": 0, "xmax": 10, "ymax": 10}, "width": 100, "height": 100, ` +
		`"layers": [{"id": "a", "url": "https://h/arcgis/rest/services/A/MapServer"}]}`
	f, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Len(t, f.Snapshot().Layers, 1)
	assert.Nil(t, f.Snapshot().Bounds.SpatialReference)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad extent", `{extent: {xmin: 1, ymin: 0, xmax: 0, ymax: 1}, width: 1, height: 1}`},
		{"no size", `{extent: {xmin: 0, ymin: 0, xmax: 1, ymax: 1}}`},
		{"unknown type", `{extent: {xmin: 0, ymin: 0, xmax: 1, ymax: 1}, width: 1, height: 1, layers: [{id: a, url: u, type: wms}]}`},
		{"missing id", `{extent: {xmin: 0, ymin: 0, xmax: 1, ymax: 1}, width: 1, height: 1, layers: [{url: u}]}`},
		{"missing url", `{extent: {xmin: 0, ymin: 0, xmax: 1, ymax: 1}, width: 1, height: 1, layers: [{id: a}]}`},
		{"duplicate id", `{extent: {xmin: 0, ymin: 0, xmax: 1, ymax: 1}, width: 1, height: 1, layers: [{id: a, url: u}, {id: g, type: group, subLayers: [{id: a, url: v}]}]}`},
		{"relative url", `{extent: {xmin: 0, ymin: 0, xmax: 1, ymax: 1}, width: 1, height: 1, layers: [{id: a, url: "example.com/arcgis/rest/services/A/MapServer"}]}`},
		{"ftp url", `{extent: {xmin: 0, ymin: 0, xmax: 1, ymax: 1}, width: 1, height: 1, layers: [{id: a, url: "ftp://example.com/arcgis/rest/services/A/MapServer"}]}`},
		{"bad sub-layer url", `{extent: {xmin: 0, ymin: 0, xmax: 1, ymax: 1}, width: 1, height: 1, layers: [{id: g, type: group, subLayers: [{id: a, url: "file:///etc/passwd"}]}]}`},
		{"not yaml", `layers: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMap), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Layers, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWithView(t *testing.T) {
	f, err := Parse([]byte(sampleMap))
	require.NoError(t, err)

	s, err := f.WithView(View{
		Extent:  &Extent{XMin: 0, YMin: 0, XMax: 5, YMax: 5},
		Width:   640,
		Scale:   24000,
		Visible: map[string]bool{"traffic": true, "cameras": false},
	})
	require.NoError(t, err)
	assert.InDelta(t, 5, s.Bounds.XMax, 0)
	assert.Equal(t, 640, s.PixelWidth)
	assert.Equal(t, 768, s.PixelHeight)
	assert.InDelta(t, 24000, s.MapScale, 0)
	assert.True(t, s.Layers[1].Visible)
	assert.False(t, s.Layers[2].SubLayers[0].Visible)

	// the file itself is unchanged
	assert.False(t, f.Snapshot().Layers[1].Visible)
	assert.True(t, f.Snapshot().Layers[2].SubLayers[0].Visible)

	_, err = f.WithView(View{Extent: &Extent{XMin: 1, XMax: 0}})
	assert.Error(t, err)
	_, err = f.WithView(View{Width: -1})
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMap), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *File, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 10*time.Millisecond, func(f *File) {
			select {
			case changes <- f:
			default:
			}
		})
	}()

	updated := `{extent: {xmin: 0, ymin: 0, xmax: 10, ymax: 10}, width: 100, height: 100, ` +
		`layers: [{id: only, url: "https://h/arcgis/rest/services/A/MapServer"}]}`
	var got *File
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(updated), 0o644)
		select {
		case got = <-changes:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	layers := got.Snapshot().Layers
	require.Len(t, layers, 1)
	assert.Equal(t, "only", layers[0].ID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
