package template

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/convert"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []string
	content string
	err     error
}

func (f *fakeFetcher) FetchHTMLPopup(_ context.Context, layerURL, objectID string, format arcgis.PopupFormat) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, layerURL+"/"+objectID+"/htmlPopup?f="+string(format))
	return f.content, f.err
}

func milepostInfo() *arcgis.LayerInfo {
	return &arcgis.LayerInfo{
		URL:           "https://host/arcgis/rest/services/Mileposts/MapServer/0",
		ID:            0,
		Name:          "Mileposts",
		DisplayField:  "SRMP",
		HTMLPopupType: arcgis.HTMLPopupNone,
		Fields: []arcgis.Field{
			{Name: "OBJECTID", Alias: "OBJECTID", Type: arcgis.FieldTypeOID},
			{Name: "SRMP", Alias: "Milepost", Type: "esriFieldTypeDouble"},
			{Name: "RouteID", Type: "esriFieldTypeString", Length: 12},
		},
	}
}

func TestGetInfoTemplate_ReusesInstance(t *testing.T) {
	f := NewFactory(nil)

	first := f.GetInfoTemplate(milepostInfo())
	second := f.GetInfoTemplate(milepostInfo())
	assert.Same(t, first, second)

	cached, ok := f.Lookup("https://host/arcgis/rest/services/Mileposts/MapServer/0/")
	require.True(t, ok)
	assert.Same(t, first, cached)

	f.Reset()
	assert.NotSame(t, first, f.GetInfoTemplate(milepostInfo()))
}

func TestGetInfoTemplate_StaticTable(t *testing.T) {
	tmpl := NewFactory(nil).GetInfoTemplate(milepostInfo())

	assert.False(t, tmpl.Deferred)
	assert.Equal(t, "${SRMP}", tmpl.Title)
	assert.Equal(t,
		"<table class='attributes'><tbody>"+
			"<tr><th>OBJECTID</th><td data-type='esriFieldTypeOID'>${OBJECTID}</td></tr>"+
			"<tr><th>Milepost</th><td data-type='esriFieldTypeDouble'>${SRMP}</td></tr>"+
			"<tr><th>RouteID</th><td data-type='esriFieldTypeString' data-length='12'>${RouteID}</td></tr>"+
			"</tbody></table>",
		tmpl.Content)

	attrs := map[string]any{"OBJECTID": float64(7), "SRMP": 12.5, "RouteID": "005<i>"}
	assert.Equal(t, "12.5", tmpl.RenderTitle(attrs))

	body, err := tmpl.RenderContent(context.Background(), attrs)
	require.NoError(t, err)
	assert.Contains(t, body, "<td data-type='esriFieldTypeOID'>7</td>")
	assert.Contains(t, body, "005&lt;i&gt;")
}

func TestRenderContent_DeferredHTMLText(t *testing.T) {
	fetcher := &fakeFetcher{content: "<div>from server</div>"}
	info := milepostInfo()
	info.HTMLPopupType = arcgis.HTMLPopupAsHTMLText
	tmpl := NewFactory(fetcher).GetInfoTemplate(info)
	require.True(t, tmpl.Deferred)
	assert.Empty(t, tmpl.Content)

	attrs := map[string]any{"OBJECTID": float64(42)}
	for i := 0; i < 2; i++ {
		body, err := tmpl.RenderContent(context.Background(), attrs)
		require.NoError(t, err)
		assert.Equal(t, "<div>from server</div>", body)
	}
	assert.Equal(t, []string{info.URL + "/42/htmlPopup?f=json"}, fetcher.calls)
}

func TestRenderContent_DeferredURLExtractsBody(t *testing.T) {
	fetcher := &fakeFetcher{content: "<html><head><title>x</title></head><BODY class='p'>\n<p>hello</p>\n</BODY></html>"}
	info := milepostInfo()
	info.HTMLPopupType = arcgis.HTMLPopupAsURL

	body, err := NewFactory(fetcher).GetInfoTemplate(info).RenderContent(context.Background(), map[string]any{"OBJECTID": "9"})
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", body)
	assert.Equal(t, []string{info.URL + "/9/htmlPopup?f=html"}, fetcher.calls)
}

func TestRenderObjectID(t *testing.T) {
	fetcher := &fakeFetcher{content: "<b>popup</b>"}
	info := milepostInfo()
	info.HTMLPopupType = arcgis.HTMLPopupAsHTMLText

	body, err := NewFactory(fetcher).GetInfoTemplate(info).RenderObjectID(context.Background(), "17")
	require.NoError(t, err)
	assert.Equal(t, "<b>popup</b>", body)
	assert.Equal(t, []string{info.URL + "/17/htmlPopup?f=json"}, fetcher.calls)

	noOID := milepostInfo()
	noOID.Fields = noOID.Fields[1:]
	_, err = NewFactory(fetcher).GetInfoTemplate(noOID).RenderObjectID(context.Background(), "17")
	var se *identify.SchemaError
	assert.True(t, errors.As(err, &se))
}

func TestRenderContent_SchemaErrors(t *testing.T) {
	info := milepostInfo()
	info.HTMLPopupType = arcgis.HTMLPopupAsHTMLText
	tmpl := NewFactory(&fakeFetcher{}).GetInfoTemplate(info)

	_, err := tmpl.RenderContent(context.Background(), map[string]any{"SRMP": 1.0})
	var se *identify.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, info.URL, se.LayerURL)

	noOID := milepostInfo()
	noOID.URL += "-copy"
	noOID.HTMLPopupType = arcgis.HTMLPopupAsURL
	noOID.Fields = noOID.Fields[1:]
	_, err = NewFactory(&fakeFetcher{}).GetInfoTemplate(noOID).RenderContent(context.Background(), map[string]any{"OBJECTID": 1.0})
	assert.True(t, errors.As(err, &se))
}

func TestRenderContent_FetchErrorNotCached(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("unavailable")}
	info := milepostInfo()
	info.HTMLPopupType = arcgis.HTMLPopupAsHTMLText
	tmpl := NewFactory(fetcher).GetInfoTemplate(info)

	attrs := map[string]any{"OBJECTID": 1.0}
	_, err := tmpl.RenderContent(context.Background(), attrs)
	require.Error(t, err)

	fetcher.err = nil
	fetcher.content = "ok"
	body, err := tmpl.RenderContent(context.Background(), attrs)
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Len(t, fetcher.calls, 2)
}

func TestDefaultTemplate(t *testing.T) {
	out := DefaultTemplate(map[string]any{"b": 2.0, "a": "x&y", "c": nil})
	assert.Equal(t,
		"<table class='attributes'><tbody>"+
			"<tr><th>a</th><td>x&amp;y</td></tr>"+
			"<tr><th>b</th><td>2</td></tr>"+
			"<tr><th>c</th><td></td></tr>"+
			"</tbody></table>",
		out)
}

func TestDecorator(t *testing.T) {
	f := NewFactory(&fakeFetcher{})
	deferredInfo := milepostInfo()
	deferredInfo.URL += "-deferred"
	deferredInfo.HTMLPopupType = arcgis.HTMLPopupAsURL

	res := &identify.Results{Layers: map[string]*identify.LayerResult{
		"mp": {LayerID: "mp", Results: []identify.Result{
			{Value: "12.5", LayerInfo: milepostInfo(), Feature: identify.Feature{Attributes: map[string]any{"SRMP": 12.5, "OBJECTID": 1.0}}},
			{Value: "3", LayerInfo: deferredInfo, Feature: identify.Feature{Attributes: map[string]any{"SRMP": 3.0, "OBJECTID": 2.0}}},
			{Value: "raw", Feature: identify.Feature{Attributes: map[string]any{"k": "v"}}},
		}},
	}}

	doc := convert.ToDocument(res, f.Decorator(context.Background()))
	rs := doc.Layers["mp"].Results
	require.Len(t, rs, 3)

	assert.Equal(t, "12.5", rs[0].Title)
	assert.False(t, rs[0].Deferred)
	assert.Contains(t, rs[0].Content, "<td data-type='esriFieldTypeDouble'>12.5</td>")

	assert.Equal(t, "3", rs[1].Title)
	assert.True(t, rs[1].Deferred)
	assert.Empty(t, rs[1].Content)

	assert.Equal(t, "raw", rs[2].Title)
	assert.Equal(t, "<table class='attributes'><tbody><tr><th>k</th><td>v</td></tr></tbody></table>", rs[2].Content)
}
