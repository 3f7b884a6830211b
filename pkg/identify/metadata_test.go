package identify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WSDOT-GIS/geoportal-identify/internal/arcgistest"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
)

func TestMetadata_GroupSubLayerSkipped(t *testing.T) {
	srv := newFake(t)
	root := srv.AddService(&arcgistest.Service{
		Name:   "Mixed",
		Layers: []arcgis.LayerInfo{subLayer(0, "Zero"), groupLayer(1, "Group", 2), subLayer(2, "Two")},
	})
	layer := Layer{
		ID:        "mixed",
		URL:       root,
		Visible:   true,
		SubLayers: []Layer{{ID: "0"}, {ID: "1", Kind: KindGroup}, {ID: "2"}},
	}

	mc := NewMetadataCache(newTestClient())
	md, err := mc.Get(context.Background(), layer)
	require.NoError(t, err)

	assert.Equal(t, 1, srv.Hits(root+"/0"))
	assert.Equal(t, 0, srv.Hits(root+"/1"))
	assert.Equal(t, 1, srv.Hits(root+"/2"))
	assert.Equal(t, 2, srv.TotalHits(root+"/"))

	require.Len(t, md.SubLayers, 2)
	require.NotNil(t, md.SubLayers[0])
	assert.Nil(t, md.SubLayers[1])
	require.NotNil(t, md.SubLayers[2])
	assert.Equal(t, "Two", md.For(2).Name)
	assert.Nil(t, md.For(1))
	assert.Nil(t, md.For(7))
}

func TestMetadata_ServiceInfoFallback(t *testing.T) {
	srv := newFake(t)
	root := srv.AddService(&arcgistest.Service{
		Name:   "Discovered",
		Layers: []arcgis.LayerInfo{groupLayer(0, "Group", 1, 3), subLayer(1, "One"), subLayer(3, "Three")},
	})

	mc := NewMetadataCache(newTestClient())
	md, err := mc.Get(context.Background(), Layer{ID: "d", URL: root, Visible: true})
	require.NoError(t, err)

	assert.Equal(t, 1, srv.Hits(root))
	assert.Equal(t, 0, srv.Hits(root+"/0"))
	require.Len(t, md.SubLayers, 2)
	assert.Nil(t, md.SubLayers[0])
	assert.Equal(t, "One", md.For(1).Name)
	assert.Nil(t, md.SubLayers[2])
	assert.Equal(t, "Three", md.For(3).Name)
}

func TestMetadata_LargeSubLayerIDs(t *testing.T) {
	const huge = 1 << 40
	srv := newFake(t)
	root := srv.AddService(&arcgistest.Service{
		Name:   "Sparse",
		Layers: []arcgis.LayerInfo{subLayer(0, "Zero"), subLayer(huge, "Huge")},
	})

	mc := NewMetadataCache(newTestClient())
	md, err := mc.Get(context.Background(), Layer{ID: "sparse", URL: root})
	require.NoError(t, err)
	assert.Len(t, md.SubLayers, 2)
	assert.Equal(t, "Huge", md.For(huge).Name)
	assert.Equal(t, "Zero", md.For(0).Name)
	assert.Nil(t, md.For(huge-1))
}

func TestMetadata_SharedRootMergesSubLayers(t *testing.T) {
	srv := newFake(t)
	root := srv.AddService(&arcgistest.Service{
		Name:   "Shared",
		Layers: []arcgis.LayerInfo{subLayer(0, "Zero"), subLayer(1, "One"), subLayer(2, "Two")},
	})
	mc := NewMetadataCache(newTestClient())

	first, err := mc.Get(context.Background(), Layer{ID: "a", URL: root, SubLayers: []Layer{{ID: "0"}}})
	require.NoError(t, err)
	assert.Nil(t, first.For(1))

	second, err := mc.Get(context.Background(), Layer{ID: "b", URL: root, SubLayers: []Layer{{ID: "0"}, {ID: "1"}}})
	require.NoError(t, err)
	require.NotNil(t, second.For(1))
	assert.Equal(t, "One", second.For(1).Name)
	assert.Equal(t, "Zero", second.For(0).Name)
	assert.Equal(t, 1, srv.Hits(root+"/0"))
	assert.Equal(t, 1, srv.Hits(root+"/1"))

	again, err := mc.Get(context.Background(), Layer{ID: "a", URL: root, SubLayers: []Layer{{ID: "0"}}})
	require.NoError(t, err)
	assert.Same(t, second, again)

	all, err := mc.Get(context.Background(), Layer{ID: "c", URL: root})
	require.NoError(t, err)
	assert.Equal(t, "Two", all.For(2).Name)
	assert.Equal(t, 1, srv.Hits(root))
	assert.Equal(t, 1, srv.Hits(root+"/1"))
	assert.Equal(t, 1, mc.Len())
}

func TestMetadata_SingleSubLayer(t *testing.T) {
	srv := newFake(t)
	root := srv.AddService(&arcgistest.Service{
		Name:          "Single",
		FeatureServer: true,
		Layers:        []arcgis.LayerInfo{subLayer(0, "Only")},
	})

	mc := NewMetadataCache(newTestClient())
	md, err := mc.Get(context.Background(), Layer{ID: "s", URL: root + "/0/"})
	require.NoError(t, err)
	require.NotNil(t, md.Single)
	assert.Equal(t, "Only", md.For(0).Name)
	assert.Equal(t, root+"/0", md.Single.URL)

	cached, ok := mc.Lookup(root + "/0")
	require.True(t, ok)
	assert.Same(t, md, cached)
}

func TestMetadata_AnySubLayerFailureRejectsWhole(t *testing.T) {
	srv := newFake(t)
	root := srv.AddService(&arcgistest.Service{
		Name:       "Partial",
		Layers:     []arcgis.LayerInfo{subLayer(0, "Zero"), subLayer(1, "One")},
		FailLayers: map[int]bool{1: true},
	})

	mc := NewMetadataCache(newTestClient())
	_, err := mc.Get(context.Background(), Layer{ID: "p", URL: root, SubLayers: []Layer{{ID: "0"}, {ID: "1"}}})
	require.Error(t, err)

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, root+"/1", ne.URL)
	assert.Equal(t, 0, mc.Len())
}

func TestMetadata_ConcurrentMissesCoalesce(t *testing.T) {
	srv := newFake(t)
	gate := make(chan struct{})
	root := srv.AddService(&arcgistest.Service{
		Name:   "Gated",
		Layers: []arcgis.LayerInfo{subLayer(0, "Gated")},
		Gate:   gate,
	})
	rec := newCountingRecorder()
	mc := NewMetadataCache(newTestClient(), WithMetadataRecorder(rec))
	layer := Layer{ID: "g", URL: root + "/0"}

	const n = 6
	var started, done sync.WaitGroup
	results := make([]*LayerMetadata, n)
	for i := 0; i < n; i++ {
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			started.Done()
			md, err := mc.Get(context.Background(), layer)
			assert.NoError(t, err)
			results[i] = md
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return srv.Hits(root+"/0") == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	done.Wait()

	assert.Equal(t, 1, srv.Hits(root+"/0"))
	assert.Equal(t, 1, rec.lookup(LookupMiss))
	for _, md := range results {
		assert.Same(t, results[0], md)
	}
}

func TestMetadata_CallerCancelDoesNotPoisonFetch(t *testing.T) {
	srv := newFake(t)
	gate := make(chan struct{})
	root := srv.AddService(&arcgistest.Service{
		Name:   "Patient",
		Layers: []arcgis.LayerInfo{subLayer(0, "Patient")},
		Gate:   gate,
	})
	mc := NewMetadataCache(newTestClient())
	layer := Layer{ID: "p", URL: root + "/0"}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := mc.Get(ctx, layer)
		errc <- err
	}()
	require.Eventually(t, func() bool { return srv.Hits(root+"/0") == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(gate)
	require.Eventually(t, func() bool { return mc.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, err := mc.Get(context.Background(), layer)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Hits(root+"/0"))
}

func TestMetadata_InvalidURL(t *testing.T) {
	mc := NewMetadataCache(newTestClient())
	_, err := mc.Get(context.Background(), Layer{ID: "x", URL: "not-a-valid-url"})
	var ce *ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestMetadata_ResetDropsEntries(t *testing.T) {
	srv := newFake(t)
	root := srv.AddService(&arcgistest.Service{Name: "Reset", Layers: []arcgis.LayerInfo{subLayer(0, "Reset")}})
	mc := NewMetadataCache(newTestClient())

	_, err := mc.Get(context.Background(), Layer{ID: "r", URL: root + "/0"})
	require.NoError(t, err)
	require.Equal(t, 1, mc.Len())

	mc.Reset()
	assert.Equal(t, 0, mc.Len())
	_, ok := mc.Lookup(root + "/0")
	assert.False(t, ok)
}
