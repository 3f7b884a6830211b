package identify

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
)

// MetadataClient fetches layer and service schemas.
type MetadataClient interface {
	FetchLayerInfo(ctx context.Context, layerURL string) (*arcgis.LayerInfo, error)
	FetchServiceInfo(ctx context.Context, serviceRoot string) (*arcgis.ServiceInfo, error)
}

// LayerMetadata is the schema of one map layer. A layer addressing a single
// sub-layer has Single set; a service-root layer has SubLayers keyed by
// sub-layer id. Sub-layers that turned out to be groups map to nil.
type LayerMetadata struct {
	URL       string
	Single    *arcgis.LayerInfo
	SubLayers map[int]*arcgis.LayerInfo

	// complete is set once every sub-layer the service lists has been fetched.
	complete bool
}

// For returns the schema that describes results reported for subLayerID.
func (m *LayerMetadata) For(subLayerID int) *arcgis.LayerInfo {
	if m == nil {
		return nil
	}
	if m.Single != nil {
		return m.Single
	}
	return m.SubLayers[subLayerID]
}

// covers reports whether the entry holds every id. A nil list asks for the
// whole service.
func (m *LayerMetadata) covers(ids []int) bool {
	if m.Single != nil {
		return true
	}
	if ids == nil {
		return m.complete
	}
	for _, id := range ids {
		if _, ok := m.SubLayers[id]; !ok {
			return false
		}
	}
	return true
}

// MetadataCache memoizes layer schemas by normalized layer URL for the life
// of a session. Failed fetches are not stored, so the next lookup retries.
// Concurrent misses for one URL share a single fetch. Map layers that share a
// service root but declare different sub-layers share one entry, which grows
// to hold the union of their sub-layers.
type MetadataCache struct {
	client      MetadataClient
	concurrency int
	recorder    Recorder

	mu      sync.RWMutex
	entries map[string]*LayerMetadata
	gen     uint64

	flight singleflight.Group
}

// MetadataOption configures a MetadataCache.
type MetadataOption func(*MetadataCache)

// WithFetchConcurrency bounds the per-layer sub-layer fan-out. Zero is unbounded.
func WithFetchConcurrency(n int) MetadataOption {
	return func(c *MetadataCache) {
		c.concurrency = n
	}
}

// WithMetadataRecorder reports cache hits and misses.
func WithMetadataRecorder(r Recorder) MetadataOption {
	return func(c *MetadataCache) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewMetadataCache returns an empty cache backed by client.
func NewMetadataCache(client MetadataClient, opts ...MetadataOption) *MetadataCache {
	c := &MetadataCache{
		client:   client,
		recorder: nopRecorder{},
		entries:  make(map[string]*LayerMetadata),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the layer's schema, fetching it on a miss.
func (c *MetadataCache) Get(ctx context.Context, layer Layer) (*LayerMetadata, error) {
	su, err := arcgis.ParseServiceURL(layer.URL)
	if err != nil {
		return nil, &ConfigurationError{LayerID: layer.ID, URL: layer.URL, Err: err}
	}
	key := arcgis.CacheKey(su.LayerURL())
	var declared []int
	if su.SubLayerID == nil {
		declared = declaredSubLayers(layer)
	}

	if md, ok := c.lookup(key); ok && md.covers(declared) {
		c.recorder.MetadataLookup(LookupHit)
		return md, nil
	}

	ch := c.flight.DoChan(flightKey(key, declared), func() (any, error) {
		if md, ok := c.lookup(key); ok && md.covers(declared) {
			return md, nil
		}
		c.recorder.MetadataLookup(LookupMiss)
		return c.fetch(context.WithoutCancel(ctx), key, su, declared)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.recorder.MetadataLookup(LookupCoalesced)
		}
		return res.Val.(*LayerMetadata), nil
	}
}

// Lookup returns a cached entry without fetching.
func (c *MetadataCache) Lookup(layerURL string) (*LayerMetadata, bool) {
	su, err := arcgis.ParseServiceURL(layerURL)
	if err != nil {
		return nil, false
	}
	return c.lookup(arcgis.CacheKey(su.LayerURL()))
}

// Len returns the number of cached layers.
func (c *MetadataCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every cached entry. Fetches in flight at the time of the reset
// are not stored.
func (c *MetadataCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*LayerMetadata)
	c.gen++
}

func (c *MetadataCache) lookup(key string) (*LayerMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	md, ok := c.entries[key]
	return md, ok
}

func (c *MetadataCache) fetch(ctx context.Context, key string, su arcgis.ServiceURL, declared []int) (*LayerMetadata, error) {
	c.mu.RLock()
	gen := c.gen
	prev := c.entries[key]
	c.mu.RUnlock()

	md := &LayerMetadata{URL: key}
	if su.SubLayerID != nil {
		info, err := c.client.FetchLayerInfo(ctx, su.LayerURL())
		if err != nil {
			return nil, &NetworkError{Op: "metadata", URL: su.LayerURL(), Err: err}
		}
		md.Single = info
	} else if err := c.fetchSubLayers(ctx, su, declared, prev, md); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.entries[key] = md
	}
	c.mu.Unlock()

	zap.L().Debug("cached layer metadata",
		zap.String("component", "metadata"),
		zap.String("url", key),
		zap.Int("sub_layers", len(md.SubLayers)),
	)
	return md, nil
}

// fetchSubLayers fills md with every sub-layer of a service root that prev
// does not already hold, fetched concurrently. Any failure fails the whole
// layer.
func (c *MetadataCache) fetchSubLayers(ctx context.Context, su arcgis.ServiceURL, declared []int, prev, md *LayerMetadata) error {
	ids := declared
	if ids == nil {
		svc, err := c.client.FetchServiceInfo(ctx, su.Root)
		if err != nil {
			return &NetworkError{Op: "metadata", URL: su.Root, Err: err}
		}
		ids = make([]int, 0, len(svc.Layers))
		for _, l := range svc.Layers {
			if l.IsGroup() || l.ID < 0 {
				continue
			}
			ids = append(ids, l.ID)
		}
		md.complete = true
	}

	md.SubLayers = make(map[int]*arcgis.LayerInfo, len(ids))
	var missing []int
	if prev != nil {
		maps.Copy(md.SubLayers, prev.SubLayers)
		md.complete = md.complete || prev.complete
	}
	for _, id := range ids {
		if _, ok := md.SubLayers[id]; !ok {
			missing = append(missing, id)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for _, id := range missing {
		g.Go(func() error {
			subURL := su.SubLayerURL(id)
			info, err := c.client.FetchLayerInfo(gctx, subURL)
			if err != nil {
				return &NetworkError{Op: "metadata", URL: subURL, Err: err}
			}
			if info.IsGroup() {
				info = nil
			}
			mu.Lock()
			md.SubLayers[id] = info
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// declaredSubLayers lists the non-group sub-layer ids a service layer
// declares. Nil means the layer declares none and the service is asked.
func declaredSubLayers(layer Layer) []int {
	var ids []int
	for _, sub := range layer.SubLayers {
		if sub.Kind == KindGroup || len(sub.SubLayers) > 0 {
			continue
		}
		if n, ok := sub.subLayerNumber(); ok {
			ids = append(ids, n)
		}
	}
	if len(layer.SubLayers) > 0 && ids == nil {
		ids = []int{}
	}
	return ids
}

func flightKey(key string, ids []int) string {
	if ids == nil {
		return key
	}
	sorted := slices.Sorted(slices.Values(ids))
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}
	return key + "#" + strings.Join(parts, ",")
}
