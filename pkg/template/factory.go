package template

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
)

// Popup cache defaults.
const (
	DefaultPopupCacheSize = 1000
	DefaultPopupCacheTTL  = 10 * time.Minute
)

var errNoFetcher = eris.New("template: no popup fetcher configured")

// PopupFetcher fetches server-rendered feature popups.
type PopupFetcher interface {
	FetchHTMLPopup(ctx context.Context, layerURL, objectID string, format arcgis.PopupFormat) (string, error)
}

// Factory builds and caches templates per layer URL. The first template
// built for a URL is reused for the life of the factory.
type Factory struct {
	fetcher PopupFetcher

	mu        sync.Mutex
	templates map[string]*Template

	popupSize int
	popupTTL  time.Duration
	popups    *expirable.LRU[string, string]
}

// Option configures a Factory.
type Option func(*Factory)

// WithPopupCache sizes the cache of fetched popup HTML.
func WithPopupCache(size int, ttl time.Duration) Option {
	return func(f *Factory) {
		if size > 0 {
			f.popupSize = size
		}
		if ttl > 0 {
			f.popupTTL = ttl
		}
	}
}

// NewFactory returns an empty factory. fetcher may be nil when no layer uses
// server-rendered popups.
func NewFactory(fetcher PopupFetcher, opts ...Option) *Factory {
	f := &Factory{
		fetcher:   fetcher,
		templates: make(map[string]*Template),
		popupSize: DefaultPopupCacheSize,
		popupTTL:  DefaultPopupCacheTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.popups = expirable.NewLRU[string, string](f.popupSize, nil, f.popupTTL)
	return f
}

// GetInfoTemplate returns the template for a layer schema, building it on
// first use. Schemas without a URL get a fresh, uncached template.
func (f *Factory) GetInfoTemplate(info *arcgis.LayerInfo) *Template {
	if info == nil {
		return nil
	}
	if info.URL == "" {
		return build(info, f)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.templates[info.URL]; ok {
		return t
	}
	t := build(info, f)
	f.templates[info.URL] = t
	return t
}

// Lookup returns the cached template for a layer URL.
func (f *Factory) Lookup(layerURL string) (*Template, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[strings.TrimSuffix(layerURL, "/")]
	return t, ok
}

// Reset drops all templates and cached popups.
func (f *Factory) Reset() {
	f.mu.Lock()
	f.templates = make(map[string]*Template)
	f.mu.Unlock()
	f.popups.Purge()
}

func (f *Factory) popup(ctx context.Context, layerURL, objectID string, format arcgis.PopupFormat) (string, error) {
	key := layerURL + "/" + objectID + "/htmlPopup?f=" + string(format)
	if content, ok := f.popups.Get(key); ok {
		return content, nil
	}
	if f.fetcher == nil {
		return "", errNoFetcher
	}
	content, err := f.fetcher.FetchHTMLPopup(ctx, layerURL, objectID, format)
	if err != nil {
		return "", err
	}
	f.popups.Add(key, content)
	zap.L().Debug("cached html popup", zap.String("component", "template"), zap.String("key", key))
	return content, nil
}
