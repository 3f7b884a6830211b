package identify

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
)

// DefaultTolerance is the identify search radius in screen pixels.
const DefaultTolerance = 5

// Client is the remote side of an identify operation.
type Client interface {
	MetadataClient
	Identify(ctx context.Context, serviceRoot string, p arcgis.IdentifyParameters) ([]arcgis.IdentifyResult, error)
}

// JoinMode decides how per-layer failures affect the aggregate.
type JoinMode int

const (
	// BestEffort resolves with every layer slot; failed layers carry their error.
	BestEffort JoinMode = iota
	// Strict fails the whole operation on the first layer error.
	Strict
)

func (m JoinMode) String() string {
	if m == Strict {
		return "strict"
	}
	return "best_effort"
}

// ParseJoinMode parses "best_effort" or "strict".
func ParseJoinMode(s string) (JoinMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best_effort", "best-effort", "besteffort":
		return BestEffort, nil
	case "strict":
		return Strict, nil
	}
	return BestEffort, eris.Errorf("unknown join mode %q", s)
}

// Coordinator runs identify operations against the layers of a map. Bindings
// and layer metadata are cached for the coordinator's lifetime. Bindings are
// keyed by layer id, URL and kind, so a reloaded layer that keeps its id but
// moves to another service gets a fresh binding.
type Coordinator struct {
	m           Map
	client      Client
	tolerance   int
	ignored     *regexp.Regexp
	join        JoinMode
	concurrency int
	layerOption arcgis.LayerOption
	metadata    *MetadataCache
	recorder    Recorder

	mu       sync.Mutex
	bindings map[bindingKey]*ServiceTaskBinding

	seq atomic.Uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTolerance sets the search radius in pixels.
func WithTolerance(px int) Option {
	return func(c *Coordinator) {
		c.tolerance = px
	}
}

// WithIgnoredURLs excludes layers whose URL matches re.
func WithIgnoredURLs(re *regexp.Regexp) Option {
	return func(c *Coordinator) {
		c.ignored = re
	}
}

// WithJoinMode selects best-effort or strict joining.
func WithJoinMode(mode JoinMode) Option {
	return func(c *Coordinator) {
		c.join = mode
	}
}

// WithMetadataCache shares a metadata cache between coordinators.
func WithMetadataCache(mc *MetadataCache) Option {
	return func(c *Coordinator) {
		c.metadata = mc
	}
}

// WithConcurrency bounds the number of layers identified at once. Zero is unbounded.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		c.concurrency = n
	}
}

// WithLayerOption selects visible or all sub-layers for service-root layers.
func WithLayerOption(opt arcgis.LayerOption) Option {
	return func(c *Coordinator) {
		c.layerOption = opt
	}
}

// WithRecorder reports operation and layer outcomes.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// New returns a coordinator for m backed by client.
func New(m Map, client Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		m:         m,
		client:    client,
		tolerance: DefaultTolerance,
		recorder:  nopRecorder{},
		bindings:  make(map[bindingKey]*ServiceTaskBinding),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metadata == nil {
		c.metadata = NewMetadataCache(client, WithMetadataRecorder(c.recorder))
	}
	return c
}

// Metadata returns the coordinator's metadata cache.
func (c *Coordinator) Metadata() *MetadataCache { return c.metadata }

// Identify queries every eligible layer of the coordinator's map at geometry.
func (c *Coordinator) Identify(ctx context.Context, geometry arcgis.Geometry) (*Results, error) {
	return c.IdentifyView(ctx, c.m, geometry)
}

// IdentifyView is Identify against a caller-supplied view of the map. Caches
// and the sequence counter are shared with Identify.
func (c *Coordinator) IdentifyView(ctx context.Context, view Map, geometry arcgis.Geometry) (*Results, error) {
	if view == nil {
		return nil, eris.New("identify: no map")
	}
	seq := c.seq.Add(1)
	start := time.Now()
	log := zap.L().With(
		zap.String("component", "identify"),
		zap.String("op", uuid.NewString()),
		zap.Uint64("seq", seq),
	)

	layers := c.eligible(view.LayersVisibleAtScale(), view.Scale())
	log.Debug("identify started", zap.Int("layers", len(layers)), zap.String("join", c.join.String()))

	slots := make([]*LayerResult, len(layers))
	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, layer := range layers {
		g.Go(func() error {
			lr := c.identifyLayer(gctx, view, layer, geometry)
			slots[i] = lr
			c.recorder.LayerCompleted(outcome(lr.Err))
			if lr.Err != nil {
				log.Warn("layer identify failed", zap.String("layer", layer.ID), zap.Error(lr.Err))
				if c.join == Strict {
					return eris.Wrapf(lr.Err, "identify layer %s", layer.ID)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	c.recorder.IdentifyCompleted(c.join, time.Since(start), err)
	if err != nil {
		log.Warn("identify failed", zap.Error(err))
		return nil, err
	}

	res := &Results{Seq: seq, Layers: make(map[string]*LayerResult, len(slots))}
	for _, lr := range slots {
		res.Layers[lr.LayerID] = lr
	}
	log.Info("identify completed",
		zap.Int("layers", len(res.Layers)),
		zap.Int("failed", len(res.Errors())),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// IsLatest reports whether seq belongs to the most recently started operation.
// Callers use it to drop superseded results.
func (c *Coordinator) IsLatest(seq uint64) bool {
	return seq == c.seq.Load()
}

// Reset clears cached bindings and metadata.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.bindings = make(map[bindingKey]*ServiceTaskBinding)
	c.mu.Unlock()
	c.metadata.Reset()
}

// eligible drops layers that are toggled off or ignored and replaces group
// layers by their visible children. The map only filters top-level layers by
// scale, so children are checked against scale here.
func (c *Coordinator) eligible(layers []Layer, scale float64) []Layer {
	var out []Layer
	for _, l := range layers {
		if !l.Visible {
			continue
		}
		if l.Kind == KindGroup {
			var children []Layer
			for _, child := range l.SubLayers {
				if child.VisibleAtScale(scale) {
					children = append(children, child)
				}
			}
			out = append(out, c.eligible(children, scale)...)
			continue
		}
		if c.ignored != nil && c.ignored.MatchString(l.URL) {
			continue
		}
		out = append(out, l)
	}
	return out
}

type bindingKey struct {
	id   string
	url  string
	kind LayerKind
}

func (c *Coordinator) binding(layer Layer) (*ServiceTaskBinding, error) {
	key := bindingKey{id: layer.ID, url: layer.URL, kind: layer.Kind}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bindings[key]; ok {
		return b, nil
	}
	b, err := NewBinding(layer)
	if err != nil {
		return nil, err
	}
	c.bindings[key] = b
	return b, nil
}

// identifyLayer runs the identify request and the metadata lookup for one
// layer concurrently and joins them.
func (c *Coordinator) identifyLayer(ctx context.Context, view Map, layer Layer, geometry arcgis.Geometry) *LayerResult {
	lr := &LayerResult{LayerID: layer.ID}

	b, err := c.binding(layer)
	if err != nil {
		lr.Err = err
		return lr
	}
	params := b.Parameters(geometry, view, c.tolerance)
	if c.layerOption != "" {
		params.LayerOption = c.layerOption
	}

	var raw []arcgis.IdentifyResult
	var md *LayerMetadata
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.client.Identify(gctx, b.EndpointURL, params)
		if err != nil {
			return &NetworkError{Op: "identify", URL: b.EndpointURL, Err: err}
		}
		raw = r
		return nil
	})
	g.Go(func() error {
		m, err := c.metadata.Get(gctx, layer)
		if err != nil {
			return err
		}
		md = m
		return nil
	})
	if err := g.Wait(); err != nil {
		lr.Err = err
		return lr
	}

	lr.Results = annotate(raw, md)
	return lr
}
