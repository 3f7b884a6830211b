package main

import (
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/WSDOT-GIS/geoportal-identify/internal/config"
	"github.com/WSDOT-GIS/geoportal-identify/internal/mapconfig"
	"github.com/WSDOT-GIS/geoportal-identify/internal/metrics"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/template"
)

// environment is the wired set of collaborators for one map session.
type environment struct {
	file      *mapconfig.File
	client    *arcgis.Client
	coord     *identify.Coordinator
	templates *template.Factory
	metrics   *metrics.Metrics
}

// newEnvironment loads the map file and wires the client, coordinator and
// template factory from c. mapPath overrides c.Map.Path; strict forces
// strict joining.
func newEnvironment(c *config.Config, mapPath string, strict bool) (*environment, error) {
	if mapPath == "" {
		mapPath = c.Map.Path
	}
	file, err := mapconfig.Load(mapPath)
	if err != nil {
		return nil, err
	}

	join, err := identify.ParseJoinMode(c.Identify.JoinMode)
	if err != nil {
		return nil, eris.Wrap(err, "identify.join_mode")
	}
	if strict {
		join = identify.Strict
	}

	layerOption, err := arcgis.ParseLayerOption(c.Identify.LayerOption)
	if err != nil {
		return nil, eris.Wrap(err, "identify.layer_option")
	}

	var ignored *regexp.Regexp
	if c.Identify.IgnoredURLs != "" {
		ignored, err = regexp.Compile(c.Identify.IgnoredURLs)
		if err != nil {
			return nil, eris.Wrap(err, "identify.ignored_urls")
		}
	}

	m := metrics.New()

	retry := arcgis.DefaultRetryConfig()
	if c.HTTP.MaxAttempts > 0 {
		retry.MaxAttempts = c.HTTP.MaxAttempts
	}
	timeout := time.Duration(c.HTTP.TimeoutSecs) * time.Second
	client := arcgis.NewClient(timeout,
		arcgis.WithRetry(retry),
		arcgis.WithRateLimit(c.HTTP.RateLimit),
		arcgis.WithUserAgent(c.HTTP.UserAgent),
		arcgis.WithObserver(m.ObserveUpstream),
	)

	tolerance := c.Identify.Tolerance
	if tolerance <= 0 {
		tolerance = identify.DefaultTolerance
	}
	coord := identify.New(file.Snapshot(), client,
		identify.WithTolerance(tolerance),
		identify.WithLayerOption(layerOption),
		identify.WithIgnoredURLs(ignored),
		identify.WithJoinMode(join),
		identify.WithConcurrency(c.Identify.MaxConcurrency),
		identify.WithRecorder(m),
	)

	templates := template.NewFactory(client, template.WithPopupCache(c.Popup.CacheSize, c.Popup.CacheTTL))

	zap.L().Debug("environment ready",
		zap.String("map", mapPath),
		zap.Int("layers", len(file.Layers)),
		zap.String("join", join.String()),
		zap.Int("tolerance", tolerance),
		zap.String("layer_option", string(layerOption)),
	)

	return &environment{
		file:      file,
		client:    client,
		coord:     coord,
		templates: templates,
		metrics:   m,
	}, nil
}
