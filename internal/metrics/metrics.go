// Package metrics exposes identify coordinator metrics for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

const namespace = "geoportal"

// Metrics implements identify.Recorder and observes upstream ArcGIS calls
// and API requests. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	identifyTotal    *prometheus.CounterVec
	identifyDuration *prometheus.HistogramVec
	layersTotal      *prometheus.CounterVec
	metadataLookups  *prometheus.CounterVec
	upstreamTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates a Metrics value backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		identifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identify_total",
			Help:      "Identify operations by join mode and result",
		}, []string{"mode", "result"}),
		identifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "identify_duration_seconds",
			Help:      "Time from identify start until every layer settled",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
		layersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identify_layers_total",
			Help:      "Per-layer identify outcomes",
		}, []string{"outcome"}),
		metadataLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_lookups_total",
			Help:      "Layer metadata cache lookups by outcome",
		}, []string{"outcome"}),
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arcgis_requests_total",
			Help:      "ArcGIS REST calls by operation and result",
		}, []string{"op", "result"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "arcgis_request_duration_seconds",
			Help:      "ArcGIS REST call latency including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests served",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	registry.MustRegister(
		m.identifyTotal,
		m.identifyDuration,
		m.layersTotal,
		m.metadataLookups,
		m.upstreamTotal,
		m.upstreamDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// IdentifyCompleted records one finished identify operation.
func (m *Metrics) IdentifyCompleted(mode identify.JoinMode, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.identifyTotal.WithLabelValues(mode.String(), result(err)).Inc()
	m.identifyDuration.WithLabelValues(mode.String()).Observe(elapsed.Seconds())
}

// LayerCompleted records one settled layer slot.
func (m *Metrics) LayerCompleted(outcome string) {
	if m == nil {
		return
	}
	m.layersTotal.WithLabelValues(outcome).Inc()
}

// MetadataLookup records a metadata cache lookup.
func (m *Metrics) MetadataLookup(outcome string) {
	if m == nil {
		return
	}
	m.metadataLookups.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records an ArcGIS REST call. Its signature matches
// arcgis.Observer.
func (m *Metrics) ObserveUpstream(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.upstreamTotal.WithLabelValues(op, result(err)).Inc()
	m.upstreamDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveHTTPRequest records a single API request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpDuration.With(labels).Observe(duration.Seconds())
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
