// Package server exposes the identify coordinator over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/WSDOT-GIS/geoportal-identify/internal/mapconfig"
	"github.com/WSDOT-GIS/geoportal-identify/internal/metrics"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/template"
)

// Config holds the server's collaborators.
type Config struct {
	Map            *mapconfig.File
	Coordinator    *identify.Coordinator
	Templates      *template.Factory
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	// RequestTimeout bounds each request. Zero means 60s.
	RequestTimeout time.Duration
}

// Server serves identify requests for one map session.
type Server struct {
	file      atomic.Pointer[mapconfig.File]
	coord     *identify.Coordinator
	templates *template.Factory
	metrics   *metrics.Metrics
	origins   []string
	timeout   time.Duration
}

// New builds a server from cfg.
func New(cfg Config) *Server {
	s := &Server{
		coord:     cfg.Coordinator,
		templates: cfg.Templates,
		metrics:   cfg.Metrics,
		origins:   cfg.AllowedOrigins,
		timeout:   cfg.RequestTimeout,
	}
	s.file.Store(cfg.Map)
	if s.templates == nil {
		s.templates = template.NewFactory(nil)
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	if s.timeout <= 0 {
		s.timeout = 60 * time.Second
	}
	return s
}

// SetMap replaces the map session served by later requests.
func (s *Server) SetMap(f *mapconfig.File) {
	s.file.Store(f)
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(s.accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.Handler())
	r.Post("/identify", s.handleIdentify)
	r.Get("/popup", s.handlePopup)

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	zap.L().Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTPRequest(r.Method, routePattern(r), status, elapsed)
		zap.L().Info("http_request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", elapsed),
		)
	})
}

// routePattern keeps metric label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "other"
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
