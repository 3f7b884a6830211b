// Package arcgistest provides an in-process fake of the ArcGIS REST endpoints
// used by identify: service and layer metadata, identify and htmlPopup.
package arcgistest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
)

// Service is one fake MapServer or FeatureServer.
type Service struct {
	Name          string
	FeatureServer bool
	// Layers are the sub-layers. Entries with SubLayerIDs are group layers.
	Layers []arcgis.LayerInfo
	// Results are returned by identify, filtered by the requested layer ids.
	Results []arcgis.IdentifyResult
	// Popups maps object id to popup HTML.
	Popups map[string]string
	// FailLayers answers metadata for these sub-layer ids with an error envelope.
	FailLayers map[int]bool
	// FailIdentify answers identify with an error envelope.
	FailIdentify bool
	// Gate, when set, holds metadata requests until it is closed.
	Gate chan struct{}
}

func (s *Service) serverType() string {
	if s.FeatureServer {
		return "FeatureServer"
	}
	return "MapServer"
}

func (s *Service) layer(id int) (arcgis.LayerInfo, bool) {
	for _, l := range s.Layers {
		if l.ID == id {
			return l, true
		}
	}
	return arcgis.LayerInfo{}, false
}

// Server is an httptest server hosting fake services. It counts requests by
// path.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	services map[string]*Service
	hits     map[string]int
	queries  map[string][]string
}

// NewServer starts an empty fake. Close it when done.
func NewServer() *Server {
	s := &Server{
		services: make(map[string]*Service),
		hits:     make(map[string]int),
		queries:  make(map[string][]string),
	}

	r := chi.NewRouter()
	r.Use(s.count)
	r.Route("/arcgis/rest/services/{name}/{server:(?:Map|Feature)Server}", func(r chi.Router) {
		r.Get("/", s.serviceInfo)
		r.HandleFunc("/identify", s.identify)
		r.Get("/{layer:[0-9]+}", s.layerInfo)
		r.Get("/{layer:[0-9]+}/{oid}/htmlPopup", s.htmlPopup)
	})
	s.Server = httptest.NewServer(r)
	return s
}

// AddService registers svc and returns its root URL.
func (s *Server) AddService(svc *Service) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.Name] = svc
	return s.RootURL(svc)
}

// RootURL returns the service root URL of svc.
func (s *Server) RootURL(svc *Service) string {
	return s.URL + "/arcgis/rest/services/" + svc.Name + "/" + svc.serverType()
}

// Hits returns how many requests reached rawURL, ignoring its query.
func (s *Server) Hits(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[s.path(rawURL)]
}

// IdentifyHits returns how many identify requests reached the service root.
func (s *Server) IdentifyHits(root string) int {
	return s.Hits(strings.TrimSuffix(root, "/") + "/identify")
}

// TotalHits returns the number of requests whose path starts with prefix.
func (s *Server) TotalHits(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.path(prefix)
	n := 0
	for path, c := range s.hits {
		if strings.HasPrefix(path, p) {
			n += c
		}
	}
	return n
}

// LastQuery returns the encoded query (or form) of the last request to rawURL.
func (s *Server) LastQuery(rawURL string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queries[s.path(rawURL)]
	if len(q) == 0 {
		return ""
	}
	return q[len(q)-1]
}

// Reset clears the request counters.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = make(map[string]int)
	s.queries = make(map[string][]string)
}

func (s *Server) path(rawURL string) string {
	p := strings.TrimPrefix(rawURL, s.URL)
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return strings.TrimSuffix(p, "/")
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		path := strings.TrimSuffix(r.URL.Path, "/")
		s.mu.Lock()
		s.hits[path]++
		s.queries[path] = append(s.queries[path], r.Form.Encode())
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) service(w http.ResponseWriter, r *http.Request) (*Service, bool) {
	s.mu.Lock()
	svc, ok := s.services[chi.URLParam(r, "name")]
	s.mu.Unlock()
	if !ok || svc.serverType() != chi.URLParam(r, "server") {
		http.NotFound(w, r)
		return nil, false
	}
	return svc, true
}

func (s *Server) serviceInfo(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	layers := make([]arcgis.ServiceLayer, 0, len(svc.Layers))
	for _, l := range svc.Layers {
		layers = append(layers, arcgis.ServiceLayer{
			ID:            l.ID,
			Name:          l.Name,
			Type:          l.Type,
			ParentLayerID: -1,
			SubLayerIDs:   l.SubLayerIDs,
		})
	}
	writeJSON(w, map[string]any{
		"currentVersion": 10.81,
		"mapName":        svc.Name,
		"layers":         layers,
	})
}

func (s *Server) layerInfo(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	if svc.Gate != nil {
		select {
		case <-svc.Gate:
		case <-r.Context().Done():
			return
		}
	}
	id, _ := strconv.Atoi(chi.URLParam(r, "layer"))
	if svc.FailLayers[id] {
		writeError(w, 500, "Unable to complete operation.")
		return
	}
	l, ok := svc.layer(id)
	if !ok {
		writeError(w, 400, "Invalid layer id")
		return
	}
	writeJSON(w, map[string]any{
		"id":            l.ID,
		"name":          l.Name,
		"type":          l.Type,
		"geometryType":  l.GeometryType,
		"displayField":  l.DisplayField,
		"fields":        l.Fields,
		"htmlPopupType": l.HTMLPopupType,
		"subLayerIds":   l.SubLayerIDs,
	})
}

func (s *Server) identify(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	if svc.FailIdentify {
		writeError(w, 500, "Error performing identify")
		return
	}
	want := requestedLayers(r.Form.Get("layers"))
	results := make([]arcgis.IdentifyResult, 0, len(svc.Results))
	for _, res := range svc.Results {
		if want == nil || want[res.LayerID] {
			results = append(results, res)
		}
	}
	writeJSON(w, map[string]any{"results": results})
}

func (s *Server) htmlPopup(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	content, ok := svc.Popups[chi.URLParam(r, "oid")]
	if !ok {
		writeError(w, 404, "Feature not found")
		return
	}
	if r.Form.Get("f") == "json" {
		writeJSON(w, map[string]any{
			"htmlPopupType": arcgis.HTMLPopupAsHTMLText,
			"content":       content,
		})
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte("<html><head><title>popup</title></head><body>" + content + "</body></html>"))
}

// requestedLayers parses "visible:1,2". Nil means all layers.
func requestedLayers(v string) map[int]bool {
	_, ids, found := strings.Cut(v, ":")
	if !found || ids == "" {
		return nil
	}
	out := make(map[int]bool)
	for _, s := range strings.Split(ids, ",") {
		if n, err := strconv.Atoi(s); err == nil {
			out[n] = true
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, map[string]any{
		"error": map[string]any{"code": code, "message": msg, "details": []string{}},
	})
}
