package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/WSDOT-GIS/geoportal-identify/internal/mapconfig"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/arcgis"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/convert"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/export"
	"github.com/WSDOT-GIS/geoportal-identify/pkg/identify"
)

const maxBodyBytes = 1 << 20

type identifyRequest struct {
	X    *float64        `json:"x"`
	Y    *float64        `json:"y"`
	WKID int             `json:"wkid,omitempty"`
	View *mapconfig.View `json:"view,omitempty"`
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := decodeJSONStrict(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object", map[string]any{"error": err.Error()})
		return
	}
	if req.X == nil || req.Y == nil {
		writeError(w, http.StatusBadRequest, "invalid_point", "x and y are required", nil)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json", "geojson", "csv", "text", "kml", "gpx":
	default:
		writeError(w, http.StatusBadRequest, "invalid_format", "format must be json, geojson, csv, text, kml or gpx", nil)
		return
	}

	file := s.file.Load()
	view := file.Snapshot()
	if req.View != nil {
		v, err := file.WithView(*req.View)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_view", err.Error(), nil)
			return
		}
		view = v
	}

	pt := arcgis.Point{X: *req.X, Y: *req.Y, SpatialReference: view.Bounds.SpatialReference}
	if req.WKID != 0 {
		pt.SpatialReference = &arcgis.SpatialReference{WKID: req.WKID}
	}

	res, err := s.coord.IdentifyView(r.Context(), view, pt)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "identify_timeout", "identify did not complete", nil)
			return
		}
		writeError(w, http.StatusBadGateway, "identify_failed", err.Error(), nil)
		return
	}

	switch format {
	case "geojson":
		fc, err := convert.ToGeoJSON(res)
		if err != nil {
			writeError(w, http.StatusBadGateway, "invalid_geometry", err.Error(), nil)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(fc)
	case "csv":
		out, err := convert.ToCSV(res)
		if err != nil {
			writeError(w, http.StatusBadGateway, "invalid_geometry", err.Error(), nil)
			return
		}
		writeText(w, "text/csv; charset=utf-8", out)
	case "text":
		out, err := convert.ToText(res)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "render_failed", err.Error(), nil)
			return
		}
		writeText(w, "text/plain; charset=utf-8", out)
	case "kml":
		out, err := export.ToKML(res, fmt.Sprintf("Identify #%d", res.Seq))
		if err != nil {
			writeError(w, http.StatusBadGateway, "invalid_geometry", err.Error(), nil)
			return
		}
		writeText(w, "application/vnd.google-earth.kml+xml", out)
	case "gpx":
		out, err := export.ToGPX(res, fmt.Sprintf("Identify #%d", res.Seq))
		if err != nil {
			writeError(w, http.StatusBadGateway, "invalid_geometry", err.Error(), nil)
			return
		}
		writeText(w, "application/gpx+xml", out)
	default:
		writeJSON(w, http.StatusOK, s.render(r.Context(), res))
	}
}

// render attaches popup titles and content to every result. Deferred popups
// link to the popup endpoint.
func (s *Server) render(ctx context.Context, res *identify.Results) *convert.Document {
	decorate := s.templates.Decorator(ctx)
	doc := convert.ToDocument(res, func(r identify.Result, rd *convert.ResultDocument) {
		decorate(r, rd)
		if rd.Deferred {
			rd.PopupURL = popupURL(r.LayerInfo, rd.Feature.Attributes)
		}
	})
	doc.Latest = s.coord.IsLatest(res.Seq)
	return doc
}

func popupURL(info *arcgis.LayerInfo, attrs map[string]any) string {
	oidField, ok := info.ObjectIDField()
	if !ok {
		return ""
	}
	v, ok := attrs[oidField.Name]
	if !ok || v == nil {
		return ""
	}
	q := url.Values{}
	q.Set("url", info.URL)
	q.Set("oid", formatOID(v))
	return "/popup?" + q.Encode()
}

func (s *Server) handlePopup(w http.ResponseWriter, r *http.Request) {
	layerURL := r.URL.Query().Get("url")
	oid := r.URL.Query().Get("oid")
	if layerURL == "" || oid == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url and oid are required", nil)
		return
	}
	if !validObjectID(oid) {
		writeError(w, http.StatusBadRequest, "invalid_request", "oid must be an integer or a GUID", nil)
		return
	}

	info, ok := s.layerInfo(layerURL)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_layer", "layer has not been identified in this session", nil)
		return
	}
	tmpl := s.templates.GetInfoTemplate(info)
	if !tmpl.Deferred {
		writeError(w, http.StatusBadRequest, "no_html_popup", "layer has no server-rendered popup", nil)
		return
	}

	body, err := tmpl.RenderObjectID(r.Context(), oid)
	if err != nil {
		var se *identify.SchemaError
		if errors.As(err, &se) {
			writeError(w, http.StatusUnprocessableEntity, "schema_error", se.Error(), nil)
			return
		}
		zap.L().Warn("fetch html popup",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("layer", layerURL),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "popup_failed", err.Error(), nil)
		return
	}
	writeText(w, "text/html; charset=utf-8", body)
}

// layerInfo resolves a sub-layer schema from the session's metadata cache.
// Only layers already seen by identify are served.
func (s *Server) layerInfo(layerURL string) (*arcgis.LayerInfo, bool) {
	md := s.coord.Metadata()
	if m, ok := md.Lookup(layerURL); ok && m.Single != nil {
		return m.Single, true
	}
	su, err := arcgis.ParseServiceURL(layerURL)
	if err != nil || su.SubLayerID == nil {
		return nil, false
	}
	if m, ok := md.Lookup(su.Root); ok {
		if info := m.For(*su.SubLayerID); info != nil {
			return info, true
		}
	}
	return nil, false
}

// validObjectID accepts integer object ids and GUID global ids, braced or not.
func validObjectID(oid string) bool {
	if _, err := strconv.ParseInt(oid, 10, 64); err == nil {
		return true
	}
	_, err := uuid.Parse(oid)
	return err == nil
}

func formatOID(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	e := map[string]any{
		"code":    code,
		"message": msg,
	}
	if details != nil {
		e["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": e})
}

func decodeJSONStrict(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}
