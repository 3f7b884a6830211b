package arcgis

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// serverURLRe matches a map/feature service root with an optional sub-layer index.
// Submatches: [full, service-root, sub-layer id or ""].
var serverURLRe = regexp.MustCompile(`^((?:https?:)?//.+/(?i:(?:Map|Feature)Server))(?:/(\d+))?/?(?:\?.*)?$`)

// ErrInvalidServiceURL is returned when a URL is not a MapServer or FeatureServer URL.
var ErrInvalidServiceURL = eris.New("not a MapServer or FeatureServer url")

// ServiceURL is a parsed service or sub-layer URL.
type ServiceURL struct {
	Root       string // ".../MapServer" or ".../FeatureServer", no trailing slash
	ServerType string // "MapServer" or "FeatureServer"
	SubLayerID *int   // set when the URL addresses a single sub-layer
}

// LayerURL returns the URL of the addressed sub-layer, or the root when none is addressed.
func (s ServiceURL) LayerURL() string {
	if s.SubLayerID == nil {
		return s.Root
	}
	return s.Root + "/" + strconv.Itoa(*s.SubLayerID)
}

// SubLayerURL returns the URL of sub-layer id under the service root.
func (s ServiceURL) SubLayerURL(id int) string {
	return s.Root + "/" + strconv.Itoa(id)
}

// ParseServiceURL splits a layer URL into its service root and optional sub-layer id.
func ParseServiceURL(raw string) (ServiceURL, error) {
	m := serverURLRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ServiceURL{}, eris.Wrapf(ErrInvalidServiceURL, "parse %q", raw)
	}
	out := ServiceURL{Root: m[1]}
	if strings.HasSuffix(strings.ToLower(m[1]), "featureserver") {
		out.ServerType = "FeatureServer"
	} else {
		out.ServerType = "MapServer"
	}
	if m[2] != "" {
		id, err := strconv.Atoi(m[2])
		if err != nil {
			return ServiceURL{}, eris.Wrapf(err, "parse sub-layer id in %q", raw)
		}
		out.SubLayerID = &id
	}
	return out, nil
}

// NormalizeArcGISURL normalizes an ArcGIS URL: scheme, path casing, trailing
// slash on service roots and removal of the f= parameter.
func NormalizeArcGISURL(rawURL string) string {
	lowerURL := strings.ToLower(rawURL)
	isArcGISService := strings.Contains(lowerURL, "/rest/services") || strings.Contains(lowerURL, "/arcgis/rest")

	if !isArcGISService {
		u, err := url.Parse(rawURL)
		if err == nil && u.Scheme == "" {
			if strings.Contains(rawURL, ".") && !strings.Contains(rawURL, " ") && !strings.HasPrefix(rawURL, "/") {
				return "https://" + rawURL
			}
		}
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		zap.L().Warn("failed to parse url for normalization", zap.String("url", rawURL), zap.Error(err))
		return rawURL
	}

	if u.Scheme == "" {
		u.Scheme = "https"
	}

	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		switch strings.ToLower(part) {
		case "arcgis":
			pathParts[i] = "ArcGIS"
		case "rest":
			pathParts[i] = "rest"
		case "services":
			pathParts[i] = "services"
		case "featureserver":
			pathParts[i] = "FeatureServer"
		case "mapserver":
			pathParts[i] = "MapServer"
		}
	}
	if strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + strings.Join(pathParts, "/")
	} else {
		u.Path = strings.Join(pathParts, "/")
	}

	lowerPathEnd := ""
	if len(pathParts) > 0 {
		lowerPathEnd = strings.ToLower(pathParts[len(pathParts)-1])
	}

	if lowerPathEnd == "mapserver" || lowerPathEnd == "featureserver" {
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
	} else if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = u.Path[:len(u.Path)-1]
	}

	q := u.Query()
	q.Del("f")
	u.RawQuery = q.Encode()

	return u.String()
}

// CacheKey is the canonical form of a layer URL used to key per-layer caches:
// normalized casing, no trailing slash, no query.
func CacheKey(rawURL string) string {
	n := NormalizeArcGISURL(rawURL)
	if i := strings.IndexByte(n, '?'); i >= 0 {
		n = n[:i]
	}
	return strings.TrimSuffix(n, "/")
}

// IsValidHTTPURL checks if a URL is a valid HTTP or HTTPS URL.
func IsValidHTTPURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
