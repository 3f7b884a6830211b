package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxGetURLLength is the longest request URL sent as GET; longer identify
// requests are sent as form POSTs.
const maxGetURLLength = 2000

// Observer is notified after every remote call with the operation name,
// its duration and its final error.
type Observer func(op string, elapsed time.Duration, err error)

// Client represents an ArcGIS REST client with configuration.
type Client struct {
	HTTPClient *http.Client
	Timeout    time.Duration

	limiter   *rate.Limiter
	retry     RetryConfig
	userAgent string
	observe   Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithUserAgent sets the User-Agent header. An empty string keeps the default.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithObserver registers a callback for request metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observe = o
	}
}

// NewClient creates a new ArcGIS client with the specified timeout.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		retry:     DefaultRetryConfig(),
		userAgent: "geoportal-identify/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAndDecode fetches data from a URL with f=json and decodes it into target.
func (c *Client) FetchAndDecode(ctx context.Context, rawURL string, params url.Values, target any) error {
	body, err := c.fetch(ctx, http.MethodGet, rawURL, withJSON(params))
	if err != nil {
		return err
	}
	return decodeJSON(body, rawURL, target)
}

// Identify runs an identify request against a MapServer or FeatureServer root.
func (c *Client) Identify(ctx context.Context, serviceRoot string, p IdentifyParameters) ([]IdentifyResult, error) {
	start := time.Now()
	results, err := c.identify(ctx, serviceRoot, p)
	c.report("identify", start, err)
	return results, err
}

func (c *Client) identify(ctx context.Context, serviceRoot string, p IdentifyParameters) ([]IdentifyResult, error) {
	params, err := p.Values()
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimSuffix(serviceRoot, "/") + "/identify"

	method := http.MethodGet
	if len(endpoint)+1+len(params.Encode()) > maxGetURLLength {
		method = http.MethodPost
	}

	body, err := c.fetch(ctx, method, endpoint, params)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var results []IdentifyResult
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, eris.Wrapf(err, "failed to parse identify response from %s", endpoint)
		}
		return results, nil
	}

	var resp identifyResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, eris.Wrapf(err, "failed to parse identify response from %s", endpoint)
	}
	if resp.Error != nil {
		return nil, eris.Wrapf(resp.Error, "identify %s", endpoint)
	}
	return resp.Results, nil
}

// FetchLayerInfo fetches the schema of a single layer (`<layerUrl>?f=json`).
func (c *Client) FetchLayerInfo(ctx context.Context, layerURL string) (*LayerInfo, error) {
	start := time.Now()
	var info LayerInfo
	err := c.FetchAndDecode(ctx, layerURL, nil, &info)
	c.report("layer_info", start, err)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to fetch layer metadata from %s", layerURL)
	}
	info.URL = strings.TrimSuffix(layerURL, "/")
	return &info, nil
}

// FetchServiceInfo fetches the layer list of a MapServer or FeatureServer root.
func (c *Client) FetchServiceInfo(ctx context.Context, serviceRoot string) (*ServiceInfo, error) {
	start := time.Now()
	var info ServiceInfo
	err := c.FetchAndDecode(ctx, serviceRoot, nil, &info)
	c.report("service_info", start, err)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to fetch service metadata from %s", serviceRoot)
	}
	return &info, nil
}

// PopupFormat is the f= value of an htmlPopup request.
type PopupFormat string

const (
	PopupFormatJSON PopupFormat = "json"
	PopupFormatHTML PopupFormat = "html"
)

// FetchHTMLPopup fetches the server-rendered popup of one feature
// (`<layerUrl>/<objectId>/htmlPopup`).
func (c *Client) FetchHTMLPopup(ctx context.Context, layerURL, objectID string, format PopupFormat) (string, error) {
	start := time.Now()
	content, err := c.fetchHTMLPopup(ctx, layerURL, objectID, format)
	c.report("html_popup", start, err)
	return content, err
}

func (c *Client) fetchHTMLPopup(ctx context.Context, layerURL, objectID string, format PopupFormat) (string, error) {
	popupURL := strings.Join([]string{strings.TrimSuffix(layerURL, "/"), url.PathEscape(objectID), "htmlPopup"}, "/")
	params := url.Values{"f": {string(format)}}

	body, err := c.fetch(ctx, http.MethodGet, popupURL, params)
	if err != nil {
		return "", err
	}
	if format == PopupFormatHTML {
		return string(body), nil
	}

	var resp htmlPopupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", eris.Wrapf(err, "failed to parse html popup from %s", popupURL)
	}
	if resp.Error != nil {
		return "", eris.Wrapf(resp.Error, "html popup %s", popupURL)
	}
	return resp.Content, nil
}

func (c *Client) fetch(ctx context.Context, method, rawURL string, params url.Values) ([]byte, error) {
	return retryVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
		body, err := c.do(ctx, method, rawURL, params)
		if err != nil && IsTransient(err) {
			zap.L().Debug("arcgis request failed",
				zap.String("url", rawURL),
				zap.String("method", method),
				zap.Error(err),
			)
		}
		return body, err
	})
}

func (c *Client) do(ctx context.Context, method, rawURL string, params url.Values) ([]byte, error) {
	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		u := rawURL
		if len(params) > 0 {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u += sep + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create request for %s", rawURL)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return nil, eris.Wrapf(err, "request timed out fetching data from %s", rawURL)
		}
		return nil, eris.Wrapf(err, "failed to fetch data from %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read response from %s", rawURL)
	}
	return body, nil
}

func (c *Client) report(op string, start time.Time, err error) {
	if c.observe != nil {
		c.observe(op, time.Since(start), err)
	}
}

func withJSON(params url.Values) url.Values {
	out := url.Values{}
	for k, v := range params {
		out[k] = v
	}
	out.Set("f", "json")
	return out
}

func decodeJSON(body []byte, rawURL string, target any) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return eris.Wrapf(env.Error, "api error from %s", rawURL)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return eris.Wrapf(err, "failed to parse JSON from %s", rawURL)
	}
	return nil
}
