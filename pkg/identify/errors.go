package identify

import "fmt"

// ConfigurationError reports a layer whose URL is not a MapServer or
// FeatureServer URL. It only affects that layer.
type ConfigurationError struct {
	LayerID string
	URL     string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("layer %s: invalid service url %q: %v", e.LayerID, e.URL, e.Err)
	}
	return fmt.Sprintf("layer %s: invalid service url %q", e.LayerID, e.URL)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NetworkError reports a failed identify or metadata request.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SchemaError reports layer metadata that lacks something a feature popup
// needs, such as the object-id field.
type SchemaError struct {
	LayerURL string
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("layer %s: %s", e.LayerURL, e.Reason)
}
