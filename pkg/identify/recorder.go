package identify

import (
	"errors"
	"time"
)

// Metadata lookup outcomes.
const (
	LookupHit       = "hit"
	LookupMiss      = "miss"
	LookupCoalesced = "coalesced"
)

// Layer outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeConfigError = "config_error"
	OutcomeError       = "error"
)

// Recorder receives operational events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	IdentifyCompleted(mode JoinMode, elapsed time.Duration, err error)
	LayerCompleted(outcome string)
	MetadataLookup(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) IdentifyCompleted(JoinMode, time.Duration, error) {}
func (nopRecorder) LayerCompleted(string)                            {}
func (nopRecorder) MetadataLookup(string)                            {}

func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return OutcomeConfigError
	}
	return OutcomeError
}
