package imageflow

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// BackoffConfig tunes the wait computed between retries of the same model.
type BackoffConfig struct {
	// InitialDelay is the wait before the first retry; subsequent retries
	// double it.
	InitialDelay time.Duration

	// SafetyBuffer is added on top of a provider-suggested wait.
	SafetyBuffer time.Duration

	// Ceiling caps the wait. A computed delay above it is not slept at
	// all: the run fails fast with ErrHighTraffic so an interactive caller
	// is never left hanging.
	Ceiling time.Duration
}

// DefaultBackoff returns the backoff tuning used when none is configured.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		SafetyBuffer: time.Second,
		Ceiling:      20 * time.Second,
	}
}

// Delay computes the wait before retry number attempt (0-indexed). A
// provider-suggested wait takes precedence over exponential backoff,
// rounded up to whole seconds plus the safety buffer. If the result
// exceeds the ceiling, Delay returns ErrHighTraffic and the caller must
// fail the run instead of waiting.
func (b BackoffConfig) Delay(attempt int, suggested time.Duration) (time.Duration, error) {
	var d time.Duration
	if suggested > 0 {
		d = time.Duration(math.Ceil(suggested.Seconds()))*time.Second + b.SafetyBuffer
	} else {
		if attempt < 0 {
			attempt = 0
		}
		d = b.InitialDelay << uint(attempt)
	}

	if b.Ceiling > 0 && d > b.Ceiling {
		return 0, fmt.Errorf("suggested wait %v exceeds ceiling %v: %w", d, b.Ceiling, ErrHighTraffic)
	}
	return d, nil
}

// Providers embed their preferred wait in error payloads in two shapes:
// a structured RetryInfo field serialized as "retryDelay":"54s", or prose
// like "Please retry in 12.5s" / "retry in 54 seconds".
var (
	retryDelayFieldRe = regexp.MustCompile(`"retryDelay"\s*:\s*"(\d+(?:\.\d+)?)s"`)
	retryInProseRe    = regexp.MustCompile(`(?i)retry(?:ing)?\s+(?:in|after)\s+(\d+(?:\.\d+)?)\s*s(?:ec(?:ond)?s?)?`)
)

// ParseSuggestedDelay extracts a provider-suggested wait from raw error
// text. Returns zero if no recognizable hint is present.
func ParseSuggestedDelay(detail string) time.Duration {
	if detail == "" {
		return 0
	}
	for _, re := range []*regexp.Regexp{retryDelayFieldRe, retryInProseRe} {
		if m := re.FindStringSubmatch(detail); m != nil {
			secs, err := strconv.ParseFloat(m[1], 64)
			if err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return 0
}
