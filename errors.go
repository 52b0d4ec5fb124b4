package imageflow

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind classifies a failed provider attempt. It is the only error
// vocabulary visible above the provider client boundary: every raw provider
// error is mapped to exactly one kind before the orchestrator inspects it.
type FailureKind string

const (
	// KindRateLimited means the provider throttled the request. Retried
	// against the same model with backoff, then the next credential.
	KindRateLimited FailureKind = "rate_limited"

	// KindQuotaExhausted means the credential's quota is spent. Rotates to
	// the next credential immediately.
	KindQuotaExhausted FailureKind = "quota_exhausted"

	// KindAccessDenied means the credential cannot reach this model.
	// Advances the model fallback chain.
	KindAccessDenied FailureKind = "access_denied"

	// KindModelUnavailable means the model itself is unreachable (5xx,
	// not found, timeout). Advances the model fallback chain.
	KindModelUnavailable FailureKind = "model_unavailable"

	// KindContentRejected means the provider blocked the request or the
	// result on content-policy grounds. Terminal, never retried.
	KindContentRejected FailureKind = "content_rejected"

	// KindMalformedResponse means the provider answered in a shape no
	// decoder recognized. Terminal, never retried.
	KindMalformedResponse FailureKind = "malformed_response"

	// KindUnknown is the fallback classification. Terminal.
	KindUnknown FailureKind = "unknown"
)

// RetriesSameModel reports whether this kind is retried against the same
// model with backoff before any fallback happens.
func (k FailureKind) RetriesSameModel() bool {
	return k == KindRateLimited
}

// RotatesCredential reports whether this kind advances the credential pool
// once the per-model retry budget is spent.
func (k FailureKind) RotatesCredential() bool {
	return k == KindRateLimited || k == KindQuotaExhausted
}

// AdvancesModel reports whether this kind advances the model fallback chain.
func (k FailureKind) AdvancesModel() bool {
	return k == KindAccessDenied || k == KindModelUnavailable
}

// Terminal reports whether this kind ends the run immediately with no
// further attempts.
func (k FailureKind) Terminal() bool {
	return k == KindContentRejected || k == KindMalformedResponse || k == KindUnknown
}

// ErrHighTraffic marks a run that was failed fast because the provider asked
// for a wait longer than the configured backoff ceiling.
var ErrHighTraffic = errors.New("provider is under high traffic, try again later")

// ErrProviderNotConfigured is returned when a request names a provider with
// no registered client or settings.
var ErrProviderNotConfigured = errors.New("provider not configured")

// ErrNoEligibleModel is returned when no configured model can serve the
// requested feature.
var ErrNoEligibleModel = errors.New("no configured model supports the requested feature")

// AttemptError is the classified outcome of one failed provider call.
type AttemptError struct {
	Kind     FailureKind
	Provider ProviderID
	Model    ModelID

	// Detail is a short human-readable diagnostic, safe to show to callers.
	Detail string

	// RetryAfter is the provider-suggested wait, zero if none was given.
	RetryAfter time.Duration

	// Err is the underlying raw error, kept for logging only.
	Err error
}

func (e *AttemptError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s/%s: %s: %s", e.Provider, e.Model, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Detail)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// OrchestrationError is the terminal failure of a whole orchestrated run.
// It carries the last failure kind and a short summary; raw provider errors
// never cross this boundary.
type OrchestrationError struct {
	Kind     FailureKind
	Summary  string
	Attempts int
	Err      error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s) (%s): %s", e.Attempts, e.Kind, e.Summary)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// IsContentRejected checks if an error was classified as a content-policy
// rejection.
func IsContentRejected(err error) bool {
	return kindOf(err) == KindContentRejected
}

// IsRateLimited checks if an error was classified as a rate limit.
func IsRateLimited(err error) bool {
	return kindOf(err) == KindRateLimited
}

// kindOf extracts the failure kind from an AttemptError or
// OrchestrationError anywhere in the chain.
func kindOf(err error) FailureKind {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}
