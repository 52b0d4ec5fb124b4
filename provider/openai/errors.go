package openai

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brushfire/imageflow"
	"github.com/openai/openai-go"
)

// classifyAPIError maps an OpenAI SDK error onto the shared FailureKind
// table. A suggested wait comes from the Retry-After header when present,
// otherwise from "Please try again in Ns" prose in the error message.
func classifyAPIError(apiErr *openai.Error, model imageflow.ModelID, raw error) *imageflow.AttemptError {
	detail := apiErr.Message
	if detail == "" {
		detail = http.StatusText(apiErr.StatusCode)
	}

	retryAfter := parseRetryAfter(apiErr.Response)
	if retryAfter == 0 {
		retryAfter = imageflow.ParseSuggestedDelay(detail)
	}

	return &imageflow.AttemptError{
		Kind:       kindFor(apiErr.StatusCode, detail),
		Provider:   ProviderID,
		Model:      model,
		Detail:     detail,
		RetryAfter: retryAfter,
		Err:        raw,
	}
}

func kindFor(status int, detail string) imageflow.FailureKind {
	lower := strings.ToLower(detail)

	switch {
	case status == 429:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "billing") {
			return imageflow.KindQuotaExhausted
		}
		return imageflow.KindRateLimited

	case status == 401 || status == 403:
		return imageflow.KindAccessDenied

	case status == 404 || status >= 500:
		return imageflow.KindModelUnavailable

	case status == 400 && (strings.Contains(lower, "content policy") ||
		strings.Contains(lower, "content_policy") ||
		strings.Contains(lower, "safety system")):
		return imageflow.KindContentRejected

	default:
		return imageflow.KindUnknown
	}
}

// parseRetryAfter extracts the Retry-After duration from an HTTP response.
// Returns 0 if the header is not present or cannot be parsed.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return 0
}
