package gemini

import (
	"strings"

	"github.com/brushfire/imageflow"
	"google.golang.org/genai"
)

// classifyAPIError maps a Gemini API error onto the shared FailureKind
// table. The Gemini API reports both throttling and spent quota as
// 429/RESOURCE_EXHAUSTED; the error message is the only way to tell them
// apart. A suggested wait, when present, rides in the error body as a
// RetryInfo detail ("retryDelay":"54s").
func classifyAPIError(apiErr genai.APIError, model imageflow.ModelID, raw error) *imageflow.AttemptError {
	detail := apiErr.Message
	if detail == "" {
		detail = raw.Error()
	}

	ae := &imageflow.AttemptError{
		Kind:       kindFor(apiErr, detail),
		Provider:   ProviderID,
		Model:      model,
		Detail:     detail,
		RetryAfter: imageflow.ParseSuggestedDelay(raw.Error()),
		Err:        raw,
	}
	return ae
}

func kindFor(apiErr genai.APIError, detail string) imageflow.FailureKind {
	lower := strings.ToLower(detail)

	switch {
	case apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED":
		if strings.Contains(lower, "quota") {
			return imageflow.KindQuotaExhausted
		}
		return imageflow.KindRateLimited

	case apiErr.Code == 401 || apiErr.Code == 403 ||
		apiErr.Status == "PERMISSION_DENIED" || apiErr.Status == "UNAUTHENTICATED":
		return imageflow.KindAccessDenied

	case apiErr.Code == 404 || apiErr.Status == "NOT_FOUND":
		return imageflow.KindModelUnavailable

	case apiErr.Code >= 500 ||
		apiErr.Status == "UNAVAILABLE" || apiErr.Status == "INTERNAL" ||
		apiErr.Status == "DEADLINE_EXCEEDED":
		return imageflow.KindModelUnavailable

	case apiErr.Code == 400 && (strings.Contains(lower, "safety") || strings.Contains(lower, "blocked")):
		return imageflow.KindContentRejected

	default:
		return imageflow.KindUnknown
	}
}
