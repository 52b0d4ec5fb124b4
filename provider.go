package imageflow

import "context"

// ProviderID names an external image generation provider.
type ProviderID string

// ModelID names a specific model offered by a provider.
type ModelID string

// String returns the provider identifier.
func (p ProviderID) String() string { return string(p) }

// String returns the model identifier.
func (m ModelID) String() string { return string(m) }

// Credential is an opaque secret authorizing calls to exactly one provider.
// Pools hold them in priority order, primary first.
type Credential string

// Redacted returns a loggable form of the credential: the last four
// characters, or stars for anything shorter.
func (c Credential) Redacted() string {
	if len(c) <= 4 {
		return "****"
	}
	return "…" + string(c[len(c)-4:])
}

// ProviderClient is implemented once per external generation provider. It
// knows how to build a request for a given model and credential, classify
// raw failures into FailureKinds, and decode responses into the normalized
// GeneratedImage shape. Raw provider payloads never escape it.
type ProviderClient interface {
	// ID returns the provider this client talks to.
	ID() ProviderID

	// Generate runs one attempt against the given model with the given
	// credential. On failure the returned error is always an *AttemptError.
	Generate(ctx context.Context, model ModelID, cred Credential, req *GenerationRequest) (*GeneratedImage, error)

	// Models returns the model definitions this provider serves.
	Models() []ModelInfo

	// Close releases any resources held by the client.
	Close() error
}

// ModelCapabilities describes what request features a model supports.
type ModelCapabilities struct {
	SupportsTextToImage  bool
	SupportsImageEditing bool
	SupportsMultiImage   bool

	// MaxInputImages is the per-request source image limit, 0 = none.
	MaxInputImages int
}

// Serves reports whether a model with these capabilities can handle the
// given request.
func (c ModelCapabilities) Serves(req *GenerationRequest) bool {
	if req.Feature.NeedsImageInput() || len(req.Images) > 0 {
		if !c.SupportsImageEditing {
			return false
		}
		if len(req.Images) > 1 && !c.SupportsMultiImage {
			return false
		}
		if c.MaxInputImages > 0 && len(req.Images) > c.MaxInputImages {
			return false
		}
		return true
	}
	return c.SupportsTextToImage
}

// ModelInfo carries a model's identity and capabilities as reported by its
// provider client.
type ModelInfo struct {
	ID           ModelID
	Capabilities ModelCapabilities
}
