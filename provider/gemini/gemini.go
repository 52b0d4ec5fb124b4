// Package gemini provides a ProviderClient implementation backed by
// Google's Gemini API via the official Go SDK:
// https://github.com/googleapis/go-genai
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brushfire/imageflow"
	"github.com/brushfire/imageflow/codec"
	"google.golang.org/genai"
)

// ProviderID identifies this client in configuration and requests.
const ProviderID imageflow.ProviderID = "gemini"

// Model name constants - the actual API model names.
const (
	ModelFlashImage imageflow.ModelID = "gemini-2.5-flash-image"
	ModelProImage   imageflow.ModelID = "gemini-3-pro-image-preview"
)

// Client implements imageflow.ProviderClient against the Gemini API.
// Because the SDK binds the API key at client construction, one genai
// client is kept per credential.
type Client struct {
	mu      sync.Mutex
	clients map[imageflow.Credential]*genai.Client
}

// Ensure Client implements the interface.
var _ imageflow.ProviderClient = (*Client)(nil)

// New creates a Gemini client. Credentials arrive per call from the
// orchestrator's pool.
func New() *Client {
	return &Client{clients: make(map[imageflow.Credential]*genai.Client)}
}

// ID returns the provider identifier.
func (c *Client) ID() imageflow.ProviderID { return ProviderID }

// Models returns the model catalog this client serves. Both image models
// accept source images for editing.
func (c *Client) Models() []imageflow.ModelInfo {
	caps := imageflow.ModelCapabilities{
		SupportsTextToImage:  true,
		SupportsImageEditing: true,
		SupportsMultiImage:   true,
		MaxInputImages:       14,
	}
	return []imageflow.ModelInfo{
		{ID: ModelProImage, Capabilities: caps},
		{ID: ModelFlashImage, Capabilities: caps},
	}
}

// Close releases cached SDK clients. The genai SDK needs no explicit
// shutdown in its current version.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = make(map[imageflow.Credential]*genai.Client)
	return nil
}

// Generate runs one attempt against the given model with the given
// credential.
func (c *Client) Generate(ctx context.Context, model imageflow.ModelID, cred imageflow.Credential, req *imageflow.GenerationRequest) (*imageflow.GeneratedImage, error) {
	client, err := c.clientFor(ctx, cred)
	if err != nil {
		return nil, &imageflow.AttemptError{
			Kind:     imageflow.KindAccessDenied,
			Provider: ProviderID,
			Model:    model,
			Detail:   "failed to initialize provider client",
			Err:      err,
		}
	}

	parts, aerr := buildParts(model, req)
	if aerr != nil {
		return nil, aerr
	}
	contents := []*genai.Content{{Parts: parts}}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	result, err := client.Models.GenerateContent(ctx, model.String(), contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, classifyAPIError(apiErr, model, err)
		}
		// Timeouts and cancellations are classified by the orchestrator.
		return nil, err
	}

	return decodeResult(result, model)
}

// clientFor returns the cached genai client for a credential, creating it
// on first use.
func (c *Client) clientFor(ctx context.Context, cred imageflow.Credential) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[cred]; ok {
		return client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  string(cred),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.clients[cred] = client
	return client, nil
}

// buildParts assembles the request content: source images first, then the
// prompt.
func buildParts(model imageflow.ModelID, req *imageflow.GenerationRequest) ([]*genai.Part, *imageflow.AttemptError) {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for i, img := range req.Images {
		payload, err := codec.Encode(img)
		if err != nil {
			return nil, &imageflow.AttemptError{
				Kind:     imageflow.KindMalformedResponse,
				Provider: ProviderID,
				Model:    model,
				Detail:   fmt.Sprintf("source image %d is unreadable", i),
				Err:      err,
			}
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				Data:     payload.Data,
				MIMEType: payload.MIMEType,
			},
		})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})
	return parts, nil
}

// decodeResult reduces the SDK response to the codec's normalized shape
// and decodes it. An explicit moderation verdict takes precedence over any
// partial content.
func decodeResult(result *genai.GenerateContentResponse, model imageflow.ModelID) (*imageflow.GeneratedImage, error) {
	if result == nil || len(result.Candidates) == 0 {
		resp := codec.Response{}
		if result != nil && result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
			resp.Blocked = true
			resp.BlockReason = string(result.PromptFeedback.BlockReason)
		}
		return decode(resp, model)
	}

	if verdict := moderationVerdict(result); verdict != "" {
		return nil, &imageflow.AttemptError{
			Kind:     imageflow.KindContentRejected,
			Provider: ProviderID,
			Model:    model,
			Detail:   "blocked by content policy: " + verdict,
		}
	}

	var resp codec.Response
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != nil {
				resp.Inline = append(resp.Inline, codec.Inline{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				})
			}
			if part.Text != "" && !part.Thought {
				resp.Text += part.Text
			}
		}
	}

	if result.UsageMetadata != nil {
		for _, mc := range result.UsageMetadata.CandidatesTokensDetails {
			if mc != nil && string(mc.Modality) == "IMAGE" {
				resp.ImageTokens += int(mc.TokenCount)
			}
		}
	}

	return decode(resp, model)
}

// moderationVerdict returns the provider's block reason when the response
// carries an explicit moderation verdict, empty otherwise.
func moderationVerdict(result *genai.GenerateContentResponse) string {
	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		return string(result.PromptFeedback.BlockReason)
	}
	for _, candidate := range result.Candidates {
		switch string(candidate.FinishReason) {
		case "SAFETY", "PROHIBITED_CONTENT", "IMAGE_SAFETY", "BLOCKLIST":
			return string(candidate.FinishReason)
		}
	}
	return ""
}

// decode runs the shared codec and stamps provider identity onto failures.
func decode(resp codec.Response, model imageflow.ModelID) (*imageflow.GeneratedImage, error) {
	img, err := codec.Decode(resp)
	if err != nil {
		var ae *imageflow.AttemptError
		if errors.As(err, &ae) {
			ae.Provider = ProviderID
			ae.Model = model
		}
		return nil, err
	}
	return img, nil
}
