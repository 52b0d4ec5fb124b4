// Package openai provides a ProviderClient implementation backed by the
// OpenAI Images API via the official Go SDK:
// https://github.com/openai/openai-go
//
// The image models served here are generation-only; requests carrying
// source images are routed elsewhere by the orchestrator's capability
// filtering.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/brushfire/imageflow"
	"github.com/brushfire/imageflow/codec"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ProviderID identifies this client in configuration and requests.
const ProviderID imageflow.ProviderID = "openai"

// Model name constants - the actual API model names.
const (
	ModelDallE3 imageflow.ModelID = "dall-e-3"
	ModelDallE2 imageflow.ModelID = "dall-e-2"
)

// Client implements imageflow.ProviderClient against the OpenAI Images
// API. One SDK client is kept per credential.
type Client struct {
	mu      sync.Mutex
	clients map[imageflow.Credential]*openai.Client
}

// Ensure Client implements the interface.
var _ imageflow.ProviderClient = (*Client)(nil)

// New creates an OpenAI client. Credentials arrive per call from the
// orchestrator's pool.
func New() *Client {
	return &Client{clients: make(map[imageflow.Credential]*openai.Client)}
}

// ID returns the provider identifier.
func (c *Client) ID() imageflow.ProviderID { return ProviderID }

// Models returns the model catalog this client serves.
func (c *Client) Models() []imageflow.ModelInfo {
	caps := imageflow.ModelCapabilities{
		SupportsTextToImage: true,
	}
	return []imageflow.ModelInfo{
		{ID: ModelDallE3, Capabilities: caps},
		{ID: ModelDallE2, Capabilities: caps},
	}
}

// Close drops cached SDK clients.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = make(map[imageflow.Credential]*openai.Client)
	return nil
}

// Generate runs one attempt against the given model with the given
// credential.
func (c *Client) Generate(ctx context.Context, model imageflow.ModelID, cred imageflow.Credential, req *imageflow.GenerationRequest) (*imageflow.GeneratedImage, error) {
	client := c.clientFor(cred)

	params := openai.ImageGenerateParams{
		Model:  openai.ImageModel(model.String()),
		Prompt: req.Prompt,
		N:      openai.Int(1),
		// Prefer base64 so results don't depend on a short-lived URL.
		ResponseFormat: openai.ImageGenerateParamsResponseFormat("b64_json"),
	}

	resp, err := client.Images.Generate(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, classifyAPIError(apiErr, model, err)
		}
		// Timeouts and cancellations are classified by the orchestrator.
		return nil, err
	}

	return decodeResult(resp, model)
}

func (c *Client) clientFor(cred imageflow.Credential) *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[cred]; ok {
		return client
	}
	client := openai.NewClient(option.WithAPIKey(string(cred)))
	c.clients[cred] = &client
	return &client
}

// decodeResult reduces the SDK response to the codec's normalized shape
// and decodes it.
func decodeResult(resp *openai.ImagesResponse, model imageflow.ModelID) (*imageflow.GeneratedImage, error) {
	var norm codec.Response
	if resp != nil {
		for _, img := range resp.Data {
			if img.B64JSON != "" {
				data, err := base64.StdEncoding.DecodeString(img.B64JSON)
				if err != nil {
					return nil, &imageflow.AttemptError{
						Kind:     imageflow.KindMalformedResponse,
						Provider: ProviderID,
						Model:    model,
						Detail:   "image payload is not valid base64",
						Err:      err,
					}
				}
				norm.Inline = append(norm.Inline, codec.Inline{Data: data, MIMEType: "image/png"})
				continue
			}
			if img.URL != "" && norm.ImageURL == "" {
				norm.ImageURL = img.URL
			}
		}
	}

	img, err := codec.Decode(norm)
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
