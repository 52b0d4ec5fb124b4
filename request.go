package imageflow

import (
	"errors"
	"fmt"
)

// Feature names the user-facing operation a request belongs to. It is
// carried through to the audit event and used to pick capable models.
type Feature string

const (
	// FeatureCreate generates a new image from a text prompt alone.
	FeatureCreate Feature = "create"

	// FeatureEdit reworks one or more source images per an instruction.
	FeatureEdit Feature = "edit"

	// FeatureInpaint edits a source image constrained by a mask image.
	// The mask travels as the last entry of Images.
	FeatureInpaint Feature = "inpaint"
)

// NeedsImageInput reports whether the feature carries source images.
func (f Feature) NeedsImageInput() bool {
	return f == FeatureEdit || f == FeatureInpaint
}

// ImageRef is an in-memory source image with its declared MIME type. It is
// owned by the request that carries it and never mutated.
type ImageRef struct {
	Data     []byte
	MIMEType string
}

// GenerationRequest describes one image generation or edit. Immutable once
// created; it has no identity beyond the call that carries it.
type GenerationRequest struct {
	Feature  Feature
	Prompt   string
	Images   []ImageRef
	Provider ProviderID
}

// Validation errors.
var (
	ErrEmptyPrompt     = errors.New("prompt cannot be empty")
	ErrEmptyImageData  = errors.New("image data cannot be empty")
	ErrInvalidMIMEType = errors.New("invalid or unsupported MIME type")
	ErrImageTooLarge   = errors.New("image data exceeds maximum size")
	ErrTooManyImages   = errors.New("too many input images")
	ErrMissingImages   = errors.New("feature requires at least one input image")
)

const (
	// MaxImageSize is the maximum allowed input image size in bytes (20MB).
	MaxImageSize = 20 * 1024 * 1024

	// MaxInputImages is the maximum number of source images per request.
	MaxInputImages = 14
)

// ValidMIMETypes contains the supported image MIME types.
var ValidMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// ValidateRequest checks a request before any network call is made.
func ValidateRequest(req *GenerationRequest) error {
	if req == nil {
		return errors.New("request cannot be nil")
	}
	if req.Prompt == "" {
		return ErrEmptyPrompt
	}
	if req.Feature.NeedsImageInput() && len(req.Images) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingImages, req.Feature)
	}
	if len(req.Images) > MaxInputImages {
		return fmt.Errorf("%w: %d (max %d)", ErrTooManyImages, len(req.Images), MaxInputImages)
	}
	for i, img := range req.Images {
		if err := validateImageRef(img); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
	}
	return nil
}

func validateImageRef(img ImageRef) error {
	if len(img.Data) == 0 {
		return ErrEmptyImageData
	}
	if len(img.Data) > MaxImageSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, len(img.Data), MaxImageSize)
	}
	if img.MIMEType == "" {
		return fmt.Errorf("%w: MIME type is required", ErrInvalidMIMEType)
	}
	if !ValidMIMETypes[img.MIMEType] {
		return fmt.Errorf("%w: %s", ErrInvalidMIMEType, img.MIMEType)
	}
	return nil
}
