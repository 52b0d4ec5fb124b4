package imageflow

import (
	"path/filepath"
	"strings"
)

// GeneratedImage is the single normalized success value: either inline
// bytes with a MIME type, or a dereferenceable URL. Exactly one of the two
// forms is populated.
type GeneratedImage struct {
	// Data contains the raw image bytes for inline results.
	Data []byte

	// MIMEType of the inline image data.
	MIMEType string

	// URL points at the hosted image for reference results.
	URL string
}

// Inline reports whether the image is carried as raw bytes.
func (g *GeneratedImage) Inline() bool {
	return len(g.Data) > 0
}

// Extension returns a file extension for the image, derived from its MIME
// type or, for URL results, from the URL path.
func (g *GeneratedImage) Extension() string {
	if g.Inline() {
		return ExtensionFromMIME(g.MIMEType)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(g.URL)), ".")
	if ext == "" {
		return "png"
	}
	return ext
}

// GetMIMEType returns the MIME type for a file path based on its extension.
func GetMIMEType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// ExtensionFromMIME returns a file extension for common image MIME types.
func ExtensionFromMIME(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
