// Package codec translates between the module's normalized image shapes and
// the payload shapes providers actually speak: inline binary, base64,
// data-URIs, structured URL fields, markdown-embedded links, and bare URLs
// buried in prose.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/brushfire/imageflow"
)

// ErrUnreadableImage is returned when a source image cannot be encoded.
// This is an input error: it fails fast and is never retried.
var ErrUnreadableImage = errors.New("source image is unreadable")

// Payload is an outbound image in provider-neutral form. Providers pick the
// rendering their wire format expects.
type Payload struct {
	Data     []byte
	MIMEType string
}

// Encode validates a source image and prepares it for transmission.
func Encode(ref imageflow.ImageRef) (*Payload, error) {
	if len(ref.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrUnreadableImage)
	}
	if ref.MIMEType == "" {
		return nil, fmt.Errorf("%w: missing MIME type", ErrUnreadableImage)
	}
	return &Payload{Data: ref.Data, MIMEType: ref.MIMEType}, nil
}

// Base64 renders the payload as a standard base64 string.
func (p *Payload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURI renders the payload as an embeddable data URI.
func (p *Payload) DataURI() string {
	return "data:" + p.MIMEType + ";base64," + p.Base64()
}
