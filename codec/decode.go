package codec

import (
	"regexp"
	"strings"

	"github.com/brushfire/imageflow"
)

// Response is a provider reply reduced to the fields decoding cares about.
// Provider clients build one from their SDK's response type; Decode then
// applies the same disambiguation rules regardless of provider.
type Response struct {
	// Inline holds any binary image parts found in the response.
	Inline []Inline

	// ImageURL is a URL carried in a structured image field (possibly
	// nested), as opposed to one buried in text.
	ImageURL string

	// Text is the concatenated textual content of the response.
	Text string

	// ImageTokens is the number of image-modality output tokens billed,
	// when the provider reports usage by modality.
	ImageTokens int

	// Blocked is set when the provider attached a moderation or block
	// indicator without an explicit verdict error.
	Blocked bool

	// BlockReason carries the provider's stated reason when Blocked.
	BlockReason string
}

// Inline is one binary image part.
type Inline struct {
	Data     []byte
	MIMEType string
}

// shortTextThreshold is the heuristic cutoff for accepting a bare URL with
// no image extension or known host: below it the text is probably just the
// link, above it the URL is probably a citation inside prose.
const shortTextThreshold = 500

// maxDiagnosticText bounds the trailing text preserved on malformed
// responses.
const maxDiagnosticText = 200

var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)\s]+)\)`)
	bareURLRe       = regexp.MustCompile(`https?://[^\s<>")]+`)
)

// imageExtensions are accepted on a bare URL's path.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

// storageHosts are object-storage-style domains whose URLs are accepted as
// images even without an extension.
var storageHosts = []string{
	"storage.googleapis.com",
	"googleusercontent.com",
	"firebasestorage.googleapis.com",
	"amazonaws.com",
	"blob.core.windows.net",
	"cloudfront.net",
	"oaiusercontent.com",
}

// Decode normalizes a provider response into a single GeneratedImage. The
// candidate shapes are tried in strict order and the first match wins:
//
//  1. an inline binary part
//  2. a structured image URL field
//  3. a markdown image token in the text
//  4. a bare URL in the text, accepted only if it has an image extension,
//     sits on a known storage host, or the whole text is short
//  5. billed image tokens with nothing extracted — the provider made an
//     image we failed to recognize, a hard MalformedResponse
//  6. a block indicator with no candidate content — ContentRejected
//  7. anything else — MalformedResponse with the trailing text preserved
//
// Decode is a pure function: the same response always yields the same
// result. On failure the returned error is an *imageflow.AttemptError with
// only the Kind and Detail populated; the provider client stamps the rest.
func Decode(resp Response) (*imageflow.GeneratedImage, error) {
	for _, part := range resp.Inline {
		if len(part.Data) > 0 {
			return &imageflow.GeneratedImage{Data: part.Data, MIMEType: part.MIMEType}, nil
		}
	}

	if resp.ImageURL != "" {
		return &imageflow.GeneratedImage{URL: resp.ImageURL}, nil
	}

	if m := markdownImageRe.FindStringSubmatch(resp.Text); m != nil {
		return &imageflow.GeneratedImage{URL: m[1]}, nil
	}

	if url := bareURLRe.FindString(resp.Text); url != "" {
		if hasImageExtension(url) || onStorageHost(url) || len(resp.Text) < shortTextThreshold {
			return &imageflow.GeneratedImage{URL: url}, nil
		}
	}

	if resp.ImageTokens > 0 {
		return nil, &imageflow.AttemptError{
			Kind:   imageflow.KindMalformedResponse,
			Detail: "provider billed image output but no image was found in the response",
		}
	}

	if resp.Blocked {
		detail := "blocked by content policy"
		if resp.BlockReason != "" {
			detail = "blocked by content policy: " + resp.BlockReason
		}
		return nil, &imageflow.AttemptError{
			Kind:   imageflow.KindContentRejected,
			Detail: detail,
		}
	}

	return nil, &imageflow.AttemptError{
		Kind:   imageflow.KindMalformedResponse,
		Detail: "no image in response: " + tail(resp.Text, maxDiagnosticText),
	}
}

func hasImageExtension(url string) bool {
	path := url
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.ToLower(path)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func onStorageHost(url string) bool {
	rest := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	host := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host = rest[:i]
	}
	host = strings.ToLower(host)
	for _, h := range storageHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
