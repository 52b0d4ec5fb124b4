// Package audit records successful generations for later review: a copy of
// the produced image goes to object storage and a usage event goes to an
// append-only log. Delivery is best-effort and fully detached from the
// user-facing call; failures here are logged, never propagated.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink is the external collaborator receiving audit data. Both operations
// are assumed idempotent-enough for best-effort delivery.
type Sink interface {
	// Put saves image data and returns its public URL.
	Put(ctx context.Context, data []byte, path string, contentType string) (string, error)

	// Append writes one usage event to the log.
	Append(ctx context.Context, event Event) error
}

// Event is one recorded generation.
type Event struct {
	// ID uniquely names the event.
	ID string

	// Feature is the user-facing operation ("create", "edit", ...).
	Feature string

	// Prompt is the text prompt that produced the image.
	Prompt string

	// Provider and Model identify what served the request.
	Provider string
	Model    string

	// ImageURL references the stored copy of the image. Empty when the
	// upload failed; the event is still logged so usage accounting is
	// never silently lost.
	ImageURL string

	// DurationSeconds is the foreground call latency.
	DurationSeconds float64

	// CreatedAt is when the generation completed.
	CreatedAt time.Time
}

// Recorder schedules detached audit deliveries. Each Record call returns
// immediately; the upload and log append run on their own goroutine with a
// bounded timeout.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// WithTimeout bounds each detached delivery. Default is one minute.
func WithTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.timeout = d }
}

// NewRecorder creates a Recorder delivering to the given sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:    sink,
		logger:  slog.Default(),
		timeout: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record schedules delivery of one event. If image data is present it is
// uploaded first and the resulting URL attached to the event; if the upload
// fails the event is still appended without the image reference. If the
// event already carries an ImageURL (URL-form results) no upload happens.
func (r *Recorder) Record(event Event, imageData []byte, contentType string) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if len(imageData) > 0 && event.ImageURL == "" {
			path := fmt.Sprintf("generations/%s.%s", event.ID, extensionFor(contentType))
			url, err := r.sink.Put(ctx, imageData, path, contentType)
			if err != nil {
				// Usage accounting must survive a failed upload.
				r.logger.Error("audit image upload failed",
					"event_id", event.ID,
					"error", err.Error(),
				)
			} else {
				event.ImageURL = url
			}
		}

		if err := r.sink.Append(ctx, event); err != nil {
			r.logger.Error("audit event append failed",
				"event_id", event.ID,
				"feature", event.Feature,
				"error", err.Error(),
			)
			return
		}

		r.logger.Debug("audit event recorded",
			"event_id", event.ID,
			"feature", event.Feature,
			"has_image", event.ImageURL != "",
		)
	}()
}

// Flush blocks until all scheduled deliveries have finished. Call on
// shutdown (and in tests) so in-flight audits are not dropped.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

func extensionFor(contentType string) string {
	switch contentType {
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
