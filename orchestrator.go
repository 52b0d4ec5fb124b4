package imageflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brushfire/imageflow/audit"
	"github.com/brushfire/imageflow/ratelimiter"
)

// Orchestrator is the façade of the module. It accepts a
// GenerationRequest, picks a provider, and drives the credential pool,
// model fallback chain, backoff policy, and provider client to produce one
// normalized GeneratedImage — scheduling the audit side effect on success.
//
// An Orchestrator is safe for concurrent use: per-request attempt state
// lives on the Run call stack, and the configuration it reads is never
// mutated after construction.
type Orchestrator struct {
	cfg      Config
	clients  map[ProviderID]ProviderClient
	limiters *ratelimiter.Registry
	recorder *audit.Recorder
	logger   *slog.Logger

	// sleep waits between retries; swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithAuditRecorder sets the recorder that receives successful
// generations. Without one, no audit side effect is scheduled.
func WithAuditRecorder(r *audit.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithRateLimiters replaces the default per-provider request windows, e.g.
// with distributed limiters.
func WithRateLimiters(reg *ratelimiter.Registry) Option {
	return func(o *Orchestrator) { o.limiters = reg }
}

// New creates an Orchestrator from externally supplied configuration and
// one client per provider.
func New(cfg Config, clients []ProviderClient, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:     cfg.withDefaults(),
		clients: make(map[ProviderID]ProviderClient, len(clients)),
		logger:  slog.Default(),
		sleep:   ctxSleep,
	}
	for _, c := range clients {
		o.clients[c.ID()] = c
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.limiters == nil {
		o.limiters = ratelimiter.NewRegistry()
		for id, ps := range o.cfg.Providers {
			if ps.RequestsPerMinute > 0 {
				o.limiters.Set(id.String(), ratelimiter.New(ps.RequestsPerMinute))
			}
		}
	}

	for id := range o.cfg.Providers {
		if _, ok := o.clients[id]; !ok {
			return nil, fmt.Errorf("%w: %s has settings but no client", ErrProviderNotConfigured, id)
		}
	}
	return o, nil
}

// Run executes one orchestrated generation. It returns the normalized
// image, or an *OrchestrationError carrying the last failure kind and a
// short summary; raw provider errors never cross this boundary. The only
// other error shapes are validation errors and the caller's own context
// cancellation.
func (o *Orchestrator) Run(ctx context.Context, req *GenerationRequest) (*GeneratedImage, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	providerID := req.Provider
	if providerID == "" {
		providerID = o.cfg.DefaultProvider
	}
	client, okClient := o.clients[providerID]
	settings, okSettings := o.cfg.Providers[providerID]
	if !okClient || !okSettings {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, providerID)
	}

	models := eligibleModels(client, settings.Models, req)
	if len(models) == 0 {
		return nil, &OrchestrationError{
			Kind:    KindModelUnavailable,
			Summary: fmt.Sprintf("no model configured for %s supports %s", providerID, req.Feature),
			Err:     ErrNoEligibleModel,
		}
	}

	pool := NewCredentialPool(providerID, settings.Credentials)
	chain := NewModelChain(models)

	o.logger.Debug("starting generation",
		"provider", providerID.String(),
		"feature", string(req.Feature),
		"prompt_length", len(req.Prompt),
		"image_count", len(req.Images),
	)

	start := time.Now()
	attempts := 0
	var img *GeneratedImage
	var servedBy ModelID

	err := pool.TryEach(func(cred Credential) error {
		return chain.TryEach(func(model ModelID) error {
			res, aerr := o.attempt(ctx, client, settings, model, cred, req, &attempts)
			if aerr != nil {
				return aerr
			}
			img = res
			servedBy = model
			return nil
		})
	})
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Error("generation failed",
			"provider", providerID.String(),
			"attempts", attempts,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
		return nil, orchestrationError(err, attempts)
	}

	o.logger.Info("generation completed",
		"provider", providerID.String(),
		"model", servedBy.String(),
		"attempts", attempts,
		"duration_ms", duration.Milliseconds(),
		"inline", img.Inline(),
	)

	o.scheduleAudit(req, providerID, servedBy, img, duration)
	return img, nil
}

// Close releases all provider client resources.
func (o *Orchestrator) Close() error {
	var errs []error
	for id, client := range o.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// attempt runs the backoff-governed retry loop for one model with one
// credential. Rate limits retry the same model until the budget is spent;
// everything else returns immediately so the chain or pool above can
// decide.
func (o *Orchestrator) attempt(
	ctx context.Context,
	client ProviderClient,
	settings ProviderSettings,
	model ModelID,
	cred Credential,
	req *GenerationRequest,
	attempts *int,
) (*GeneratedImage, error) {

	for retry := 0; ; retry++ {
		*attempts++

		img, err := o.callOnce(ctx, client, settings, model, cred, req)
		if err == nil {
			return img, nil
		}

		var ae *AttemptError
		if !errors.As(err, &ae) {
			// Caller cancellation or another non-classified error;
			// abort the whole run.
			return nil, err
		}

		o.logger.Warn("attempt failed",
			"provider", ae.Provider.String(),
			"model", model.String(),
			"credential", cred.Redacted(),
			"kind", string(ae.Kind),
			"attempt", retry+1,
		)

		if !ae.Kind.RetriesSameModel() || retry >= o.cfg.MaxRetries {
			return nil, err
		}

		delay, derr := o.cfg.Backoff.Delay(retry, ae.RetryAfter)
		if derr != nil {
			// The provider asked for a wait longer than we are willing
			// to block an interactive caller. Fail the run now.
			return nil, &AttemptError{
				Kind:       KindRateLimited,
				Provider:   ae.Provider,
				Model:      model,
				Detail:     ErrHighTraffic.Error(),
				RetryAfter: ae.RetryAfter,
				Err:        derr,
			}
		}

		o.logger.Warn("rate limited, backing off",
			"model", model.String(),
			"delay_ms", delay.Milliseconds(),
		)
		if serr := o.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
	}
}

// callOnce performs a single bounded provider call, consulting the local
// request window first.
func (o *Orchestrator) callOnce(
	ctx context.Context,
	client ProviderClient,
	settings ProviderSettings,
	model ModelID,
	cred Credential,
	req *GenerationRequest,
) (*GeneratedImage, error) {

	if lim := o.limiters.Get(client.ID().String()); lim != nil && !lim.TryAcquire() {
		return nil, &AttemptError{
			Kind:       KindRateLimited,
			Provider:   client.ID(),
			Model:      model,
			Detail:     "local request window exhausted",
			RetryAfter: lim.TimeUntilAvailable(),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, settings.CallTimeout)
	defer cancel()

	img, err := client.Generate(callCtx, model, cred, req)
	if err == nil {
		return img, nil
	}

	var ae *AttemptError
	if errors.As(err, &ae) {
		if ae.Kind == "" {
			ae.Kind = KindUnknown
		}
		return nil, err
	}

	if ctx.Err() != nil {
		// The caller abandoned the request; don't mask that.
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Per-call timeout: presumed an availability issue, so the chain
		// falls back rather than retrying the same model.
		return nil, &AttemptError{
			Kind:     KindModelUnavailable,
			Provider: client.ID(),
			Model:    model,
			Detail:   fmt.Sprintf("call timed out after %v", settings.CallTimeout),
			Err:      err,
		}
	}
	return nil, &AttemptError{
		Kind:     KindUnknown,
		Provider: client.ID(),
		Model:    model,
		Detail:   "unclassified provider error",
		Err:      err,
	}
}

func (o *Orchestrator) scheduleAudit(req *GenerationRequest, provider ProviderID, model ModelID, img *GeneratedImage, dur time.Duration) {
	if o.recorder == nil {
		return
	}
	o.recorder.Record(audit.Event{
		Feature:         string(req.Feature),
		Prompt:          req.Prompt,
		Provider:        provider.String(),
		Model:           model.String(),
		ImageURL:        img.URL,
		DurationSeconds: dur.Seconds(),
	}, img.Data, img.MIMEType)
}

// eligibleModels filters the configured chain to models whose reported
// capabilities can serve the request. Models the client doesn't enumerate
// are kept: the configuration may name models newer than the client's
// catalog.
func eligibleModels(client ProviderClient, configured []ModelID, req *GenerationRequest) []ModelID {
	catalog := make(map[ModelID]ModelCapabilities)
	for _, info := range client.Models() {
		catalog[info.ID] = info.Capabilities
	}

	models := make([]ModelID, 0, len(configured))
	for _, m := range configured {
		if caps, ok := catalog[m]; ok && !caps.Serves(req) {
			continue
		}
		models = append(models, m)
	}
	return models
}

// orchestrationError flattens whatever the pool/chain stack returned into
// the single typed error callers see.
func orchestrationError(err error, attempts int) *OrchestrationError {
	kind := KindUnknown
	summary := err.Error()

	var ae *AttemptError
	if errors.As(err, &ae) {
		kind = ae.Kind
		summary = ae.Detail
	}
	if errors.Is(err, ErrHighTraffic) {
		kind = KindRateLimited
		summary = ErrHighTraffic.Error()
	}
	if errors.Is(err, ErrCredentialsExhausted) && ae != nil {
		summary = fmt.Sprintf("all credentials exhausted; last failure: %s", ae.Detail)
	}
	return &OrchestrationError{
		Kind:     kind,
		Summary:  summary,
		Attempts: attempts,
		Err:      err,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
