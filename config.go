package imageflow

import (
	"errors"
	"fmt"
	"time"
)

// ProviderSettings configures one provider: its credentials in priority
// order, its model fallback chain in attempt order, and per-call limits.
// All of this is expected to change operationally, so it is injected here
// rather than hard-coded anywhere.
type ProviderSettings struct {
	// Credentials in priority order, primary first.
	Credentials []Credential

	// Models in attempt order, primary first. A fallback may repeat the
	// primary to widen its retry budget.
	Models []ModelID

	// CallTimeout bounds each individual provider call. A timeout is
	// classified as ModelUnavailable and triggers model fallback.
	CallTimeout time.Duration

	// RequestsPerMinute enables a local request window for the provider
	// when positive. A window hit is treated like a provider rate limit.
	RequestsPerMinute int
}

// Config is the externally supplied orchestrator configuration.
type Config struct {
	// DefaultProvider handles requests with no provider preference.
	DefaultProvider ProviderID

	// Providers maps each provider to its settings.
	Providers map[ProviderID]ProviderSettings

	// Backoff tunes retry waits; zero value means DefaultBackoff().
	Backoff BackoffConfig

	// MaxRetries is the number of retries (beyond the first attempt)
	// against a single model with a single credential.
	MaxRetries int
}

// DefaultCallTimeout bounds a provider call when no per-provider timeout is
// configured.
const DefaultCallTimeout = 90 * time.Second

// DefaultMaxRetries is the per-model, per-credential retry budget.
const DefaultMaxRetries = 2

// Validate checks the configuration for the mistakes that would otherwise
// surface mid-request.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("config: no providers configured")
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("config: default provider %q has no settings", c.DefaultProvider)
		}
	}
	for id, ps := range c.Providers {
		if len(ps.Credentials) == 0 {
			return fmt.Errorf("config: provider %q has no credentials", id)
		}
		if len(ps.Models) == 0 {
			return fmt.Errorf("config: provider %q has no models", id)
		}
	}
	return nil
}

// withDefaults fills zero values so the orchestrator never branches on
// missing tuning.
func (c Config) withDefaults() Config {
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoff()
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	providers := make(map[ProviderID]ProviderSettings, len(c.Providers))
	for id, ps := range c.Providers {
		if ps.CallTimeout <= 0 {
			ps.CallTimeout = DefaultCallTimeout
		}
		providers[id] = ps
	}
	c.Providers = providers
	return c
}
