package ratelimiter

import "sync"

// Registry holds the limiter for each provider. Lookups for providers with
// no limiter return nil, meaning unlimited.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
}

// NewRegistry creates an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]Limiter)}
}

// Get returns the limiter for a provider, or nil if none is registered.
func (r *Registry) Get(provider string) Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[provider]
}

// Set registers a limiter for a provider. Use this to swap in a
// distributed limiter for multi-process deployments.
func (r *Registry) Set(provider string, limiter Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[provider] = limiter
}
