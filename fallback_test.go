package imageflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelChain_AdvancesOnAccessDenied(t *testing.T) {
	chain := NewModelChain([]ModelID{"primary", "fallback"})

	var tried []ModelID
	err := chain.TryEach(func(model ModelID) error {
		tried = append(tried, model)
		if model == "primary" {
			return &AttemptError{Kind: KindAccessDenied, Detail: "no access"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []ModelID{"primary", "fallback"}, tried)
}

func TestModelChain_AdvancesOnUnavailable(t *testing.T) {
	chain := NewModelChain([]ModelID{"a", "b", "c"})

	var tried []ModelID
	err := chain.TryEach(func(model ModelID) error {
		tried = append(tried, model)
		return &AttemptError{Kind: KindModelUnavailable, Detail: "down"}
	})

	assertAttemptKind(t, err, KindModelUnavailable)
	assert.Equal(t, []ModelID{"a", "b", "c"}, tried)
}

func TestModelChain_RateLimitDoesNotAdvance(t *testing.T) {
	chain := NewModelChain([]ModelID{"a", "b"})

	calls := 0
	err := chain.TryEach(func(model ModelID) error {
		calls++
		return &AttemptError{Kind: KindRateLimited, Detail: "throttled"}
	})

	// Transient kinds belong to backoff and credential rotation, never
	// to the chain.
	assert.Equal(t, 1, calls)
	assertAttemptKind(t, err, KindRateLimited)
}

func TestModelChain_SelfFallbackAllowed(t *testing.T) {
	chain := NewModelChain([]ModelID{"a", "a"})

	calls := 0
	err := chain.TryEach(func(model ModelID) error {
		calls++
		return &AttemptError{Kind: KindModelUnavailable, Detail: "down"}
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestModelChain_Empty(t *testing.T) {
	chain := NewModelChain(nil)

	err := chain.TryEach(func(ModelID) error { return nil })
	assert.ErrorIs(t, err, ErrNoEligibleModel)
}
