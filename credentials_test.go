package imageflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialPool_RotatesOnQuotaExhausted(t *testing.T) {
	pool := NewCredentialPool("gemini", []Credential{"key-1", "key-2", "key-3"})

	var tried []Credential
	err := pool.TryEach(func(cred Credential) error {
		tried = append(tried, cred)
		if cred == "key-3" {
			return nil
		}
		return &AttemptError{Kind: KindQuotaExhausted, Provider: "gemini", Detail: "quota spent"}
	})

	require.NoError(t, err)
	assert.Equal(t, []Credential{"key-1", "key-2", "key-3"}, tried)
}

func TestCredentialPool_StopsOnTerminalKind(t *testing.T) {
	pool := NewCredentialPool("gemini", []Credential{"key-1", "key-2"})

	calls := 0
	err := pool.TryEach(func(cred Credential) error {
		calls++
		return &AttemptError{Kind: KindContentRejected, Provider: "gemini", Detail: "blocked"}
	})

	// No credential fixes a rejected request; don't burn the others.
	assert.Equal(t, 1, calls)
	assertAttemptKind(t, err, KindContentRejected)
}

func TestCredentialPool_ExhaustionAggregates(t *testing.T) {
	pool := NewCredentialPool("gemini", []Credential{"key-1", "key-2"})

	err := pool.TryEach(func(cred Credential) error {
		return &AttemptError{Kind: KindRateLimited, Provider: "gemini", Detail: "throttled"}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredentialsExhausted)
	// The last attempt's classification survives the aggregate.
	assertAttemptKind(t, err, KindRateLimited)
}

func TestCredentialPool_Empty(t *testing.T) {
	pool := NewCredentialPool("gemini", nil)

	err := pool.TryEach(func(Credential) error { return nil })
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestCredentialPool_HighTrafficDoesNotRotate(t *testing.T) {
	pool := NewCredentialPool("gemini", []Credential{"key-1", "key-2"})

	calls := 0
	err := pool.TryEach(func(cred Credential) error {
		calls++
		return &AttemptError{
			Kind:   KindRateLimited,
			Detail: ErrHighTraffic.Error(),
			Err:    ErrHighTraffic,
		}
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrHighTraffic)
}

func TestCredentialRedacted(t *testing.T) {
	assert.Equal(t, "…wxyz", Credential("sk-abcdwxyz").Redacted())
	assert.Equal(t, "****", Credential("ab").Redacted())
}

func assertAttemptKind(t *testing.T, err error, kind FailureKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, kindOf(err))
}
