package imageflow

import (
	"errors"
	"fmt"
)

// ErrCredentialsExhausted is returned when every credential in a pool has
// been tried and failed on a rotating failure kind.
var ErrCredentialsExhausted = errors.New("all credentials exhausted")

// CredentialPool holds the credentials for one provider in priority order.
// It is an immutable value: iteration state lives entirely in the TryEach
// call frame, so concurrent runs each start from the primary credential and
// cannot fail each other over into exhaustion.
type CredentialPool struct {
	provider ProviderID
	creds    []Credential
}

// NewCredentialPool builds a pool for the given provider. The slice is
// copied; order is priority order, primary first.
func NewCredentialPool(provider ProviderID, creds []Credential) *CredentialPool {
	cp := make([]Credential, len(creds))
	copy(cp, creds)
	return &CredentialPool{provider: provider, creds: cp}
}

// Len returns the number of credentials in the pool.
func (p *CredentialPool) Len() int { return len(p.creds) }

// TryEach invokes op with each credential in priority order. It advances to
// the next credential only when op fails with a kind that rotates
// credentials (RateLimited, QuotaExhausted); any other failure stops
// immediately, since no credential will fix a rejected or malformed
// request. When every credential is spent it returns an aggregate error
// wrapping the last attempt failure.
func (p *CredentialPool) TryEach(op func(cred Credential) error) error {
	if len(p.creds) == 0 {
		return fmt.Errorf("%s: %w: no credentials", p.provider, ErrProviderNotConfigured)
	}

	var lastErr error
	for _, cred := range p.creds {
		err := op(cred)
		if err == nil {
			return nil
		}
		lastErr = err

		var ae *AttemptError
		if !errors.As(err, &ae) || !ae.Kind.RotatesCredential() || errors.Is(err, ErrHighTraffic) {
			return err
		}
	}

	return fmt.Errorf("%s: %w (%d tried): %w", p.provider, ErrCredentialsExhausted, len(p.creds), lastErr)
}
