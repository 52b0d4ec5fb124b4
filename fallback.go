package imageflow

import "errors"

// ModelChain holds the ordered models to attempt for a provider: primary
// first, then fallbacks. A fallback may equal the primary, which simply
// doubles the attempt budget for that model. Like CredentialPool it is an
// immutable value; iteration state is local to each TryEach call.
type ModelChain struct {
	models []ModelID
}

// NewModelChain builds a chain from the given ordered models.
func NewModelChain(models []ModelID) *ModelChain {
	cp := make([]ModelID, len(models))
	copy(cp, models)
	return &ModelChain{models: cp}
}

// Len returns the number of models in the chain.
func (c *ModelChain) Len() int { return len(c.models) }

// Models returns a copy of the ordered model list.
func (c *ModelChain) Models() []ModelID {
	cp := make([]ModelID, len(c.models))
	copy(cp, c.models)
	return cp
}

// TryEach invokes op with each model in order. It advances to the next
// model only when op fails with a kind that indicates the model itself is
// unreachable for this credential (AccessDenied, ModelUnavailable).
// Transient rate limits never advance the chain; they are handled by
// backoff against the same model or by credential rotation above.
func (c *ModelChain) TryEach(op func(model ModelID) error) error {
	if len(c.models) == 0 {
		return ErrNoEligibleModel
	}

	var lastErr error
	for _, model := range c.models {
		err := op(model)
		if err == nil {
			return nil
		}
		lastErr = err

		var ae *AttemptError
		if !errors.As(err, &ae) || !ae.Kind.AdvancesModel() {
			return err
		}
	}
	return lastErr
}
