// Package fallback runs ordered degradation ladders: a list of strategies
// tried in turn until one produces a value.
package fallback

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted is returned when every strategy in a ladder failed.
var ErrExhausted = errors.New("all fallback tiers failed")

// Strategy is one rung of a ladder. Run returns an error (usually wrapping
// a models.Err*Degraded sentinel) to hand over to the next rung.
type Strategy[T any] struct {
	Tier string
	Run  func(ctx context.Context) (T, error)
}

// Outcome is the value produced by a ladder together with the tier that
// produced it and the failures of the rungs tried before it.
type Outcome[T any] struct {
	Value    T
	Tier     string
	Failures []error
}

// Degraded reports whether a rung other than the first produced the value.
func (o Outcome[T]) Degraded() bool {
	return len(o.Failures) > 0
}

// Run tries each strategy in order and returns the first success.
func Run[T any](ctx context.Context, strategies ...Strategy[T]) (Outcome[T], error) {
	var out Outcome[T]
	for _, s := range strategies {
		v, err := s.Run(ctx)
		if err == nil {
			out.Value = v
			out.Tier = s.Tier
			return out, nil
		}
		out.Failures = append(out.Failures, fmt.Errorf("%s: %w", s.Tier, err))
	}
	return out, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(out.Failures...))
}
