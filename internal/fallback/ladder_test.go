package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStopsAtFirstSuccess(t *testing.T) {
	var calls []string
	step := func(tier string, err error) Strategy[int] {
		return Strategy[int]{Tier: tier, Run: func(context.Context) (int, error) {
			calls = append(calls, tier)
			return len(calls), err
		}}
	}

	out, err := Run(context.Background(),
		step("first", errors.New("boom")),
		step("second", nil),
		step("third", nil),
	)

	require.NoError(t, err)
	assert.Equal(t, "second", out.Tier)
	assert.Equal(t, 2, out.Value)
	assert.True(t, out.Degraded())
	assert.Len(t, out.Failures, 1)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRunFirstTierIsNotDegraded(t *testing.T) {
	out, err := Run(context.Background(), Strategy[string]{
		Tier: "only",
		Run:  func(context.Context) (string, error) { return "ok", nil },
	})
	require.NoError(t, err)
	assert.False(t, out.Degraded())
	assert.Equal(t, "ok", out.Value)
}

func TestRunExhausted(t *testing.T) {
	sentinel := errors.New("sentinel")
	_, err := Run(context.Background(), Strategy[int]{
		Tier: "a",
		Run:  func(context.Context) (int, error) { return 0, sentinel },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, sentinel)
}
