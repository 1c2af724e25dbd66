package bftstoretest

import (
	"context"
	"testing"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftcore/bftcoretest"
	"github.com/harbor-bft/harbor/bft/bftstore"
	"github.com/stretchr/testify/require"
)

type ValidatorStoreFactory func(cleanup func(func())) (bftstore.ValidatorStore, error)

func TestValidatorStoreCompliance(t *testing.T, f ValidatorStoreFactory) {
	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		vals := bftcoretest.DeterministicValidators(3)
		require.NoError(t, s.SaveValidatorSet(ctx, 1, vals))

		got, err := s.LoadValidatorSet(ctx, 1)
		require.NoError(t, err)

		require.Len(t, got, len(vals))
		for i, v := range got {
			require.Equal(t, vals[i].ID, v.ID)
			require.Equal(t, vals[i].Power, v.Power)

			// Runtime state comes back reset.
			require.Zero(t, v.ProposerPriority)
			require.True(t, v.Online)
		}
	})

	t.Run("runtime state is not persisted", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		vals := bftcoretest.DeterministicValidators(2)
		vals[0].ProposerPriority = 1234
		vals[1].Online = false

		require.NoError(t, s.SaveValidatorSet(ctx, 1, vals))

		got, err := s.LoadValidatorSet(ctx, 1)
		require.NoError(t, err)
		require.Zero(t, got[0].ProposerPriority)
		require.True(t, got[1].Online)
	})

	t.Run("returns HeightUnknownError when loading unknown height", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.LoadValidatorSet(ctx, 10)
		require.ErrorIs(t, err, bftstore.HeightUnknownError{Want: 10})
	})

	t.Run("returns ValidatorSetOverwriteError on a double save", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		vals := bftcoretest.DeterministicValidators(3)
		require.NoError(t, s.SaveValidatorSet(ctx, 1, vals))

		expErr := bftstore.ValidatorSetOverwriteError{Height: 1}
		require.ErrorIs(t, s.SaveValidatorSet(ctx, 1, vals), expErr)
		require.ErrorIs(t, s.SaveValidatorSet(ctx, 1, bftcoretest.DeterministicValidators(2)), expErr)
	})

	t.Run("loaded sets construct a ValidatorSet", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		require.NoError(t, s.SaveValidatorSet(ctx, 1, bftcoretest.DeterministicValidators(4)))

		got, err := s.LoadValidatorSet(ctx, 1)
		require.NoError(t, err)

		vs, err := bftcore.NewValidatorSet(got)
		require.NoError(t, err)
		require.Equal(t, 4, vs.Len())
	})
}
