package bftstoretest

import (
	"context"
	"testing"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftcore/bftcoretest"
	"github.com/harbor-bft/harbor/bft/bftstore"
	"github.com/stretchr/testify/require"
)

type CertificateStoreFactory func(cleanup func(func())) (bftstore.CertificateStore, error)

func TestCertificateStoreCompliance(t *testing.T, f CertificateStoreFactory) {
	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		vs := bftcoretest.NewValidatorSet(4)
		cert := bftcore.NewCommitCertificate(1, 2, "my_block_hash", []bftcore.Vote{
			bftcoretest.Vote(vs, 0, 1, 2, bftcore.PhasePrecommit, "my_block_hash"),
			bftcoretest.Vote(vs, 1, 1, 2, bftcore.PhasePrecommit, "my_block_hash"),
			bftcoretest.Vote(vs, 2, 1, 2, bftcore.PhasePrecommit, "my_block_hash"),
		})

		require.NoError(t, s.SaveCertificate(ctx, cert))

		got, err := s.LoadCertificate(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, cert, got)
	})

	t.Run("returns HeightUnknownError when loading unknown height", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.LoadCertificate(ctx, 10)
		require.ErrorIs(t, err, bftstore.HeightUnknownError{Want: 10})
	})

	t.Run("returns CertificateOverwriteError on a double save", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		vs := bftcoretest.NewValidatorSet(4)
		cert := bftcore.NewCommitCertificate(1, 0, "my_block_hash", []bftcore.Vote{
			bftcoretest.Vote(vs, 0, 1, 0, bftcore.PhasePrecommit, "my_block_hash"),
		})

		require.NoError(t, s.SaveCertificate(ctx, cert))

		expErr := bftstore.CertificateOverwriteError{Height: 1}

		// Overwrite error even with the exact same certificate.
		require.ErrorIs(t, s.SaveCertificate(ctx, cert), expErr)

		// Overwrite error with a different round and hash.
		other := bftcore.NewCommitCertificate(1, 3, "other_hash", []bftcore.Vote{
			bftcoretest.Vote(vs, 1, 1, 3, bftcore.PhasePrecommit, "other_hash"),
		})
		require.ErrorIs(t, s.SaveCertificate(ctx, other), expErr)
	})

	t.Run("network height", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.NetworkHeight(ctx)
		require.ErrorIs(t, err, bftstore.ErrStoreUninitialized)

		vs := bftcoretest.NewValidatorSet(4)
		for _, height := range []uint64{1, 3, 2} {
			cert := bftcore.NewCommitCertificate(height, 0, "my_block_hash", []bftcore.Vote{
				bftcoretest.Vote(vs, 0, height, 0, bftcore.PhasePrecommit, "my_block_hash"),
			})
			require.NoError(t, s.SaveCertificate(ctx, cert))
		}

		h, err := s.NetworkHeight(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(3), h)
	})
}
