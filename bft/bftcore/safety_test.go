package bftcore_test

import (
	"testing"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftcore/bftcoretest"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeSafety(t *testing.T) {
	// Six validators, powers 100+80+75+60+50+45 = 410.
	vs := bftcoretest.WeightedValidatorSet([]uint64{100, 80, 75, 60, 50, 45})

	t.Run("single byzantine validator under the bound", func(t *testing.T) {
		// Validator index 3 carries power 60.
		r := bftcore.AnalyzeSafety(vs, []string{"val-0003"})

		require.Equal(t, uint64(410), r.TotalPower)
		require.Equal(t, uint64(274), r.QuorumThreshold)
		require.Equal(t, uint64(136), r.MaxTolerablePower)
		require.Equal(t, uint64(60), r.ByzantinePower)
		require.True(t, r.Safe)
		require.Equal(t, uint64(76), r.Margin)
	})

	t.Run("no byzantine validators", func(t *testing.T) {
		r := bftcore.AnalyzeSafety(vs, nil)

		require.Zero(t, r.ByzantinePower)
		require.True(t, r.Safe)
		require.Equal(t, r.MaxTolerablePower, r.Margin)
	})

	t.Run("byzantine power above the bound is unsafe", func(t *testing.T) {
		// 100 + 45 = 145 > 136.
		r := bftcore.AnalyzeSafety(vs, []string{"val-0000", "val-0005"})

		require.Equal(t, uint64(145), r.ByzantinePower)
		require.False(t, r.Safe)
		require.Zero(t, r.Margin)
	})

	t.Run("unknown IDs contribute nothing", func(t *testing.T) {
		r := bftcore.AnalyzeSafety(vs, []string{"stranger", "val-0003"})

		require.Equal(t, uint64(60), r.ByzantinePower)
		require.True(t, r.Safe)
	})

	t.Run("minority threshold blocks quorum", func(t *testing.T) {
		r := bftcore.AnalyzeSafety(vs, nil)

		// Withholding MinorityPower leaves at most
		// TotalPower - MinorityPower below the quorum threshold.
		require.Equal(t, bftcore.ByzantineMinority(410), r.MinorityPower)
		require.Less(t, r.TotalPower-r.MinorityPower, r.QuorumThreshold)
	})
}
