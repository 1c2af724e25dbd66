package bstate_test

import (
	"testing"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftengine/internal/bstate"
	"github.com/stretchr/testify/require"
)

func TestStep_IsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []bstate.Step{
		bstate.StepAwaitingProposal,
		bstate.StepPrevoting,
		bstate.StepAwaitingPrevoteQuorum,
		bstate.StepPrecommitting,
		bstate.StepAwaitingPrecommitQuorum,
	} {
		require.False(t, s.IsTerminal(), "step %s", s)
	}

	require.True(t, bstate.StepCommitted.IsTerminal())
	require.True(t, bstate.StepTimedOut.IsTerminal())
}

func TestStepFromSummary(t *testing.T) {
	t.Parallel()

	// Total power 315, so quorum is 210.
	const available = 315

	summary := func(mut func(vs *bftcore.VoteSummary)) bftcore.VoteSummary {
		vs := bftcore.NewVoteSummary()
		vs.AvailablePower = available
		mut(&vs)
		return vs
	}

	tcs := []struct {
		name string
		vs   bftcore.VoteSummary
		want bstate.Step
	}{
		{
			name: "no votes at all",
			vs:   summary(func(*bftcore.VoteSummary) {}),
			want: bstate.StepAwaitingProposal,
		},
		{
			name: "prevotes short of quorum",
			vs: summary(func(vs *bftcore.VoteSummary) {
				vs.PrevotePower["abc"] = 180
				vs.TotalPrevotePower = 180
				vs.MostVotedPrevoteHash = "abc"
			}),
			want: bstate.StepAwaitingPrevoteQuorum,
		},
		{
			name: "prevote quorum without precommits",
			vs: summary(func(vs *bftcore.VoteSummary) {
				vs.PrevotePower["abc"] = 255
				vs.TotalPrevotePower = 255
				vs.MostVotedPrevoteHash = "abc"
			}),
			want: bstate.StepPrecommitting,
		},
		{
			name: "precommits short of quorum",
			vs: summary(func(vs *bftcore.VoteSummary) {
				vs.PrevotePower["abc"] = 255
				vs.TotalPrevotePower = 255
				vs.MostVotedPrevoteHash = "abc"

				vs.PrecommitPower["abc"] = 100
				vs.TotalPrecommitPower = 100
				vs.MostVotedPrecommitHash = "abc"
			}),
			want: bstate.StepAwaitingPrecommitQuorum,
		},
		{
			name: "precommit quorum on a block",
			vs: summary(func(vs *bftcore.VoteSummary) {
				vs.PrecommitPower["abc"] = 255
				vs.TotalPrecommitPower = 255
				vs.MostVotedPrecommitHash = "abc"
			}),
			want: bstate.StepCommitted,
		},
		{
			name: "precommit quorum on nil",
			vs: summary(func(vs *bftcore.VoteSummary) {
				vs.PrecommitPower[""] = 255
				vs.TotalPrecommitPower = 255
				vs.MostVotedPrecommitHash = ""
			}),
			want: bstate.StepTimedOut,
		},
		{
			name: "split precommits below quorum",
			vs: summary(func(vs *bftcore.VoteSummary) {
				vs.PrecommitPower["abc"] = 100
				vs.PrecommitPower["def"] = 100
				vs.TotalPrecommitPower = 200
				vs.MostVotedPrecommitHash = "abc"
			}),
			want: bstate.StepAwaitingPrecommitQuorum,
		},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, bstate.StepFromSummary(tc.vs))
		})
	}
}
