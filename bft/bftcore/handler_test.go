package bftcore_test

import (
	"context"
	"testing"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/hexchange"
	"github.com/stretchr/testify/require"
)

type stubFineGrainedHandler struct {
	proposalResult bftcore.HandleProposalResult
	voteResult     bftcore.HandleVoteResult
}

func (h stubFineGrainedHandler) HandleProposal(context.Context, bftcore.Proposal) bftcore.HandleProposalResult {
	return h.proposalResult
}

func (h stubFineGrainedHandler) HandleVote(context.Context, bftcore.Vote) bftcore.HandleVoteResult {
	return h.voteResult
}

func TestFeedbackMapper_proposals(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		result bftcore.HandleProposalResult
		want   hexchange.Feedback
	}{
		{bftcore.HandleProposalAccepted, hexchange.FeedbackAccepted},
		{bftcore.HandleProposalAlreadyHaveProposal, hexchange.FeedbackIgnored},
		{bftcore.HandleProposalRoundTooOld, hexchange.FeedbackIgnored},
		{bftcore.HandleProposalRoundTooFarInFuture, hexchange.FeedbackIgnored},
		{bftcore.HandleProposalWrongProposer, hexchange.FeedbackRejected},
		{bftcore.HandleProposalSignerUnrecognized, hexchange.FeedbackRejected},
		{bftcore.HandleProposalEmptyBlock, hexchange.FeedbackRejected},
		{bftcore.HandleProposalInternalError, hexchange.FeedbackIgnored},
	} {
		t.Run(tc.result.String(), func(t *testing.T) {
			m := bftcore.FeedbackMapper{
				Handler: stubFineGrainedHandler{proposalResult: tc.result},
			}
			require.Equal(t, tc.want, m.HandleProposal(ctx, bftcore.Proposal{}))
		})
	}
}

func TestFeedbackMapper_votes(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		result bftcore.HandleVoteResult
		want   hexchange.Feedback
	}{
		{bftcore.HandleVoteAccepted, hexchange.FeedbackAccepted},
		{bftcore.HandleVoteBuffered, hexchange.FeedbackAccepted},
		{bftcore.HandleVoteDuplicate, hexchange.FeedbackIgnored},
		{bftcore.HandleVoteRoundTooOld, hexchange.FeedbackIgnored},
		{bftcore.HandleVoteRoundTooFarInFuture, hexchange.FeedbackIgnored},
		{bftcore.HandleVoteSignerUnrecognized, hexchange.FeedbackRejected},
		{bftcore.HandleVoteBadPhase, hexchange.FeedbackRejected},
		{bftcore.HandleVoteInternalError, hexchange.FeedbackIgnored},
	} {
		t.Run(tc.result.String(), func(t *testing.T) {
			m := bftcore.FeedbackMapper{
				Handler: stubFineGrainedHandler{voteResult: tc.result},
			}
			require.Equal(t, tc.want, m.HandleVote(ctx, bftcore.Vote{}))
		})
	}
}
