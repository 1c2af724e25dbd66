package bftcore

import (
	"context"

	"github.com/harbor-bft/harbor/hexchange"
)

// ConsensusHandler is the interface the transport layer calls
// to deliver consensus messages, expressed in transport feedback terms.
type ConsensusHandler interface {
	HandleProposal(context.Context, Proposal) hexchange.Feedback
	HandleVote(context.Context, Vote) hexchange.Feedback
}

// FineGrainedHandler is the preferred interface (over [ConsensusHandler])
// for handling inbound consensus messages;
// it reports exactly what happened to each message.
//
// Use [FeedbackMapper] to adapt a FineGrainedHandler into a ConsensusHandler.
type FineGrainedHandler interface {
	HandleProposal(context.Context, Proposal) HandleProposalResult
	HandleVote(context.Context, Vote) HandleVoteResult
}

// HandleProposalResult is the set of outcomes for an inbound proposal.
type HandleProposalResult uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type HandleProposalResult -trimprefix=HandleProposal
const (
	// Keep zero value invalid, so return 0 is somewhat meaningful.
	_ HandleProposalResult = iota

	// The proposal was accepted for the active round.
	HandleProposalAccepted

	// A proposal was already accepted for this height and round.
	HandleProposalAlreadyHaveProposal

	// The proposer ID did not match the selected proposer for the round.
	HandleProposalWrongProposer

	// The proposer ID is not in the current validator set.
	HandleProposalSignerUnrecognized

	// The proposal carried no block reference.
	HandleProposalEmptyBlock

	// Proposal had an older height or round than the active round.
	HandleProposalRoundTooOld

	// Proposal is beyond the rounds the engine is willing to buffer.
	HandleProposalRoundTooFarInFuture

	// Internal error not necessarily correlated with the proposal itself.
	HandleProposalInternalError
)

// HandleVoteResult is the set of outcomes for an inbound vote.
type HandleVoteResult uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type HandleVoteResult -trimprefix=HandleVote
const (
	_ HandleVoteResult = iota

	// The vote was new and tallied in the active round.
	HandleVoteAccepted

	// We already had this validator's vote for the phase.
	HandleVoteDuplicate

	// The vote is for a future round of the active height; buffered.
	HandleVoteBuffered

	// The validator ID is not in the current validator set.
	HandleVoteSignerUnrecognized

	// The phase value was not prevote or precommit.
	HandleVoteBadPhase

	// Vote had an older height or round than the active round.
	HandleVoteRoundTooOld

	// Vote is beyond the rounds the engine is willing to buffer.
	HandleVoteRoundTooFarInFuture

	// Internal error not necessarily correlated with the vote itself.
	HandleVoteInternalError
)

// FeedbackMapper adapts a [FineGrainedHandler] to the transport-facing
// [ConsensusHandler], collapsing detailed outcomes into peer feedback.
type FeedbackMapper struct {
	Handler FineGrainedHandler
}

func (m FeedbackMapper) HandleProposal(ctx context.Context, p Proposal) hexchange.Feedback {
	switch m.Handler.HandleProposal(ctx, p) {
	case HandleProposalAccepted:
		return hexchange.FeedbackAccepted
	case HandleProposalAlreadyHaveProposal, HandleProposalRoundTooOld, HandleProposalRoundTooFarInFuture:
		return hexchange.FeedbackIgnored
	case HandleProposalWrongProposer, HandleProposalSignerUnrecognized, HandleProposalEmptyBlock:
		return hexchange.FeedbackRejected
	default:
		// Internal errors are not the peer's fault.
		return hexchange.FeedbackIgnored
	}
}

func (m FeedbackMapper) HandleVote(ctx context.Context, v Vote) hexchange.Feedback {
	switch m.Handler.HandleVote(ctx, v) {
	case HandleVoteAccepted, HandleVoteBuffered:
		return hexchange.FeedbackAccepted
	case HandleVoteDuplicate, HandleVoteRoundTooOld, HandleVoteRoundTooFarInFuture:
		return hexchange.FeedbackIgnored
	case HandleVoteSignerUnrecognized, HandleVoteBadPhase:
		return hexchange.FeedbackRejected
	default:
		return hexchange.FeedbackIgnored
	}
}
