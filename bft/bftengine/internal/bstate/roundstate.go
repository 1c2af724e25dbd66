package bstate

import (
	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftdriver"
	"github.com/harbor-bft/harbor/bft/bftgossip"
	"github.com/harbor-bft/harbor/hassert"
)

// RoundState holds the values that need to exist only through
// a single round in the state machine.
type RoundState struct {
	AssertEnv hassert.Env

	H uint64
	R uint32

	S Step

	// The proposer selected for this round.
	ProposerID string

	// The deduplicating vote store scoped to (H, R).
	Register *bftcore.VoteRegister

	// The accepted proposal, nil until one arrives.
	Proposal *bftcore.Proposal

	// The votes this node cast, nil until cast.
	OwnPrevote   *bftcore.Vote
	OwnPrecommit *bftcore.Vote

	// Timer and cancel func produced from the [RoundTimer].
	StepTimer   <-chan struct{}
	CancelTimer func()

	// Non-nil while a build request to the driver is outstanding.
	BuildRespCh chan bftdriver.BuildBlockResponse

	// Set when the round commits, kept for the gossip snapshot.
	Certificate *bftcore.CommitCertificate
}

// Reset prepares the round state for (h, r),
// discarding everything tied to the previous round.
func (rs *RoundState) Reset(h uint64, r uint32, proposerID string, vals *bftcore.ValidatorSet) {
	rs.ClearTimer()

	rs.H = h
	rs.R = r
	rs.S = StepAwaitingProposal

	rs.ProposerID = proposerID
	rs.Register = bftcore.NewVoteRegister(h, r, vals)

	rs.Proposal = nil
	rs.OwnPrevote = nil
	rs.OwnPrecommit = nil

	rs.BuildRespCh = nil
	rs.Certificate = nil
}

// ClearTimer cancels and forgets the active step timer, if any.
func (rs *RoundState) ClearTimer() {
	if rs.CancelTimer != nil {
		rs.CancelTimer()
		rs.CancelTimer = nil
		rs.StepTimer = nil
	}
}

// ExpireTimer forgets the step timer without canceling,
// for use when the timer has already elapsed.
func (rs *RoundState) ExpireTimer() {
	rs.CancelTimer = nil
	rs.StepTimer = nil
}

// Snapshot assembles the gossip view of the round.
func (rs *RoundState) Snapshot() bftgossip.RoundUpdate {
	u := bftgossip.RoundUpdate{
		Height: rs.H,
		Round:  rs.R,

		Prevotes:   rs.Register.Votes(bftcore.PhasePrevote),
		Precommits: rs.Register.Votes(bftcore.PhasePrecommit),

		Certificate: rs.Certificate,
	}

	if rs.Proposal != nil {
		p := *rs.Proposal
		u.Proposal = &p
	}

	return u
}
