package bstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftcore/bftcoretest"
	"github.com/harbor-bft/harbor/bft/bftdriver"
	"github.com/harbor-bft/harbor/bft/bftengine/internal/bstate"
	"github.com/harbor-bft/harbor/bft/bftengine/internal/bstate/bstatetest"
	"github.com/harbor-bft/harbor/bft/bftstore/bftmemstore"
	"github.com/harbor-bft/harbor/hassert/hasserttest"
	"github.com/harbor-bft/harbor/internal/htest"
	"github.com/stretchr/testify/require"
)

// smFixture wires a state machine against a mock timer,
// in-memory stores, and driver channels the test drains directly.
//
// Validator powers are 100, 80, 75, 60 (total 315, quorum 210),
// so the round-0 proposer of height 1 is val-0000
// and no two validators alone reach quorum.
type smFixture struct {
	Timer *bstatetest.MockRoundTimer

	BuildRequests chan bftdriver.BuildBlockRequest
	ApplyRequests chan bftdriver.ApplyBlockRequest

	CertStore *bftmemstore.CertificateStore
	ValStore  *bftmemstore.ValidatorStore

	// Parallel validator set for building other validators' votes.
	Vals *bftcore.ValidatorSet

	Cfg bstate.StateMachineConfig
}

func newSMFixture(t *testing.T, selfIdx int) *smFixture {
	t.Helper()

	powers := []uint64{100, 80, 75, 60}
	vals := bftcoretest.WeightedValidatorSet(powers)

	f := &smFixture{
		Timer: new(bstatetest.MockRoundTimer),

		BuildRequests: make(chan bftdriver.BuildBlockRequest, 4),
		ApplyRequests: make(chan bftdriver.ApplyBlockRequest, 4),

		CertStore: bftmemstore.NewCertificateStore(),
		ValStore:  bftmemstore.NewValidatorStore(),

		Vals: vals,
	}

	var selfID string
	if selfIdx >= 0 {
		selfID = vals.Validators()[selfIdx].ID
	}

	f.Cfg = bstate.StateMachineConfig{
		SelfID: selfID,

		InitialHeight: 1,
		Validators:    vals.Validators(),

		RoundTimer: f.Timer,

		CertificateStore: f.CertStore,
		ValidatorStore:   f.ValStore,

		BuildBlockRequests: f.BuildRequests,
		ApplyBlockRequests: f.ApplyRequests,

		AssertEnv: hasserttest.DefaultEnv(),
	}

	return f
}

func (f *smFixture) NewStateMachine(ctx context.Context, t *testing.T) *bstate.StateMachine {
	t.Helper()

	m, err := bstate.NewStateMachine(ctx, htest.NewLogger(t), f.Cfg)
	require.NoError(t, err)

	t.Cleanup(m.Wait)

	return m
}

// Vote builds a vote from the validator at idx, scoped to (h, r).
func (f *smFixture) Vote(idx int, h uint64, r uint32, phase bftcore.Phase, hash string) bftcore.Vote {
	return bftcoretest.Vote(f.Vals, idx, h, r, phase, hash)
}

func TestStateMachine_proposerCommitsOwnBlock(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 0) // val-0000 proposes height 1, round 0.

	precommitStarted := f.Timer.PrecommitStartNotification(1, 0)

	m := f.NewStateMachine(ctx, t)
	defer cancel()

	// Being the proposer, the kernel asks the driver for a block.
	buildReq := htest.ReceiveSoon(t, f.BuildRequests)
	require.Equal(t, uint64(1), buildReq.Height)
	require.Zero(t, buildReq.Round)

	// Two other prevotes arrive first: 155 power, below the 210 quorum.
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(1, 1, 0, bftcore.PhasePrevote, "abc")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(2, 1, 0, bftcore.PhasePrevote, "abc")))

	// The built block completes the quorum through our own prevote.
	buildReq.Resp <- bftdriver.BuildBlockResponse{
		Block: bftcore.BlockRef{Hash: "abc", Handle: "payload"},
	}

	// The kernel prevoted, saw the quorum, and cast its precommit.
	htest.ReceiveSoon(t, precommitStarted)

	snap, ok := m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, bstate.StepAwaitingPrecommitQuorum, snap.Step)
	require.Equal(t, uint64(255), snap.VoteSummary.PrevotePower["abc"])
	require.Equal(t, uint64(100), snap.VoteSummary.PrecommitPower["abc"])

	// Precommits from the same two validators complete the commit.
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(1, 1, 0, bftcore.PhasePrecommit, "abc")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(2, 1, 0, bftcore.PhasePrecommit, "abc")))

	applyReq := htest.ReceiveSoon(t, f.ApplyRequests)
	require.Equal(t, uint64(1), applyReq.Cert.Height)
	require.Zero(t, applyReq.Cert.Round)
	require.Equal(t, "abc", applyReq.Cert.BlockHash)
	require.Equal(t, uint64(255), applyReq.Cert.CommitPower)
	require.Equal(t, "payload", applyReq.Block.Handle)

	// The certificate is durable before application starts.
	cert, err := f.CertStore.LoadCertificate(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, applyReq.Cert, cert)

	// Completing the application advances to height 2, round 0,
	// where val-0001 has the highest accumulated priority.
	nextRound := f.Timer.ProposalStartNotification(2, 0)
	applyReq.Resp <- bftdriver.ApplyBlockResponse{Height: 1, BlockHash: "abc"}
	htest.ReceiveSoon(t, nextRound)

	snap, ok = m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(2), snap.Height)
	require.Zero(t, snap.Round)
	require.Equal(t, bstate.StepAwaitingProposal, snap.Step)
	require.Equal(t, "val-0001", snap.ProposerID)

	// Not the proposer anymore: no build request.
	htest.NotSending(t, f.BuildRequests)

	// Membership was recorded for both heights.
	for _, h := range []uint64{1, 2} {
		vals, err := f.ValStore.LoadValidatorSet(ctx, h)
		require.NoError(t, err)
		require.Len(t, vals, 4)
	}
}

func TestStateMachine_followerFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 1) // val-0001 follows val-0000's proposal.

	prevoteStarted := f.Timer.PrevoteStartNotification(1, 0)

	m := f.NewStateMachine(ctx, t)
	defer cancel()

	htest.NotSending(t, f.BuildRequests)

	t.Run("proposal from wrong proposer is rejected", func(t *testing.T) {
		res := m.HandleProposal(ctx, bftcore.Proposal{
			Height: 1, Round: 0,
			ProposerID: "val-0002",
			Block:      bftcore.BlockRef{Hash: "evil"},
		})
		require.Equal(t, bftcore.HandleProposalWrongProposer, res)
	})

	t.Run("proposal from unknown signer is rejected", func(t *testing.T) {
		res := m.HandleProposal(ctx, bftcore.Proposal{
			Height: 1, Round: 0,
			ProposerID: "stranger",
			Block:      bftcore.BlockRef{Hash: "evil"},
		})
		require.Equal(t, bftcore.HandleProposalSignerUnrecognized, res)
	})

	prop := bftcore.Proposal{
		Height: 1, Round: 0,
		ProposerID: "val-0000",
		Block:      bftcore.BlockRef{Hash: "abc"},
	}
	require.Equal(t, bftcore.HandleProposalAccepted, m.HandleProposal(ctx, prop))

	// The kernel prevoted the proposal's hash.
	htest.ReceiveSoon(t, prevoteStarted)

	t.Run("second proposal is already-have", func(t *testing.T) {
		require.Equal(t, bftcore.HandleProposalAlreadyHaveProposal, m.HandleProposal(ctx, prop))
	})

	// Prevotes from the proposer and val-0002: 100+75, plus our 80 is 255.
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(0, 1, 0, bftcore.PhasePrevote, "abc")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(2, 1, 0, bftcore.PhasePrevote, "abc")))

	// Own prevote matched the quorum target, so our precommit follows it.
	snap, ok := m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, bstate.StepAwaitingPrecommitQuorum, snap.Step)
	require.Equal(t, uint64(80), snap.VoteSummary.PrecommitPower["abc"])

	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(0, 1, 0, bftcore.PhasePrecommit, "abc")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(2, 1, 0, bftcore.PhasePrecommit, "abc")))

	applyReq := htest.ReceiveSoon(t, f.ApplyRequests)
	require.Equal(t, "abc", applyReq.Cert.BlockHash)

	// We never saw the block body beyond the proposal;
	// the handle travels from the proposal to the apply request.
	require.Equal(t, prop.Block, applyReq.Block)
}

func TestStateMachine_emptyProposalPrevotesNil(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 1) // val-0001 follows val-0000's proposal.

	prevoteStarted := f.Timer.PrevoteStartNotification(1, 0)

	m := f.NewStateMachine(ctx, t)

	// The selected proposer sent a proposal without a block ref.
	// There is nothing to wait for, so the nil prevote is immediate.
	res := m.HandleProposal(ctx, bftcore.Proposal{
		Height: 1, Round: 0,
		ProposerID: "val-0000",
	})
	require.Equal(t, bftcore.HandleProposalEmptyBlock, res)

	htest.ReceiveSoon(t, prevoteStarted)

	snap, ok := m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, bstate.StepAwaitingPrevoteQuorum, snap.Step)
	require.Equal(t, uint64(80), snap.VoteSummary.PrevotePower[""])

	// A later well-formed proposal is still accepted for the
	// block handle, but our prevote is already cast.
	res = m.HandleProposal(ctx, bftcore.Proposal{
		Height: 1, Round: 0,
		ProposerID: "val-0000",
		Block:      bftcore.BlockRef{Hash: "abc"},
	})
	require.Equal(t, bftcore.HandleProposalAccepted, res)

	snap, ok = m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, bstate.StepAwaitingPrevoteQuorum, snap.Step)
	require.Zero(t, snap.VoteSummary.PrevotePower["abc"])
}

func TestStateMachine_voteRouting(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 1)
	m := f.NewStateMachine(ctx, t)
	defer cancel()

	t.Run("vote for active round is accepted once", func(t *testing.T) {
		v := f.Vote(0, 1, 0, bftcore.PhasePrevote, "abc")
		require.Equal(t, bftcore.HandleVoteAccepted, m.HandleVote(ctx, v))
		require.Equal(t, bftcore.HandleVoteDuplicate, m.HandleVote(ctx, v))
	})

	t.Run("vote for near-future round is buffered", func(t *testing.T) {
		v := f.Vote(0, 1, 2, bftcore.PhasePrevote, "abc")
		require.Equal(t, bftcore.HandleVoteBuffered, m.HandleVote(ctx, v))
	})

	t.Run("vote beyond the buffer window is rejected", func(t *testing.T) {
		v := f.Vote(0, 1, 40, bftcore.PhasePrevote, "abc")
		require.Equal(t, bftcore.HandleVoteRoundTooFarInFuture, m.HandleVote(ctx, v))
	})

	t.Run("vote for a future height is rejected", func(t *testing.T) {
		v := f.Vote(0, 9, 0, bftcore.PhasePrevote, "abc")
		require.Equal(t, bftcore.HandleVoteRoundTooFarInFuture, m.HandleVote(ctx, v))
	})

	t.Run("vote from unknown signer is rejected", func(t *testing.T) {
		v := f.Vote(0, 1, 0, bftcore.PhasePrevote, "abc")
		v.ValidatorID = "stranger"
		require.Equal(t, bftcore.HandleVoteSignerUnrecognized, m.HandleVote(ctx, v))
	})

	t.Run("vote with invalid phase is rejected", func(t *testing.T) {
		v := f.Vote(0, 1, 0, bftcore.PhaseInvalid, "abc")
		require.Equal(t, bftcore.HandleVoteBadPhase, m.HandleVote(ctx, v))
	})
}

func TestStateMachine_nilRoundAdvancesAndRecovers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 1) // val-0001 proposes round 1 of height 1.

	proposalStarted := f.Timer.ProposalStartNotification(1, 0)
	prevoteStarted := f.Timer.PrevoteStartNotification(1, 0)

	m := f.NewStateMachine(ctx, t)
	defer cancel()

	// No proposal arrives before the timeout: the kernel prevotes nil.
	htest.ReceiveSoon(t, proposalStarted)
	require.NoError(t, f.Timer.ElapseProposalTimer(1, 0))
	htest.ReceiveSoon(t, prevoteStarted)

	// Everyone else prevotes nil too: 100+75 plus our 80.
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(0, 1, 0, bftcore.PhasePrevote, "")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(2, 1, 0, bftcore.PhasePrevote, "")))

	// Nil prevote quorum leads to our nil precommit;
	// nil precommit quorum abandons the round without touching the height.
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(0, 1, 0, bftcore.PhasePrecommit, "")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(2, 1, 0, bftcore.PhasePrecommit, "")))

	// Round 1 of the same height, and now we are the proposer.
	buildReq := htest.ReceiveSoon(t, f.BuildRequests)
	require.Equal(t, uint64(1), buildReq.Height)
	require.Equal(t, uint32(1), buildReq.Round)

	buildReq.Resp <- bftdriver.BuildBlockResponse{
		Block: bftcore.BlockRef{Hash: "def"},
	}

	// The network likes our round-1 block.
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(0, 1, 1, bftcore.PhasePrevote, "def")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(2, 1, 1, bftcore.PhasePrevote, "def")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(0, 1, 1, bftcore.PhasePrecommit, "def")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(2, 1, 1, bftcore.PhasePrecommit, "def")))

	applyReq := htest.ReceiveSoon(t, f.ApplyRequests)
	require.Equal(t, uint64(1), applyReq.Cert.Height)
	require.Equal(t, uint32(1), applyReq.Cert.Round)
	require.Equal(t, "def", applyReq.Cert.BlockHash)
}

func TestStateMachine_bufferedVotesReplayOnRoundEntry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 3) // Low power; never the proposer early on.

	prevoteStarted := f.Timer.PrevoteStartNotification(1, 0)
	precommitStarted := f.Timer.PrecommitStartNotification(1, 0)
	round1Precommitted := f.Timer.PrecommitStartNotification(1, 1)

	m := f.NewStateMachine(ctx, t)
	defer cancel()

	// The rest of the network is already in round 1 of height 1:
	// their round-1 prevotes arrive before our round 0 gives up.
	for _, idx := range []int{0, 1, 2} {
		require.Equal(t, bftcore.HandleVoteBuffered,
			m.HandleVote(ctx, f.Vote(idx, 1, 1, bftcore.PhasePrevote, "abc")))
	}

	// Our round 0 times out entirely.
	require.NoError(t, f.Timer.ElapseProposalTimer(1, 0))
	htest.ReceiveSoon(t, prevoteStarted)
	require.NoError(t, f.Timer.ElapsePrevoteTimer(1, 0))
	htest.ReceiveSoon(t, precommitStarted)
	require.NoError(t, f.Timer.ElapsePrecommitTimer(1, 0))

	// On entering round 1 the buffered prevotes replay,
	// carrying us straight through our own prevote and precommit.
	htest.ReceiveSoon(t, round1Precommitted)

	// 255 power on "abc" was already a quorum, so we joined it,
	// and our precommit followed our prevote.
	snap, ok := m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(1), snap.Height)
	require.Equal(t, uint32(1), snap.Round)
	require.Equal(t, bstate.StepAwaitingPrecommitQuorum, snap.Step)
	require.Equal(t, uint64(315), snap.VoteSummary.PrevotePower["abc"])
	require.Equal(t, uint64(60), snap.VoteSummary.PrecommitPower["abc"])
}

func TestStateMachine_commitWinsOverLateTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 1)

	commitWaitStarted := f.Timer.CommitWaitStartNotification(1, 0)

	m := f.NewStateMachine(ctx, t)
	defer cancel()

	require.Equal(t, bftcore.HandleProposalAccepted, m.HandleProposal(ctx, bftcore.Proposal{
		Height: 1, Round: 0,
		ProposerID: "val-0000",
		Block:      bftcore.BlockRef{Hash: "abc"},
	}))

	for _, idx := range []int{0, 2} {
		require.Equal(t, bftcore.HandleVoteAccepted,
			m.HandleVote(ctx, f.Vote(idx, 1, 0, bftcore.PhasePrevote, "abc")))
	}
	for _, idx := range []int{0, 2} {
		require.Equal(t, bftcore.HandleVoteAccepted,
			m.HandleVote(ctx, f.Vote(idx, 1, 0, bftcore.PhasePrecommit, "abc")))
	}

	applyReq := htest.ReceiveSoon(t, f.ApplyRequests)
	htest.ReceiveSoon(t, commitWaitStarted)

	// The driver is slow; the commit wait elapses.
	// The commit must stand: no round advance, no new height.
	require.NoError(t, f.Timer.ElapseCommitWaitTimer(1, 0))

	snap, ok := m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(1), snap.Height)
	require.Zero(t, snap.Round)
	require.Equal(t, bstate.StepCommitted, snap.Step)

	// The driver finally responds; only now does the height advance.
	applyReq.Resp <- bftdriver.ApplyBlockResponse{Height: 1, BlockHash: "abc"}

	require.Eventually(t, func() bool {
		snap, ok := m.Snapshot(ctx)
		return ok && snap.Height == 2
	}, time.Duration(htest.ScaleMs(500)), time.Duration(htest.ScaleMs(5)))
}

func TestStateMachine_membershipChangesApplyBetweenHeights(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 1)
	m := f.NewStateMachine(ctx, t)
	defer cancel()

	require.Equal(t, bftcore.HandleProposalAccepted, m.HandleProposal(ctx, bftcore.Proposal{
		Height: 1, Round: 0,
		ProposerID: "val-0000",
		Block:      bftcore.BlockRef{Hash: "abc"},
	}))
	for _, idx := range []int{0, 2} {
		require.Equal(t, bftcore.HandleVoteAccepted,
			m.HandleVote(ctx, f.Vote(idx, 1, 0, bftcore.PhasePrevote, "abc")))
	}
	for _, idx := range []int{0, 2} {
		require.Equal(t, bftcore.HandleVoteAccepted,
			m.HandleVote(ctx, f.Vote(idx, 1, 0, bftcore.PhasePrecommit, "abc")))
	}

	applyReq := htest.ReceiveSoon(t, f.ApplyRequests)
	applyReq.Resp <- bftdriver.ApplyBlockResponse{
		Height: 1, BlockHash: "abc",
		Changes: []bftcore.MembershipChange{
			{ID: "val-0003", Power: 0},    // leave
			{ID: "val-joiner", Power: 90}, // join
		},
	}

	require.Eventually(t, func() bool {
		snap, ok := m.Snapshot(ctx)
		return ok && snap.Height == 2
	}, time.Duration(htest.ScaleMs(500)), time.Duration(htest.ScaleMs(5)))

	snap, ok := m.Snapshot(ctx)
	require.True(t, ok)
	require.Len(t, snap.Validators, 4)

	ids := make([]string, len(snap.Validators))
	for i, v := range snap.Validators {
		ids[i] = v.ID
	}
	require.NotContains(t, ids, "val-0003")
	require.Contains(t, ids, "val-joiner")

	// The new membership was recorded for height 2.
	stored, err := f.ValStore.LoadValidatorSet(ctx, 2)
	require.NoError(t, err)
	require.Len(t, stored, 4)
}

func TestStateMachine_skipToHeight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 1)
	m := f.NewStateMachine(ctx, t)
	defer cancel()

	require.Error(t, m.SkipToHeight(ctx, 1))

	require.NoError(t, m.SkipToHeight(ctx, 7))

	snap, ok := m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(7), snap.Height)
	require.Zero(t, snap.Round)
	require.Equal(t, bstate.StepAwaitingProposal, snap.Step)
}

func TestStateMachine_observerWithoutSelfID(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, -1)
	m := f.NewStateMachine(ctx, t)
	defer cancel()

	// An observer never proposes.
	htest.NotSending(t, f.BuildRequests)

	require.Equal(t, bftcore.HandleProposalAccepted, m.HandleProposal(ctx, bftcore.Proposal{
		Height: 1, Round: 0,
		ProposerID: "val-0000",
		Block:      bftcore.BlockRef{Hash: "abc"},
	}))

	// Without our vote, quorum needs three of the four validators.
	for _, idx := range []int{0, 1, 2} {
		require.Equal(t, bftcore.HandleVoteAccepted,
			m.HandleVote(ctx, f.Vote(idx, 1, 0, bftcore.PhasePrevote, "abc")))
	}
	for _, idx := range []int{0, 1, 2} {
		require.Equal(t, bftcore.HandleVoteAccepted,
			m.HandleVote(ctx, f.Vote(idx, 1, 0, bftcore.PhasePrecommit, "abc")))
	}

	applyReq := htest.ReceiveSoon(t, f.ApplyRequests)
	require.Equal(t, uint64(255), applyReq.Cert.CommitPower)

	// Only the three voters appear in the certificate.
	require.Len(t, applyReq.Cert.Precommits, 3)
}

func TestStateMachine_safetyUnderByzantineMinority(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Three honest nodes (powers 100, 80, 60) and a byzantine
	// val-0002 (75, below the tolerable 104) that equivocates:
	// it votes "abc" toward two nodes and "def" toward the third.
	honest := []int{0, 1, 3}

	fixtures := make(map[int]*smFixture, len(honest))
	machines := make(map[int]*bstate.StateMachine, len(honest))
	precommitStarted := make(map[int]<-chan struct{}, len(honest))

	for _, idx := range honest {
		f := newSMFixture(t, idx)
		fixtures[idx] = f
		precommitStarted[idx] = f.Timer.PrecommitStartNotification(1, 0)
		machines[idx] = f.NewStateMachine(ctx, t)
	}
	defer cancel()

	// val-0000 proposes; relay its block to the other honest nodes.
	buildReq := htest.ReceiveSoon(t, fixtures[0].BuildRequests)
	buildReq.Resp <- bftdriver.BuildBlockResponse{
		Block: bftcore.BlockRef{Hash: "abc", Handle: "payload"},
	}
	prop := bftcore.Proposal{
		Height: 1, Round: 0,
		ProposerID: "val-0000",
		Block:      bftcore.BlockRef{Hash: "abc", Handle: "payload"},
	}
	for _, idx := range []int{1, 3} {
		require.Equal(t, bftcore.HandleProposalAccepted,
			machines[idx].HandleProposal(ctx, prop))
	}

	byzTarget := func(idx int) string {
		if idx == 3 {
			return "def"
		}
		return "abc"
	}

	// Honest prevotes reach everyone; the byzantine prevote splits.
	for _, idx := range honest {
		f, m := fixtures[idx], machines[idx]
		for _, from := range honest {
			if from == idx {
				continue
			}
			require.Equal(t, bftcore.HandleVoteAccepted,
				m.HandleVote(ctx, f.Vote(from, 1, 0, bftcore.PhasePrevote, "abc")))
		}
		require.Equal(t, bftcore.HandleVoteAccepted,
			m.HandleVote(ctx, f.Vote(2, 1, 0, bftcore.PhasePrevote, byzTarget(idx))))
	}

	// The honest 240 power alone clears the 210 quorum for "abc",
	// so every node precommits it regardless of the split vote.
	for _, idx := range honest {
		htest.ReceiveSoon(t, precommitStarted[idx])
	}

	for _, idx := range honest {
		f, m := fixtures[idx], machines[idx]
		for _, from := range honest {
			if from == idx {
				continue
			}
			require.Equal(t, bftcore.HandleVoteAccepted,
				m.HandleVote(ctx, f.Vote(from, 1, 0, bftcore.PhasePrecommit, "abc")))
		}
		require.Equal(t, bftcore.HandleVoteAccepted,
			m.HandleVote(ctx, f.Vote(2, 1, 0, bftcore.PhasePrecommit, byzTarget(idx))))
	}

	// Every node commits, and all certificates agree on the block.
	committed := make(map[string]bool)
	for _, idx := range honest {
		applyReq := htest.ReceiveSoon(t, fixtures[idx].ApplyRequests)
		require.Equal(t, uint64(1), applyReq.Cert.Height)
		committed[applyReq.Cert.BlockHash] = true
	}
	require.Len(t, committed, 1)
	require.True(t, committed["abc"])
}

func TestStateMachine_setValidatorOnline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newSMFixture(t, 1) // val-0001 follows val-0000's proposal.

	prevoteStarted := f.Timer.PrevoteStartNotification(1, 0)
	precommitStarted := f.Timer.PrecommitStartNotification(1, 0)

	m := f.NewStateMachine(ctx, t)
	defer cancel()

	require.Error(t, m.SetValidatorOnline(ctx, "stranger", false))

	require.Equal(t, bftcore.HandleProposalAccepted, m.HandleProposal(ctx, bftcore.Proposal{
		Height: 1, Round: 0,
		ProposerID: "val-0000",
		Block:      bftcore.BlockRef{Hash: "abc"},
	}))
	htest.ReceiveSoon(t, prevoteStarted)

	// The other two voters split away from us: def 175, abc 80.
	// Neither side has quorum, but val-0003's 60 could still
	// push def to 235, so the prevote timer keeps running.
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(0, 1, 0, bftcore.PhasePrevote, "def")))
	require.Equal(t, bftcore.HandleVoteAccepted,
		m.HandleVote(ctx, f.Vote(2, 1, 0, bftcore.PhasePrevote, "def")))

	snap, ok := m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, bstate.StepAwaitingPrevoteQuorum, snap.Step)

	// The transport reports val-0003 gone.
	// Every remaining online validator has voted and no target
	// can reach quorum, so the nil precommit is cast early.
	require.NoError(t, m.SetValidatorOnline(ctx, "val-0003", false))
	htest.ReceiveSoon(t, precommitStarted)

	snap, ok = m.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, bstate.StepAwaitingPrecommitQuorum, snap.Step)
	require.Equal(t, uint64(80), snap.VoteSummary.PrecommitPower[""])
}
