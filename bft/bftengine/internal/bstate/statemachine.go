package bstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/trace"
	"time"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftdriver"
	"github.com/harbor-bft/harbor/bft/bftengine/internal/bmetrics"
	"github.com/harbor-bft/harbor/bft/bftgossip"
	"github.com/harbor-bft/harbor/bft/bftstore"
	"github.com/harbor-bft/harbor/hassert"
	"github.com/harbor-bft/harbor/hwatchdog"
	"github.com/harbor-bft/harbor/internal/hchan"
	"github.com/harbor-bft/harbor/internal/hlog"
)

// StateMachine is the single kernel goroutine driving consensus:
// it owns the height and round counters, the validator set,
// and the active [RoundState],
// and it is the only writer to any of them.
//
// All interaction happens through channel-based requests,
// so the kernel never needs a mutex for its own state.
type StateMachine struct {
	log *slog.Logger

	selfID string

	rt RoundTimer

	certStore bftstore.CertificateStore
	valStore  bftstore.ValidatorStore

	buildRequestCh chan<- bftdriver.BuildBlockRequest
	applyRequestCh chan<- bftdriver.ApplyBlockRequest

	// Kernel-owned, 1-buffered; stale snapshots are replaced, never queued.
	roundUpdateCh chan bftgossip.RoundUpdate

	proposalRequests chan proposalRequest
	voteRequests     chan voteRequest
	snapshotRequests chan chan Snapshot
	skipRequests     chan skipRequest
	onlineRequests   chan onlineRequest

	assertEnv hassert.Env

	wd *hwatchdog.Watchdog

	mc *bmetrics.Collector

	kernelDone chan struct{}
}

type StateMachineConfig struct {
	// The validator ID this node votes as.
	// Empty means the node observes consensus without participating.
	SelfID string

	// Height to begin consensus at, and the membership in effect there.
	InitialHeight uint64
	Validators    []bftcore.Validator

	RoundTimer RoundTimer

	CertificateStore bftstore.CertificateStore
	ValidatorStore   bftstore.ValidatorStore

	// Channels the driver serves.
	// See [bftdriver] for the request contracts.
	BuildBlockRequests chan<- bftdriver.BuildBlockRequest
	ApplyBlockRequests chan<- bftdriver.ApplyBlockRequest

	// MaxFutureRounds bounds how far ahead of the active round
	// a vote may be and still be buffered.
	// Zero means the default of 4.
	MaxFutureRounds uint32

	AssertEnv hassert.Env

	Watchdog *hwatchdog.Watchdog

	// Optional; nil means no metrics are collected.
	MetricsCollector *bmetrics.Collector
}

type proposalRequest struct {
	P    bftcore.Proposal
	Resp chan bftcore.HandleProposalResult
}

type voteRequest struct {
	V    bftcore.Vote
	Resp chan bftcore.HandleVoteResult
}

type skipRequest struct {
	Height uint64
	Resp   chan error
}

type onlineRequest struct {
	ID     string
	Online bool
	Resp   chan error
}

// Snapshot is a point-in-time view of the state machine for diagnostics.
type Snapshot struct {
	Height uint64
	Round  uint32
	Step   Step

	ProposerID string

	VoteSummary bftcore.VoteSummary

	Validators []bftcore.Validator
}

const defaultMaxFutureRounds = 4

func NewStateMachine(ctx context.Context, log *slog.Logger, cfg StateMachineConfig) (*StateMachine, error) {
	if cfg.RoundTimer == nil {
		return nil, errors.New("StateMachineConfig.RoundTimer must not be nil")
	}
	if cfg.CertificateStore == nil {
		return nil, errors.New("StateMachineConfig.CertificateStore must not be nil")
	}
	if cfg.ValidatorStore == nil {
		return nil, errors.New("StateMachineConfig.ValidatorStore must not be nil")
	}
	if cfg.InitialHeight == 0 {
		return nil, errors.New("StateMachineConfig.InitialHeight must be positive")
	}

	vals, err := bftcore.NewValidatorSet(cfg.Validators)
	if err != nil {
		return nil, fmt.Errorf("invalid initial validators: %w", err)
	}

	maxFuture := cfg.MaxFutureRounds
	if maxFuture == 0 {
		maxFuture = defaultMaxFutureRounds
	}

	m := &StateMachine{
		log: log,

		selfID: cfg.SelfID,

		rt: cfg.RoundTimer,

		certStore: cfg.CertificateStore,
		valStore:  cfg.ValidatorStore,

		buildRequestCh: cfg.BuildBlockRequests,
		applyRequestCh: cfg.ApplyBlockRequests,

		roundUpdateCh: make(chan bftgossip.RoundUpdate, 1),

		proposalRequests: make(chan proposalRequest),
		voteRequests:     make(chan voteRequest),
		snapshotRequests: make(chan chan Snapshot),
		skipRequests:     make(chan skipRequest),
		onlineRequests:   make(chan onlineRequest),

		assertEnv: cfg.AssertEnv,

		wd: cfg.Watchdog,

		mc: cfg.MetricsCollector,

		kernelDone: make(chan struct{}),
	}

	go m.kernel(ctx, kernelState{
		height: cfg.InitialHeight,
		vals:   vals,

		maxFutureRounds: maxFuture,

		futureVotes: make(map[uint32][]bftcore.Vote),
	})

	if m.selfID == "" {
		m.log.Info("State machine starting without a self ID; can never participate in consensus")
	}

	return m, nil
}

func (m *StateMachine) Wait() {
	<-m.kernelDone
}

// RoundUpdates returns the channel of gossip snapshots,
// intended to be passed to a [bftgossip.Strategy].
func (m *StateMachine) RoundUpdates() <-chan bftgossip.RoundUpdate {
	return m.roundUpdateCh
}

// HandleProposal submits a proposal to the kernel and reports the outcome.
// It implements part of [bftcore.FineGrainedHandler].
func (m *StateMachine) HandleProposal(ctx context.Context, p bftcore.Proposal) bftcore.HandleProposalResult {
	req := proposalRequest{
		P:    p,
		Resp: make(chan bftcore.HandleProposalResult, 1),
	}

	res, ok := hchan.ReqResp(
		ctx, m.log,
		m.proposalRequests, req,
		req.Resp,
		"handling proposal",
	)
	if !ok {
		return bftcore.HandleProposalInternalError
	}
	return res
}

// HandleVote submits a vote to the kernel and reports the outcome.
// It implements part of [bftcore.FineGrainedHandler].
func (m *StateMachine) HandleVote(ctx context.Context, v bftcore.Vote) bftcore.HandleVoteResult {
	req := voteRequest{
		V:    v,
		Resp: make(chan bftcore.HandleVoteResult, 1),
	}

	res, ok := hchan.ReqResp(
		ctx, m.log,
		m.voteRequests, req,
		req.Resp,
		"handling vote",
	)
	if !ok {
		return bftcore.HandleVoteInternalError
	}
	return res
}

// Snapshot returns a point-in-time view of the kernel state.
func (m *StateMachine) Snapshot(ctx context.Context) (Snapshot, bool) {
	respCh := make(chan Snapshot, 1)
	return hchan.ReqResp(
		ctx, m.log,
		m.snapshotRequests, respCh,
		respCh,
		"requesting snapshot",
	)
}

// SkipToHeight abandons the active height and restarts consensus at height,
// for use when the node has fallen behind and caught up through block sync.
// The target must be beyond the active height.
func (m *StateMachine) SkipToHeight(ctx context.Context, height uint64) error {
	req := skipRequest{
		Height: height,
		Resp:   make(chan error, 1),
	}

	err, ok := hchan.ReqResp(
		ctx, m.log,
		m.skipRequests, req,
		req.Resp,
		"requesting height skip",
	)
	if !ok {
		return context.Cause(ctx)
	}
	return err
}

// SetValidatorOnline records a transport-reported liveness hint
// for the given validator.
// Marking a validator offline lets the kernel stop waiting on it
// once every online validator has voted;
// quorum arithmetic is never affected.
func (m *StateMachine) SetValidatorOnline(ctx context.Context, id string, online bool) error {
	req := onlineRequest{
		ID:     id,
		Online: online,
		Resp:   make(chan error, 1),
	}

	err, ok := hchan.ReqResp(
		ctx, m.log,
		m.onlineRequests, req,
		req.Resp,
		"requesting validator liveness update",
	)
	if !ok {
		return context.Cause(ctx)
	}
	return err
}

// kernelState is the mutable state owned exclusively by the kernel goroutine.
type kernelState struct {
	height uint64
	round  uint32

	vals *bftcore.ValidatorSet

	rs RoundState

	maxFutureRounds uint32

	// Buffered votes for future rounds of the active height,
	// keyed by round.
	futureVotes map[uint32][]bftcore.Vote

	// Non-nil while a block application is outstanding with the driver.
	applyRespCh chan bftdriver.ApplyBlockResponse
}

func (m *StateMachine) kernel(ctx context.Context, ks kernelState) {
	defer close(m.kernelDone)

	ctx, task := trace.NewTask(ctx, "StateMachine.kernel")
	defer task.End()

	ks.rs.AssertEnv = m.assertEnv

	var wSig <-chan hwatchdog.Signal
	if m.wd != nil {
		wSig = m.wd.Monitor(ctx, hwatchdog.MonitorConfig{
			Name:     "State machine kernel",
			Interval: 10 * time.Second, Jitter: time.Second,
			ResponseTimeout: time.Second,
		})
	}

	if err := m.recordValidators(ctx, &ks); err != nil {
		hlog.HRE(m.log, ks.height, ks.round, err).Error("Failed to record initial validator set")
		return
	}

	if m.mc != nil {
		// Commit baseline, so the collector can emit
		// before this node sees its first commit.
		m.mc.UpdateCommit(bmetrics.CommitMetrics{H: ks.height - 1})
	}

	m.enterRound(ctx, &ks)

	for {
		select {
		case <-ctx.Done():
			m.log.Info(
				"State machine kernel quitting",
				"cause", context.Cause(ctx),
				"height", ks.height, "round", ks.round, "step", ks.rs.S,
			)
			return

		case req := <-m.proposalRequests:
			req.Resp <- m.handleProposal(ctx, &ks, req.P)

		case req := <-m.voteRequests:
			req.Resp <- m.handleVote(ctx, &ks, req.V)

		case respCh := <-m.snapshotRequests:
			respCh <- Snapshot{
				Height: ks.height,
				Round:  ks.round,
				Step:   ks.rs.S,

				ProposerID: ks.rs.ProposerID,

				VoteSummary: ks.rs.Register.Summary(),

				Validators: ks.vals.Validators(),
			}

		case req := <-m.skipRequests:
			req.Resp <- m.skipToHeight(ctx, &ks, req.Height)

		case req := <-m.onlineRequests:
			err := ks.vals.SetOnline(req.ID, req.Online)
			req.Resp <- err
			if err == nil && !req.Online {
				// An offline validator may have been the only
				// vote the current phase was still waiting for.
				m.checkProgress(ctx, &ks)
			}

		case <-ks.rs.StepTimer:
			ks.rs.ExpireTimer()
			m.handleTimerElapsed(ctx, &ks)

		case resp := <-ks.rs.BuildRespCh:
			ks.rs.BuildRespCh = nil
			m.handleBuildResponse(ctx, &ks, resp)

		case resp := <-ks.applyRespCh:
			ks.applyRespCh = nil
			m.handleApplyResponse(ctx, &ks, resp)

		case sig := <-wSig:
			close(sig.Alive)
		}
	}
}

// enterRound advances the proposer rotation and resets the round state
// for the active (height, round), then replays any buffered votes.
func (m *StateMachine) enterRound(ctx context.Context, ks *kernelState) {
	proposer := ks.vals.SelectProposer()

	ks.rs.Reset(ks.height, ks.round, proposer.ID, ks.vals)

	hlog.HR(m.log, ks.height, ks.round).Info(
		"Entering round",
		"proposer", proposer.ID,
	)

	if m.mc != nil {
		m.mc.UpdateRound(bmetrics.RoundMetrics{H: ks.height, R: ks.round})
	}

	ks.rs.StepTimer, ks.rs.CancelTimer = m.rt.ProposalTimer(ctx, ks.height, ks.round)

	if proposer.ID == m.selfID && m.selfID != "" {
		m.requestBlockBuild(ctx, ks)
	}

	// Replay votes buffered while this was a future round.
	if buffered := ks.futureVotes[ks.round]; len(buffered) > 0 {
		delete(ks.futureVotes, ks.round)
		for _, v := range buffered {
			if _, err := ks.rs.Register.AddVote(v); err != nil {
				// Buffered votes were validated on arrival;
				// a failure here means kernel state is corrupt.
				panic(fmt.Errorf("BUG: replaying buffered vote failed: %w", err))
			}
		}

		summary := ks.rs.Register.Summary()
		hlog.HR(m.log, ks.height, ks.round).Info(
			"Replayed buffered votes",
			"count", len(buffered),
			"derived_step", StepFromSummary(summary),
			"votes", summary,
		)
	}

	m.publishRoundUpdate(ks)
	m.checkProgress(ctx, ks)
}

// requestBlockBuild asks the driver for a block to propose.
// The response arrives through the kernel select loop.
func (m *StateMachine) requestBlockBuild(ctx context.Context, ks *kernelState) {
	respCh := make(chan bftdriver.BuildBlockResponse, 1)
	if !hchan.SendC(
		ctx, m.log,
		m.buildRequestCh, bftdriver.BuildBlockRequest{
			Height: ks.height,
			Round:  ks.round,

			Resp: respCh,
		},
		"requesting block build",
	) {
		return
	}

	ks.rs.BuildRespCh = respCh
}

func (m *StateMachine) handleBuildResponse(ctx context.Context, ks *kernelState, resp bftdriver.BuildBlockResponse) {
	if resp.Block.Hash == "" {
		// Nothing to propose.
		// The proposal timer keeps running;
		// when it elapses we prevote nil like any other validator
		// that never saw a proposal.
		hlog.HR(m.log, ks.height, ks.round).Info(
			"Driver returned no block to propose; leaving round to time out",
		)
		return
	}

	if ks.rs.S != StepAwaitingProposal {
		// The round moved on without us, probably via buffered votes.
		hlog.HR(m.log, ks.height, ks.round).Info(
			"Discarding built block; round has already advanced",
			"step", ks.rs.S,
		)
		return
	}

	p := bftcore.Proposal{
		Height: ks.height,
		Round:  ks.round,

		ProposerID: m.selfID,

		Block: resp.Block,

		Time: time.Now(),
	}
	ks.rs.Proposal = &p

	ks.rs.ClearTimer()
	m.castPrevote(ctx, ks, p.Block.Hash)
	m.publishRoundUpdate(ks)
	m.checkProgress(ctx, ks)
}

func (m *StateMachine) handleProposal(ctx context.Context, ks *kernelState, p bftcore.Proposal) bftcore.HandleProposalResult {
	if p.Height != ks.height {
		if p.Height < ks.height {
			return bftcore.HandleProposalRoundTooOld
		}
		return bftcore.HandleProposalRoundTooFarInFuture
	}
	if p.Round != ks.round {
		// Proposals are not buffered across rounds;
		// the proposer rebroadcasts if its round is reached.
		if p.Round < ks.round {
			return bftcore.HandleProposalRoundTooOld
		}
		return bftcore.HandleProposalRoundTooFarInFuture
	}

	if _, ok := ks.vals.ByID(p.ProposerID); !ok {
		return bftcore.HandleProposalSignerUnrecognized
	}
	if p.ProposerID != ks.rs.ProposerID {
		hlog.HR(m.log, ks.height, ks.round).Warn(
			"Rejecting proposal from non-selected proposer",
			"got", p.ProposerID, "want", ks.rs.ProposerID,
		)
		return bftcore.HandleProposalWrongProposer
	}

	if ks.rs.Proposal != nil {
		return bftcore.HandleProposalAlreadyHaveProposal
	}

	if err := p.CheckScope(ks.height, ks.round); err != nil {
		// Height and round already matched, so this is the block ref.
		// The selected proposer sent us nothing to vote on,
		// so prevote nil right away instead of burning the proposal timeout.
		if ks.rs.S == StepAwaitingProposal {
			ks.rs.ClearTimer()
			m.castPrevote(ctx, ks, "")
			m.publishRoundUpdate(ks)
			m.checkProgress(ctx, ks)
		}
		return bftcore.HandleProposalEmptyBlock
	}

	ks.rs.Proposal = &p

	if ks.rs.S == StepAwaitingProposal {
		ks.rs.ClearTimer()
		m.castPrevote(ctx, ks, p.Block.Hash)
	}
	// If the step is already past awaiting,
	// we keep the proposal for the block handle at commit time
	// but our votes are already cast.

	m.publishRoundUpdate(ks)
	m.checkProgress(ctx, ks)

	return bftcore.HandleProposalAccepted
}

func (m *StateMachine) handleVote(ctx context.Context, ks *kernelState, v bftcore.Vote) bftcore.HandleVoteResult {
	if v.Height != ks.height {
		if v.Height < ks.height {
			return bftcore.HandleVoteRoundTooOld
		}
		// Future heights are not buffered;
		// the sender will be retried by gossip once we catch up.
		return bftcore.HandleVoteRoundTooFarInFuture
	}

	if !v.Phase.Valid() {
		return bftcore.HandleVoteBadPhase
	}
	if _, ok := ks.vals.ByID(v.ValidatorID); !ok {
		return bftcore.HandleVoteSignerUnrecognized
	}

	if v.Round != ks.round {
		if v.Round < ks.round {
			return bftcore.HandleVoteRoundTooOld
		}
		if v.Round > ks.round+ks.maxFutureRounds {
			return bftcore.HandleVoteRoundTooFarInFuture
		}

		ks.futureVotes[v.Round] = append(ks.futureVotes[v.Round], v)
		return bftcore.HandleVoteBuffered
	}

	res, err := ks.rs.Register.AddVote(v)
	if err != nil {
		// Scope and membership were checked above,
		// so any error here is unexpected.
		hlog.HRE(m.log, ks.height, ks.round, err).Warn("Unexpected vote rejection")
		return bftcore.HandleVoteInternalError
	}
	if res == bftcore.AddVoteDuplicate {
		return bftcore.HandleVoteDuplicate
	}

	m.publishRoundUpdate(ks)
	m.checkProgress(ctx, ks)

	return bftcore.HandleVoteAccepted
}

// checkProgress inspects the register and advances through as many
// step transitions as the accumulated votes justify.
// It is safe to call after any state change;
// steps it does not apply to are left alone.
func (m *StateMachine) checkProgress(ctx context.Context, ks *kernelState) {
	if ks.rs.S == StepAwaitingProposal {
		// A prevote quorum can form before the proposal arrives here.
		// Joining it is safe: quorum power already committed to the target.
		if target, ok := ks.rs.Register.WinningTarget(bftcore.PhasePrevote); ok {
			ks.rs.ClearTimer()
			m.castPrevote(ctx, ks, target)
		}
	}

	if ks.rs.S == StepAwaitingPrevoteQuorum {
		if target, ok := ks.rs.Register.WinningTarget(bftcore.PhasePrevote); ok {
			ks.rs.ClearTimer()
			m.castPrecommit(ctx, ks, target)
		} else if ks.rs.Register.Stuck(bftcore.PhasePrevote) {
			// Every online validator voted and no quorum is possible;
			// no reason to wait out the timer.
			hlog.HR(m.log, ks.height, ks.round).Info("Prevote phase stuck; precommitting nil early")
			ks.rs.ClearTimer()
			m.castPrecommit(ctx, ks, "")
		}
	}

	if ks.rs.S == StepAwaitingPrecommitQuorum {
		if target, ok := ks.rs.Register.WinningTarget(bftcore.PhasePrecommit); ok {
			ks.rs.ClearTimer()
			if target == "" {
				hlog.HR(m.log, ks.height, ks.round).Info("Precommit quorum on nil; advancing round")
				m.advanceRound(ctx, ks)
			} else {
				m.commit(ctx, ks, target)
			}
		} else if ks.rs.Register.Stuck(bftcore.PhasePrecommit) {
			hlog.HR(m.log, ks.height, ks.round).Info("Precommit phase stuck; advancing round early")
			ks.rs.ClearTimer()
			m.advanceRound(ctx, ks)
		}
	}
}

// castPrevote records this node's prevote for target
// and moves to awaiting the prevote quorum.
// The empty target is the nil prevote.
func (m *StateMachine) castPrevote(ctx context.Context, ks *kernelState, target string) {
	ks.rs.S = StepPrevoting

	if v, ok := ks.vals.ByID(m.selfID); ok {
		vote := bftcore.Vote{
			ValidatorID: m.selfID,

			Height: ks.height,
			Round:  ks.round,

			Phase: bftcore.PhasePrevote,

			BlockHash: target,

			Power: v.Power,
		}
		if _, err := ks.rs.Register.AddVote(vote); err != nil {
			panic(fmt.Errorf("BUG: own prevote rejected: %w", err))
		}
		ks.rs.OwnPrevote = &vote
	}

	ks.rs.S = StepAwaitingPrevoteQuorum
	ks.rs.StepTimer, ks.rs.CancelTimer = m.rt.PrevoteTimer(ctx, ks.height, ks.round)
}

// castPrecommit records this node's precommit
// and moves to awaiting the precommit quorum.
//
// quorumTarget is the prevote target that reached quorum,
// or empty when none did.
// Our own precommit only ever matches our own prevote:
// precommitting a hash we did not prevote would claim
// we saw evidence we never voted on.
func (m *StateMachine) castPrecommit(ctx context.Context, ks *kernelState, quorumTarget string) {
	ks.rs.S = StepPrecommitting

	if v, ok := ks.vals.ByID(m.selfID); ok {
		target := ""
		if quorumTarget != "" &&
			ks.rs.OwnPrevote != nil && ks.rs.OwnPrevote.BlockHash == quorumTarget {
			target = quorumTarget
		}

		vote := bftcore.Vote{
			ValidatorID: m.selfID,

			Height: ks.height,
			Round:  ks.round,

			Phase: bftcore.PhasePrecommit,

			BlockHash: target,

			Power: v.Power,
		}
		if _, err := ks.rs.Register.AddVote(vote); err != nil {
			panic(fmt.Errorf("BUG: own precommit rejected: %w", err))
		}
		ks.rs.OwnPrecommit = &vote
		ks.rs.invariantOwnVotes()
	}

	ks.rs.S = StepAwaitingPrecommitQuorum
	ks.rs.StepTimer, ks.rs.CancelTimer = m.rt.PrecommitTimer(ctx, ks.height, ks.round)

	m.publishRoundUpdate(ks)
}

func (m *StateMachine) handleTimerElapsed(ctx context.Context, ks *kernelState) {
	switch ks.rs.S {
	case StepAwaitingProposal:
		// No proposal in time.
		// Degrading to a nil prevote and letting the round time out
		// is the protocol's recovery path, not a failure.
		hlog.HR(m.log, ks.height, ks.round).Info("Proposal timed out; prevoting nil")
		m.castPrevote(ctx, ks, "")
		m.publishRoundUpdate(ks)
		m.checkProgress(ctx, ks)

	case StepAwaitingPrevoteQuorum:
		hlog.HR(m.log, ks.height, ks.round).Info("Prevote quorum timed out; precommitting nil")
		m.castPrecommit(ctx, ks, "")
		m.checkProgress(ctx, ks)

	case StepAwaitingPrecommitQuorum:
		hlog.HR(m.log, ks.height, ks.round).Info("Precommit quorum timed out; advancing round")
		m.advanceRound(ctx, ks)

	case StepCommitted:
		// The round is decided; a late timer changes nothing.
		// The driver is still applying the block.
		hlog.HR(m.log, ks.height, ks.round).Warn(
			"Commit wait elapsed before block application finished; still waiting on driver",
		)

	default:
		panic(fmt.Errorf("BUG: timer elapsed in step %s", ks.rs.S))
	}
}

// advanceRound abandons the active round and starts the next one
// at the same height.
func (m *StateMachine) advanceRound(ctx context.Context, ks *kernelState) {
	ks.rs.S = StepTimedOut
	m.publishRoundUpdate(ks)

	ks.round++
	m.enterRound(ctx, ks)
}

// commit finalizes the round on blockHash:
// assemble and persist the certificate,
// then hand the block to the driver for application.
// Height advancement waits for the driver's response.
func (m *StateMachine) commit(ctx context.Context, ks *kernelState, blockHash string) {
	cert := bftcore.NewCommitCertificate(
		ks.height, ks.round,
		blockHash,
		ks.rs.Register.PrecommitsFor(blockHash),
	)

	ks.rs.S = StepCommitted
	ks.rs.Certificate = &cert

	if err := m.certStore.SaveCertificate(ctx, cert); err != nil {
		// A second certificate for a height is a safety violation,
		// not something to degrade around.
		panic(fmt.Errorf("BUG: failed to save commit certificate: %w", err))
	}

	hlog.HR(m.log, ks.height, ks.round).Info(
		"Committed",
		"block_hash", hlog.Hex(blockHash),
		"commit_power", cert.CommitPower,
	)

	if m.mc != nil {
		m.mc.UpdateCommit(bmetrics.CommitMetrics{H: ks.height, R: ks.round})
	}

	m.publishRoundUpdate(ks)

	var block bftcore.BlockRef
	if ks.rs.Proposal != nil {
		block = ks.rs.Proposal.Block
	}

	respCh := make(chan bftdriver.ApplyBlockResponse, 1)
	if !hchan.SendC(
		ctx, m.log,
		m.applyRequestCh, bftdriver.ApplyBlockRequest{
			Cert:  cert,
			Block: block,

			Resp: respCh,
		},
		"requesting block application",
	) {
		return
	}
	ks.applyRespCh = respCh

	ks.rs.StepTimer, ks.rs.CancelTimer = m.rt.CommitWaitTimer(ctx, ks.height, ks.round)
}

func (m *StateMachine) handleApplyResponse(ctx context.Context, ks *kernelState, resp bftdriver.ApplyBlockResponse) {
	if resp.Height != ks.height {
		panic(fmt.Errorf(
			"BUG: driver applied height %d while consensus is at height %d",
			resp.Height, ks.height,
		))
	}

	ks.rs.ClearTimer()

	if len(resp.Changes) > 0 {
		ks.vals.OpenMutationWindow()
		err := ks.vals.ApplyChanges(resp.Changes)
		ks.vals.CloseMutationWindow()
		if err != nil {
			// The driver proposed an impossible membership;
			// carrying on with an ambiguous validator set is worse
			// than stopping.
			panic(fmt.Errorf("BUG: applying membership changes failed: %w", err))
		}

		hlog.HR(m.log, ks.height, ks.round).Info(
			"Applied membership changes",
			"validators", ks.vals,
		)
	}

	ks.height++
	ks.round = 0
	clear(ks.futureVotes)

	if err := m.recordValidators(ctx, ks); err != nil {
		// Losing the membership record is an operational failure,
		// not a protocol one; consensus itself can continue.
		hlog.HRE(m.log, ks.height, ks.round, err).Error("Failed to record validator set")
	}

	m.enterRound(ctx, ks)
}

func (m *StateMachine) skipToHeight(ctx context.Context, ks *kernelState, height uint64) error {
	if height <= ks.height {
		return fmt.Errorf(
			"cannot skip to height %d; consensus already at height %d",
			height, ks.height,
		)
	}
	if ks.applyRespCh != nil {
		return errors.New("cannot skip heights while a block application is outstanding")
	}

	hlog.HR(m.log, ks.height, ks.round).Info("Skipping ahead", "target_height", height)

	ks.rs.ClearTimer()

	ks.height = height
	ks.round = 0
	clear(ks.futureVotes)

	if err := m.recordValidators(ctx, ks); err != nil {
		hlog.HRE(m.log, ks.height, ks.round, err).Error("Failed to record validator set")
	}

	m.enterRound(ctx, ks)
	return nil
}

// recordValidators persists the membership in effect at the active height.
// An existing record for the height is fine: it happens on restart.
func (m *StateMachine) recordValidators(ctx context.Context, ks *kernelState) error {
	err := m.valStore.SaveValidatorSet(ctx, ks.height, ks.vals.Validators())
	if err == nil {
		return nil
	}

	var overwriteErr bftstore.ValidatorSetOverwriteError
	if errors.As(err, &overwriteErr) {
		return nil
	}

	return err
}

// publishRoundUpdate makes the newest gossip snapshot available,
// replacing any undelivered older snapshot
// so a slow gossip strategy can never block the kernel.
func (m *StateMachine) publishRoundUpdate(ks *kernelState) {
	u := ks.rs.Snapshot()

	select {
	case <-m.roundUpdateCh:
	default:
	}
	m.roundUpdateCh <- u
}
