package bftcore

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// AddVoteResult is the outcome of [*VoteRegister.AddVote].
type AddVoteResult uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type AddVoteResult -trimprefix=AddVote
const (
	_ AddVoteResult = iota // Zero value invalid.

	// AddVoteAccepted means the vote was new and its power was tallied.
	AddVoteAccepted

	// AddVoteDuplicate means a vote for the same (validator, phase) key
	// was already present.
	// Duplicates are the expected behavior under at-least-once delivery
	// and are deliberately not an error;
	// the tally is unchanged.
	AddVoteDuplicate
)

// VoteRegister is the deduplicating vote store for exactly one (height, round).
//
// AddVote is safe for concurrent callers;
// the register is the serialization point for vote ingestion,
// and the check-then-set per (validator, phase) key is atomic under its mutex.
type VoteRegister struct {
	mu sync.Mutex

	height uint64
	round  uint32

	vals *ValidatorSet

	// One bitset per phase, indexed by validator-set index.
	// A set bit is the idempotency guard:
	// a validator's power can be counted at most once per phase.
	prevoted     *bitset.BitSet
	precommitted *bitset.BitSet

	// Power per target hash, per phase.
	// Empty string key is the nil vote.
	prevotePower   map[string]uint64
	precommitPower map[string]uint64

	totalPrevotePower   uint64
	totalPrecommitPower uint64

	// Retained votes in arrival order, for certificate assembly.
	prevotes   []Vote
	precommits []Vote
}

// NewVoteRegister returns a register scoped to (height, round)
// against the given validator set.
// The register reads only the set's fixed membership,
// never its proposer priorities.
func NewVoteRegister(height uint64, round uint32, vals *ValidatorSet) *VoteRegister {
	n := uint(vals.Len())
	return &VoteRegister{
		height: height,
		round:  round,

		vals: vals,

		prevoted:     bitset.New(n),
		precommitted: bitset.New(n),

		prevotePower:   make(map[string]uint64),
		precommitPower: make(map[string]uint64),
	}
}

// Height returns the register's height scope.
func (r *VoteRegister) Height() uint64 { return r.height }

// Round returns the register's round scope.
func (r *VoteRegister) Round() uint32 { return r.round }

// AddVote records v if it is in scope and not a duplicate.
//
// The tallied power always comes from the register's validator set;
// the power carried on the wire is ignored.
//
// Votes whose height or round do not match the register's scope
// fail with a [RoundMismatchError] (matching [ErrWrongRound]).
// Votes from IDs outside the validator set fail with [UnknownValidatorError].
// A second vote for the same (validator, phase) key reports
// [AddVoteDuplicate] without error and without changing the tally;
// flagging equivocation is an external collaborator's job.
func (r *VoteRegister) AddVote(v Vote) (AddVoteResult, error) {
	if v.Height != r.height || v.Round != r.round {
		return 0, RoundMismatchError{
			WantHeight: r.height, WantRound: r.round,
			GotHeight: v.Height, GotRound: v.Round,
		}
	}

	if !v.Phase.Valid() {
		return 0, InvalidPhaseError{Phase: v.Phase}
	}

	idx := r.vals.IndexOf(v.ValidatorID)
	if idx < 0 {
		return 0, UnknownValidatorError{ID: v.ValidatorID}
	}

	// The membership is the only authority on voting power.
	// The wire value is attacker-controlled and never tallied;
	// stamping here also fixes the power for the life of the round,
	// regardless of membership changes at later heights.
	v.Power = r.vals.vals[idx].Power

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := r.prevoted
	power := r.prevotePower
	if v.Phase == PhasePrecommit {
		seen = r.precommitted
		power = r.precommitPower
	}

	if seen.Test(uint(idx)) {
		return AddVoteDuplicate, nil
	}
	seen.Set(uint(idx))

	power[v.BlockHash] += v.Power
	if v.Phase == PhasePrevote {
		r.totalPrevotePower += v.Power
		r.prevotes = append(r.prevotes, v)
	} else {
		r.totalPrecommitPower += v.Power
		r.precommits = append(r.precommits, v)
	}

	return AddVoteAccepted, nil
}

// HasVoted reports whether the validator at the given set index
// has already voted in the given phase.
func (r *VoteRegister) HasVoted(phase Phase, idx int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if phase == PhasePrecommit {
		return r.precommitted.Test(uint(idx))
	}
	return r.prevoted.Test(uint(idx))
}

// Tally returns a copy of the power-per-target mapping for the phase.
// A validator is never double counted,
// regardless of how many times AddVote was called for it.
func (r *VoteRegister) Tally(phase Phase) map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.prevotePower
	if phase == PhasePrecommit {
		src = r.precommitPower
	}

	out := make(map[string]uint64, len(src))
	for h, p := range src {
		out[h] = p
	}
	return out
}

// HasQuorum reports whether the summed power on target in the given phase
// has reached the validator set's quorum threshold.
// The empty string target checks for a nil quorum.
func (r *VoteRegister) HasQuorum(phase Phase, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.powerLocked(phase, target) >= r.vals.QuorumThreshold()
}

func (r *VoteRegister) powerLocked(phase Phase, target string) uint64 {
	if phase == PhasePrecommit {
		return r.precommitPower[target]
	}
	return r.prevotePower[target]
}

// WinningTarget returns the unique target meeting quorum in the phase, if any.
// At most one target can meet quorum:
// two disjoint quora would need more than the total power combined.
func (r *VoteRegister) WinningTarget(phase Phase) (target string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.prevotePower
	if phase == PhasePrecommit {
		src = r.precommitPower
	}

	q := r.vals.QuorumThreshold()
	for h, p := range src {
		if p >= q {
			return h, true
		}
	}
	return "", false
}

// Stuck reports whether the phase can make no further progress this round:
// every online validator has voted, yet no target meets quorum.
// Offline validators are excluded from the all-voted check only;
// their power still counts toward the quorum denominator,
// so Stuck is purely a liveness signal for early round advancement.
func (r *VoteRegister) Stuck(phase Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := r.prevoted
	if phase == PhasePrecommit {
		seen = r.precommitted
	}

	for i, v := range r.vals.vals {
		if !v.Online {
			continue
		}
		if !seen.Test(uint(i)) {
			return false
		}
	}

	q := r.vals.QuorumThreshold()
	src := r.prevotePower
	if phase == PhasePrecommit {
		src = r.precommitPower
	}
	for _, p := range src {
		if p >= q {
			return false
		}
	}

	return true
}

// VotePower returns the summed power recorded for the phase so far.
func (r *VoteRegister) VotePower(phase Phase) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if phase == PhasePrecommit {
		return r.totalPrecommitPower
	}
	return r.totalPrevotePower
}

// Votes returns a copy of the recorded votes for the phase,
// in arrival order.
func (r *VoteRegister) Votes(phase Phase) []Vote {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.prevotes
	if phase == PhasePrecommit {
		src = r.precommits
	}

	out := make([]Vote, len(src))
	copy(out, src)
	return out
}

// PrecommitsFor returns the recorded precommit votes targeting hash,
// for commit certificate assembly.
func (r *VoteRegister) PrecommitsFor(hash string) []Vote {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Vote, 0, len(r.precommits))
	for _, v := range r.precommits {
		if v.BlockHash == hash {
			out = append(out, v)
		}
	}
	return out
}

// Summary snapshots the register into a [VoteSummary] for logging
// and step derivation.
func (r *VoteRegister) Summary() VoteSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	vs := NewVoteSummary()
	vs.AvailablePower = r.vals.TotalPower()

	vs.TotalPrevotePower = r.totalPrevotePower
	vs.TotalPrecommitPower = r.totalPrecommitPower

	for h, p := range r.prevotePower {
		vs.PrevotePower[h] = p
	}
	for h, p := range r.precommitPower {
		vs.PrecommitPower[h] = p
	}
	vs.recalculateMostVoted()

	return vs
}
