package bstate

import "github.com/harbor-bft/harbor/bft/bftcore"

// Step is the granular step within a single height-round.
type Step uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type Step -trimprefix=Step .
const (
	// Zero value is an invalid step,
	// so that "return 0" can be used where we want to return a meaningless step.
	StepInvalid Step = iota

	// We are waiting on the round's proposal.
	// The proposal timer is running.
	StepAwaitingProposal

	// We have a proposal (or gave up waiting for one)
	// and are choosing our own prevote target.
	// This step is transient:
	// the kernel leaves it within the same loop iteration.
	StepPrevoting

	// Our prevote is cast; waiting for a prevote quorum on one target.
	StepAwaitingPrevoteQuorum

	// A prevote quorum exists and we are choosing our precommit target.
	// Transient, like StepPrevoting.
	StepPrecommitting

	// Our precommit is cast; waiting for a precommit quorum on one target.
	StepAwaitingPrecommitQuorum

	// A precommit quorum exists for a concrete block hash.
	// Terminal for this round; the engine finalizes the height.
	StepCommitted

	// The round gave up: timeout, nil quorum, or a stuck phase.
	// Terminal for this round; the engine starts the next round.
	StepTimedOut
)

// IsTerminal reports whether s is one of the two terminal steps.
func (s Step) IsTerminal() bool {
	return s == StepCommitted || s == StepTimedOut
}

// StepFromSummary returns the appropriate Step value
// given only a round's vote summary.
// The state machine calls this when entering a round with replayed votes,
// when it has no further accumulated state such as a started timer.
// The state machine must also inspect its own cast votes,
// as its own actions may influence moving the step forward.
func StepFromSummary(vs bftcore.VoteSummary) Step {
	// Work backwards from the latest phase.
	q := bftcore.QuorumThreshold(vs.AvailablePower)

	if vs.PrecommitPower[vs.MostVotedPrecommitHash] >= q {
		if vs.MostVotedPrecommitHash == "" {
			return StepTimedOut
		}
		return StepCommitted
	}

	if vs.TotalPrecommitPower > 0 {
		return StepAwaitingPrecommitQuorum
	}

	if vs.PrevotePower[vs.MostVotedPrevoteHash] >= q {
		return StepPrecommitting
	}

	if vs.TotalPrevotePower > 0 {
		return StepAwaitingPrevoteQuorum
	}

	// No votes at all: the default position of awaiting a proposal.
	return StepAwaitingProposal
}
