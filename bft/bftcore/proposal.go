package bftcore

import "time"

// BlockRef is the opaque block reference supplied by the block builder:
// a hash the engine agrees on, and a handle the engine never inspects,
// passed through to the applier at commit time.
type BlockRef struct {
	// Hash is the consensus-visible identity of the block.
	// Empty string is invalid for a proposal
	// (the nil vote target is a vote concept, not a proposable block).
	Hash string

	// Handle is builder-supplied and entirely opaque to the engine.
	Handle any
}

// Proposal is a proposer's block candidate for one (height, round).
type Proposal struct {
	Height uint64
	Round  uint32

	ProposerID string

	Block BlockRef

	// Time the proposal was created, informational only.
	Time time.Time
}

// CheckScope validates p against the expected height and round
// and its block reference.
// A scope mismatch returns a [RoundMismatchError];
// an empty block reference returns an [EmptyBlockRefError].
func (p Proposal) CheckScope(height uint64, round uint32) error {
	if p.Height != height || p.Round != round {
		return RoundMismatchError{
			WantHeight: height, WantRound: round,
			GotHeight: p.Height, GotRound: p.Round,
		}
	}

	if p.Block.Hash == "" {
		return EmptyBlockRefError{Height: p.Height, Round: p.Round}
	}

	return nil
}
