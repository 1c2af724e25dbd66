package bftcore

import "fmt"

// Phase identifies which of the two sequential voting phases a vote belongs to.
type Phase uint8

//go:generate go run golang.org/x/tools/cmd/stringer -type Phase -trimprefix=Phase
const (
	// Zero value is invalid so a forgotten phase is caught early.
	PhaseInvalid Phase = iota

	PhasePrevote
	PhasePrecommit
)

// Valid reports whether p is one of the two real phases.
func (p Phase) Valid() bool {
	return p == PhasePrevote || p == PhasePrecommit
}

// Vote is one validator's pre-authenticated vote
// for a block hash (or nil) in one phase of one round.
type Vote struct {
	ValidatorID string

	Height uint64
	Round  uint32

	Phase Phase

	// BlockHash is the vote's target.
	// The block hash is conventionally []byte,
	// but a string makes a simpler map key and is immutable after creation.
	// The empty string is the distinguished nil vote.
	BlockHash string

	// Power is the validator's voting power
	// as recorded in the membership of the vote's round.
	// [VoteRegister.AddVote] stamps it from its own validator set,
	// so an inbound vote cannot claim power it does not hold,
	// and a late membership change cannot retroactively alter
	// a closed round's tally.
	Power uint64
}

// VoteTarget is the (height, round, target) reference a vote points at,
// used as a composite key in diagnostics and stores.
type VoteTarget struct {
	Height uint64
	Round  uint32

	// Empty string indicates a nil vote.
	BlockHash string
}

func (t VoteTarget) String() string {
	if t.BlockHash == "" {
		return fmt.Sprintf("%d/%d/nil", t.Height, t.Round)
	}
	return fmt.Sprintf("%d/%d/%x", t.Height, t.Round, t.BlockHash)
}
