package bftcore

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that need no further detail.
var (
	// ErrEmptyValidatorSet indicates an attempt to construct or reduce
	// a validator set to zero members.
	ErrEmptyValidatorSet = errors.New("validator set must not be empty")

	// ErrEmptyValidatorID indicates a validator with an empty identity.
	ErrEmptyValidatorID = errors.New("validator ID must not be empty")

	// ErrInvalidVotingPower indicates a zero voting power.
	ErrInvalidVotingPower = errors.New("voting power must be positive")

	// ErrTotalPowerOverflow indicates the set's total power
	// would exceed [MaxTotalPower].
	ErrTotalPowerOverflow = errors.New("total voting power overflow")

	// ErrInvalidMutationWindow indicates a membership mutation
	// attempted outside the between-heights window.
	ErrInvalidMutationWindow = errors.New("validator set mutation attempted outside mutation window")

	// ErrWrongRound indicates a vote or proposal whose height or round
	// does not match the receiver's scope.
	ErrWrongRound = errors.New("height/round does not match register scope")
)

// UnknownValidatorError indicates a reference to a validator ID
// that is not a member of the current set.
type UnknownValidatorError struct {
	ID string
}

func (e UnknownValidatorError) Error() string {
	return fmt.Sprintf("validator %q not in current validator set", e.ID)
}

// DuplicateValidatorError indicates two validators sharing an ID.
type DuplicateValidatorError struct {
	ID string
}

func (e DuplicateValidatorError) Error() string {
	return fmt.Sprintf("duplicate validator %q", e.ID)
}

// RoundMismatchError details a height/round scope rejection.
// It unwraps to [ErrWrongRound] so callers can match either way.
type RoundMismatchError struct {
	WantHeight, GotHeight uint64
	WantRound, GotRound   uint32
}

func (e RoundMismatchError) Error() string {
	return fmt.Sprintf(
		"height/round mismatch: expected %d/%d, got %d/%d",
		e.WantHeight, e.WantRound, e.GotHeight, e.GotRound,
	)
}

func (e RoundMismatchError) Unwrap() error {
	return ErrWrongRound
}

// InvalidPhaseError indicates a vote whose phase is not prevote or precommit.
type InvalidPhaseError struct {
	Phase Phase
}

func (e InvalidPhaseError) Error() string {
	return fmt.Sprintf("invalid vote phase %d", uint8(e.Phase))
}

// ProposalOverwriteError is returned when a proposal already exists
// for a height and round and another proposal arrives for the same scope,
// regardless of whether the new attempt is identical.
type ProposalOverwriteError struct {
	Height uint64
	Round  uint32
}

func (e ProposalOverwriteError) Error() string {
	return fmt.Sprintf("attempted to overwrite existing proposal at height/round %d/%d", e.Height, e.Round)
}

// EmptyBlockRefError indicates a proposal carrying no block reference.
type EmptyBlockRefError struct {
	Height uint64
	Round  uint32
}

func (e EmptyBlockRefError) Error() string {
	return fmt.Sprintf("proposal at height/round %d/%d carries an empty block reference", e.Height, e.Round)
}
