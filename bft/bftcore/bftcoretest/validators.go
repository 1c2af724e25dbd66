// Package bftcoretest provides deterministic fixtures
// for tests exercising the consensus core.
package bftcoretest

import (
	"fmt"

	"github.com/harbor-bft/harbor/bft/bftcore"
)

// DeterministicValidators returns n validators with IDs val-0000 through
// val-(n-1) and decreasing voting powers.
//
// Power is 100_000 - i so that:
//   - the powers are all distinct, exposing accidental power reordering,
//   - earlier validators outweigh later ones, which tests rely on
//     when constructing partial quora.
func DeterministicValidators(n int) []bftcore.Validator {
	vs := make([]bftcore.Validator, n)
	for i := range vs {
		vs[i] = bftcore.Validator{
			ID:    fmt.Sprintf("val-%04d", i),
			Power: uint64(100_000 - i),
		}
	}
	return vs
}

// NewValidatorSet is the fixture shorthand for a deterministic n-member set,
// panicking on construction failure since fixture inputs are always valid.
func NewValidatorSet(n int) *bftcore.ValidatorSet {
	vs, err := bftcore.NewValidatorSet(DeterministicValidators(n))
	if err != nil {
		panic(err)
	}
	return vs
}

// WeightedValidatorSet builds a set with the exact powers given,
// IDs assigned in order as with [DeterministicValidators].
func WeightedValidatorSet(powers []uint64) *bftcore.ValidatorSet {
	vals := make([]bftcore.Validator, len(powers))
	for i, p := range powers {
		vals[i] = bftcore.Validator{
			ID:    fmt.Sprintf("val-%04d", i),
			Power: p,
		}
	}
	vs, err := bftcore.NewValidatorSet(vals)
	if err != nil {
		panic(err)
	}
	return vs
}

// Vote builds an in-scope vote for the validator at index idx of vals.
// Power is copied from the set, matching vote-creation-time capture.
func Vote(vals *bftcore.ValidatorSet, idx int, height uint64, round uint32, phase bftcore.Phase, blockHash string) bftcore.Vote {
	v := vals.Validators()[idx]
	return bftcore.Vote{
		ValidatorID: v.ID,

		Height: height,
		Round:  round,

		Phase: phase,

		BlockHash: blockHash,

		Power: v.Power,
	}
}
