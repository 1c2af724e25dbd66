package bftstore

import (
	"context"

	"github.com/harbor-bft/harbor/bft/bftcore"
)

// ValidatorStore manages storage and retrieval of the validator membership
// in effect at each height.
//
// Proposer priorities and online flags are runtime state,
// deliberately not persisted;
// implementations store ID and power only and return validators
// with zeroed priority, marked online.
type ValidatorStore interface {
	// SaveValidatorSet records the membership in effect at the given height.
	// A second save for the same height fails with
	// [ValidatorSetOverwriteError].
	SaveValidatorSet(ctx context.Context, height uint64, vals []bftcore.Validator) error

	// LoadValidatorSet loads the membership recorded for the given height,
	// or fails with [HeightUnknownError].
	LoadValidatorSet(ctx context.Context, height uint64) ([]bftcore.Validator, error)
}
