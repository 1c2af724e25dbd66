package bftcore

import (
	"log/slog"
	"slices"

	"github.com/harbor-bft/harbor/internal/hlog"
)

// CommitCertificate is the immutable proof that a height committed:
// the set of precommit votes whose summed power met the quorum threshold
// for one specific block hash.
//
// Exactly one certificate is produced per height.
// A second certificate for the same height is a collaborator bug,
// detected at the store layer and treated as fatal.
type CommitCertificate struct {
	Height uint64
	Round  uint32

	BlockHash string

	// The precommits backing the certificate,
	// in validator-set order.
	Precommits []Vote

	// CommitPower is the summed power of Precommits,
	// recorded so verifiers need not trust the then-current validator set.
	CommitPower uint64
}

// NewCommitCertificate assembles a certificate from the quorum precommits.
// The votes slice is cloned; the certificate shares no memory with the caller.
func NewCommitCertificate(height uint64, round uint32, blockHash string, precommits []Vote) CommitCertificate {
	var power uint64
	for _, v := range precommits {
		power += v.Power
	}

	return CommitCertificate{
		Height: height,
		Round:  round,

		BlockHash: blockHash,

		Precommits:  slices.Clone(precommits),
		CommitPower: power,
	}
}

func (c CommitCertificate) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("height", c.Height),
		slog.Any("round", c.Round),
		slog.Any("block_hash", hlog.Hex(c.BlockHash)),
		slog.Int("precommits", len(c.Precommits)),
		slog.Uint64("commit_power", c.CommitPower),
	)
}
