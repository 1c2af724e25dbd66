package bftcore

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
)

// VoteSummary summarizes the known votes in one round.
// It is a value type produced from a [VoteRegister] snapshot,
// consumed by step derivation and logging.
type VoteSummary struct {
	// The total voting power of the validators.
	AvailablePower uint64

	// The cumulative voting power present in each phase.
	TotalPrevotePower, TotalPrecommitPower uint64

	// Voting power by block hash for each phase.
	// The empty string key is the nil vote.
	PrevotePower, PrecommitPower map[string]uint64

	// The target with the most power in each phase.
	// Empty if nothing has votes or if nil leads;
	// power ties resolve to the lexicographically earlier hash
	// for consistency.
	MostVotedPrevoteHash, MostVotedPrecommitHash string
}

func NewVoteSummary() VoteSummary {
	return VoteSummary{
		PrevotePower:   make(map[string]uint64),
		PrecommitPower: make(map[string]uint64),
	}
}

func (vs VoteSummary) Clone() VoteSummary {
	return VoteSummary{
		AvailablePower: vs.AvailablePower,

		TotalPrevotePower:   vs.TotalPrevotePower,
		TotalPrecommitPower: vs.TotalPrecommitPower,

		PrevotePower:   maps.Clone(vs.PrevotePower),
		PrecommitPower: maps.Clone(vs.PrecommitPower),

		MostVotedPrevoteHash:   vs.MostVotedPrevoteHash,
		MostVotedPrecommitHash: vs.MostVotedPrecommitHash,
	}
}

func (vs *VoteSummary) recalculateMostVoted() {
	vs.MostVotedPrevoteHash = mostVoted(vs.PrevotePower)
	vs.MostVotedPrecommitHash = mostVoted(vs.PrecommitPower)
}

func mostVoted(power map[string]uint64) string {
	var maxHash string
	var maxPow uint64
	for hash, pow := range power {
		if pow == maxPow {
			maxHash = min(maxHash, hash)
		} else if pow > maxPow {
			maxPow = pow
			maxHash = hash
		}
	}
	return maxHash
}

func (vs *VoteSummary) Reset() {
	vs.AvailablePower = 0
	vs.ResetForSameHeight()
}

func (vs *VoteSummary) ResetForSameHeight() {
	vs.TotalPrevotePower = 0
	vs.TotalPrecommitPower = 0
	clear(vs.PrevotePower)
	clear(vs.PrecommitPower)
	vs.MostVotedPrevoteHash = ""
	vs.MostVotedPrecommitHash = ""
}

func (vs VoteSummary) LogValue() slog.Value {
	prevoteBlocks := make([]string, 0, len(vs.PrevotePower))
	for hash, pow := range vs.PrevotePower {
		if hash == "" {
			if pow > 0 {
				// The nil target is often present with zero power;
				// don't log it in that case.
				prevoteBlocks = append(prevoteBlocks, fmt.Sprintf("nil => %d", pow))
			}
		} else {
			prevoteBlocks = append(prevoteBlocks, fmt.Sprintf("%x => %d", hash, pow))
		}
	}
	sort.Strings(prevoteBlocks)

	precommitBlocks := make([]string, 0, len(vs.PrecommitPower))
	for hash, pow := range vs.PrecommitPower {
		if hash == "" {
			if pow > 0 {
				precommitBlocks = append(precommitBlocks, fmt.Sprintf("nil => %d", pow))
			}
		} else {
			precommitBlocks = append(precommitBlocks, fmt.Sprintf("%x => %d", hash, pow))
		}
	}
	sort.Strings(precommitBlocks)

	return slog.GroupValue(
		slog.Uint64("available_power", vs.AvailablePower),
		slog.Uint64("prevote_power", vs.TotalPrevotePower),
		slog.String("prevote_block_power", strings.Join(prevoteBlocks, ", ")),
		slog.Uint64("precommit_power", vs.TotalPrecommitPower),
		slog.String("precommit_block_power", strings.Join(precommitBlocks, ", ")),
	)
}
