package bftcore

import "log/slog"

// SafetyReport is the pure byzantine-tolerance analysis of a validator set,
// optionally against a declared set of suspected byzantine members.
//
// The report is diagnostic only; nothing in the voting path branches on it.
type SafetyReport struct {
	TotalPower uint64

	// QuorumThreshold is ceil(2/3) of TotalPower.
	QuorumThreshold uint64

	// MaxTolerablePower is floor((TotalPower-1)/3).
	MaxTolerablePower uint64

	// MinorityPower is the 1/3 blocking threshold:
	// this much power withheld or voting nil
	// denies any target a quorum.
	MinorityPower uint64

	// ByzantinePower is the summed power of the declared byzantine IDs.
	ByzantinePower uint64

	// Margin is MaxTolerablePower - ByzantinePower when Safe,
	// otherwise zero.
	Margin uint64

	// Safe reports whether ByzantinePower is strictly below MaxTolerablePower.
	Safe bool
}

// AnalyzeSafety computes the SafetyReport for the set,
// treating byzantineIDs as arbitrarily misbehaving.
// IDs not in the set are ignored:
// the analysis concerns power inside the membership.
func AnalyzeSafety(vals *ValidatorSet, byzantineIDs []string) SafetyReport {
	r := SafetyReport{
		TotalPower: vals.TotalPower(),

		QuorumThreshold:   vals.QuorumThreshold(),
		MaxTolerablePower: vals.MaxTolerableByzantinePower(),
		MinorityPower:     ByzantineMinority(vals.TotalPower()),
	}

	for _, id := range byzantineIDs {
		if v, ok := vals.ByID(id); ok {
			r.ByzantinePower += v.Power
		}
	}

	r.Safe = r.ByzantinePower < r.MaxTolerablePower
	if r.Safe {
		r.Margin = r.MaxTolerablePower - r.ByzantinePower
	}

	return r
}

func (r SafetyReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("total_power", r.TotalPower),
		slog.Uint64("quorum_threshold", r.QuorumThreshold),
		slog.Uint64("max_tolerable_byzantine_power", r.MaxTolerablePower),
		slog.Uint64("byzantine_power", r.ByzantinePower),
		slog.Uint64("margin", r.Margin),
		slog.Bool("safe", r.Safe),
	)
}
