package bftcore

import "errors"

// QuorumThreshold returns ceil(2n/3),
// the minimum summed voting power that must land on one target
// to lock that target in for a phase.
// Use should always involve >= comparison, not >.
//
// Two disjoint quora cannot both be reached:
// 2*ceil(2n/3) > n for any n >= 1,
// so two conflicting quora would need more than the total power combined.
//
// QuorumThreshold(0) panics:
// a zero-power validator set is an invariant violation, not an input error.
func QuorumThreshold(n uint64) uint64 {
	if n == 0 {
		panic(errors.New("QuorumThreshold: n must be positive"))
	}

	// Work from quotient and remainder to avoid overflowing 2*n.
	quo, rem := n/3, n%3
	switch rem {
	case 0:
		return 2 * quo
	case 1:
		return 2*quo + 1
	default: // rem == 2
		return 2*quo + 2
	}
}

// MaxByzantinePower returns floor((n-1)/3),
// the tolerance bound for arbitrarily-misbehaving voting power.
// Safety claims hold only while actual byzantine power
// stays strictly below this value.
//
// MaxByzantinePower(0) panics.
func MaxByzantinePower(n uint64) uint64 {
	if n == 0 {
		panic(errors.New("MaxByzantinePower: n must be positive"))
	}

	return (n - 1) / 3
}

// ByzantineMinority returns the minimum value to reach 1/3 of n.
// Use should always involve >= comparison, not >.
//
// Reaching the minority against a proposal means that proposal
// can no longer reach a quorum among the remaining power;
// the safety analyzer surfaces this as a diagnostic.
//
// ByzantineMinority(0) panics.
func ByzantineMinority(n uint64) uint64 {
	if n == 0 {
		panic(errors.New("ByzantineMinority: n must be positive"))
	}

	quo, rem := n/3, n%3
	if rem == 0 {
		return quo
	}

	return quo + 1
}
