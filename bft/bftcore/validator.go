package bftcore

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// MaxTotalPower bounds the sum of voting power in a set,
// leaving headroom so the signed priority accumulator cannot overflow.
const MaxTotalPower = uint64(1) << 60

// Validator is one member of a [ValidatorSet]:
// an opaque comparable identity with a positive voting power.
type Validator struct {
	// ID is the validator's identity.
	// The engine never interprets it beyond equality and ordering;
	// ordering only matters for proposer-selection tie breaks.
	ID string

	// Power is the validator's voting power.
	// Always positive inside a constructed set.
	Power uint64

	// ProposerPriority is the accumulator driving weighted proposer rotation.
	// It is mutated only by [*ValidatorSet.SelectProposer]
	// and re-centered on membership changes.
	ProposerPriority int64

	// Online is a liveness hint supplied by the transport layer.
	// It only affects stuck detection;
	// an offline validator's power still counts toward quorum denominators.
	Online bool
}

// ValidatorSet is an ordered collection of validators,
// deduplicated by ID, with cached power sums and quorum thresholds.
//
// Membership is fixed for the lifetime of a height.
// The engine opens an explicit mutation window between heights;
// [*ValidatorSet.ApplyChanges] outside that window fails with
// [ErrInvalidMutationWindow].
//
// Methods that mutate state (SelectProposer, ApplyChanges, SetOnline)
// must only be called from the engine kernel.
// Read methods are safe to call from anywhere once the set is constructed,
// as long as no mutation is concurrent.
type ValidatorSet struct {
	vals []Validator

	byID map[string]int

	totalPower uint64

	// Cached to keep the hot vote-processing path free of repeated division.
	quorumThreshold   uint64
	maxByzantinePower uint64
	byzantineMinority uint64

	mutationOpen bool
}

// NewValidatorSet validates and constructs a set from the given validators.
// The order of vs is preserved and becomes each validator's stable index.
// All validators are initially marked online.
func NewValidatorSet(vs []Validator) (*ValidatorSet, error) {
	if len(vs) == 0 {
		return nil, ErrEmptyValidatorSet
	}

	s := &ValidatorSet{
		vals: make([]Validator, len(vs)),
		byID: make(map[string]int, len(vs)),
	}

	for i, v := range vs {
		if v.ID == "" {
			return nil, fmt.Errorf("validator at index %d: %w", i, ErrEmptyValidatorID)
		}
		if v.Power == 0 {
			return nil, fmt.Errorf("validator %q: %w", v.ID, ErrInvalidVotingPower)
		}
		if _, exists := s.byID[v.ID]; exists {
			return nil, DuplicateValidatorError{ID: v.ID}
		}
		if s.totalPower > MaxTotalPower-v.Power {
			return nil, ErrTotalPowerOverflow
		}

		v.Online = true
		s.vals[i] = v
		s.byID[v.ID] = i
		s.totalPower += v.Power
	}

	s.recalculateThresholds()

	return s, nil
}

func (s *ValidatorSet) recalculateThresholds() {
	s.quorumThreshold = QuorumThreshold(s.totalPower)
	s.maxByzantinePower = MaxByzantinePower(s.totalPower)
	s.byzantineMinority = ByzantineMinority(s.totalPower)
}

// Len returns the number of validators in the set.
func (s *ValidatorSet) Len() int {
	return len(s.vals)
}

// TotalPower returns the sum of all members' voting power.
func (s *ValidatorSet) TotalPower() uint64 {
	return s.totalPower
}

// QuorumThreshold returns the cached ceil(2/3) threshold for this membership.
func (s *ValidatorSet) QuorumThreshold() uint64 {
	return s.quorumThreshold
}

// MaxTolerableByzantinePower returns the cached floor((total-1)/3) bound.
func (s *ValidatorSet) MaxTolerableByzantinePower() uint64 {
	return s.maxByzantinePower
}

// Validators returns a copy of the member slice in set order.
func (s *ValidatorSet) Validators() []Validator {
	return slices.Clone(s.vals)
}

// ByID returns the validator with the given ID, if present.
func (s *ValidatorSet) ByID(id string) (Validator, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Validator{}, false
	}
	return s.vals[i], true
}

// IndexOf returns the stable index of the validator with the given ID,
// or -1 if the ID is not a member.
func (s *ValidatorSet) IndexOf(id string) int {
	i, ok := s.byID[id]
	if !ok {
		return -1
	}
	return i
}

// SetOnline records the liveness hint for the given validator.
// Online status never affects quorum arithmetic.
func (s *ValidatorSet) SetOnline(id string, online bool) error {
	i, ok := s.byID[id]
	if !ok {
		return UnknownValidatorError{ID: id}
	}
	s.vals[i].Online = online
	return nil
}

// SelectProposer advances the priority accumulators by one round
// and returns the selected proposer.
//
// The algorithm is the weighted round-robin that keeps selection frequency
// proportional to voting power without global recomputation:
//
//  1. Every validator's priority increases by its own power.
//  2. The validator with the highest priority is selected;
//     ties break to the lowest ID, so selection is a total order.
//  3. The selected validator's priority decreases by the set's total power,
//     keeping the sum of priorities invariant.
//
// SelectProposer must be called exactly once per round advance,
// including the implicit advance to round zero of a new height.
// Calling it on an empty set cannot happen through the constructor;
// a zero-length ValidatorSet here is a collaborator bug and panics.
func (s *ValidatorSet) SelectProposer() Validator {
	if len(s.vals) == 0 {
		panic(ErrEmptyValidatorSet)
	}

	best := -1
	for i := range s.vals {
		s.vals[i].ProposerPriority += int64(s.vals[i].Power)

		if best < 0 {
			best = i
			continue
		}
		if s.vals[i].ProposerPriority > s.vals[best].ProposerPriority {
			best = i
		} else if s.vals[i].ProposerPriority == s.vals[best].ProposerPriority &&
			s.vals[i].ID < s.vals[best].ID {
			best = i
		}
	}

	s.vals[best].ProposerPriority -= int64(s.totalPower)
	return s.vals[best]
}

// MembershipChange describes one between-heights membership mutation:
// a new validator, a re-weighted validator,
// or (with zero power) a removal.
type MembershipChange struct {
	ID    string
	Power uint64
}

// OpenMutationWindow marks the set as mutable.
// Only the engine calls this, strictly between heights.
func (s *ValidatorSet) OpenMutationWindow() {
	s.mutationOpen = true
}

// CloseMutationWindow marks the set immutable again.
func (s *ValidatorSet) CloseMutationWindow() {
	s.mutationOpen = false
}

// ApplyChanges applies membership changes inside an open mutation window.
// Outside the window it fails with [ErrInvalidMutationWindow];
// the phase check is explicit rather than a calling convention.
//
// Retained validators keep their accumulated proposer priority;
// new validators start at zero.
// Priorities are re-centered around zero afterward so that a membership
// change cannot permanently skew the rotation.
func (s *ValidatorSet) ApplyChanges(changes []MembershipChange) error {
	if !s.mutationOpen {
		return ErrInvalidMutationWindow
	}

	next := slices.Clone(s.vals)

	for _, c := range changes {
		if c.ID == "" {
			return ErrEmptyValidatorID
		}

		idx := slices.IndexFunc(next, func(v Validator) bool { return v.ID == c.ID })

		if c.Power == 0 {
			if idx < 0 {
				return UnknownValidatorError{ID: c.ID}
			}
			next = slices.Delete(next, idx, idx+1)
			continue
		}

		if idx >= 0 {
			next[idx].Power = c.Power
			continue
		}

		next = append(next, Validator{
			ID:     c.ID,
			Power:  c.Power,
			Online: true,
		})
	}

	if len(next) == 0 {
		return ErrEmptyValidatorSet
	}

	var total uint64
	for _, v := range next {
		if total > MaxTotalPower-v.Power {
			return ErrTotalPowerOverflow
		}
		total += v.Power
	}

	s.vals = next
	s.totalPower = total
	s.byID = make(map[string]int, len(next))
	for i, v := range next {
		s.byID[v.ID] = i
	}
	s.recalculateThresholds()
	s.centerPriorities()

	return nil
}

// centerPriorities shifts all priorities by their mean.
// Integer division loses at most len-1 total, which is negligible
// against typical priority magnitudes; boundedness is what matters.
func (s *ValidatorSet) centerPriorities() {
	var sum int64
	for _, v := range s.vals {
		sum += v.ProposerPriority
	}
	avg := sum / int64(len(s.vals))

	for i := range s.vals {
		s.vals[i].ProposerPriority -= avg
	}
}

// Clone returns a deep copy of the set,
// preserving priorities and online flags exactly.
// The clone's mutation window is closed.
func (s *ValidatorSet) Clone() *ValidatorSet {
	c := &ValidatorSet{
		vals: slices.Clone(s.vals),
		byID: make(map[string]int, len(s.byID)),

		totalPower: s.totalPower,

		quorumThreshold:   s.quorumThreshold,
		maxByzantinePower: s.maxByzantinePower,
		byzantineMinority: s.byzantineMinority,
	}
	for id, i := range s.byID {
		c.byID[id] = i
	}
	return c
}

// LogValue renders the set compactly for diagnostics.
func (s *ValidatorSet) LogValue() slog.Value {
	members := make([]string, len(s.vals))
	for i, v := range s.vals {
		members[i] = fmt.Sprintf("%s=%d", v.ID, v.Power)
	}
	return slog.GroupValue(
		slog.Uint64("total_power", s.totalPower),
		slog.Uint64("quorum_threshold", s.quorumThreshold),
		slog.String("members", strings.Join(members, ", ")),
	)
}
