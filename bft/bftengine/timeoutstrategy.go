package bftengine

import "time"

// TimeoutStrategy informs the state machine how to calculate timeouts.
// While the individual methods all include a height parameter,
// the height will rarely if ever be used in calculating the timeout duration.
// The height is more intended as a mechanism to coordinate changing the timeouts
// after a certain height.
type TimeoutStrategy interface {
	ProposalTimeout(height uint64, round uint32) time.Duration
	PrevoteTimeout(height uint64, round uint32) time.Duration
	PrecommitTimeout(height uint64, round uint32) time.Duration
	CommitWaitTimeout(height uint64, round uint32) time.Duration
}

// FixedTimeoutStrategy provides the same timeout durations regardless of round.
// If any of the provided values are zero, reasonable defaults are used.
//
// A fixed timeout is appropriate when round churn is expected to be rare
// and the deployment prefers predictable worst-case round length.
type FixedTimeoutStrategy struct {
	Proposal   time.Duration
	Prevote    time.Duration
	Precommit  time.Duration
	CommitWait time.Duration
}

func (s FixedTimeoutStrategy) ProposalTimeout(uint64, uint32) time.Duration {
	if s.Proposal == 0 {
		return 5 * time.Second
	}
	return s.Proposal
}

func (s FixedTimeoutStrategy) PrevoteTimeout(uint64, uint32) time.Duration {
	if s.Prevote == 0 {
		return 5 * time.Second
	}
	return s.Prevote
}

func (s FixedTimeoutStrategy) PrecommitTimeout(uint64, uint32) time.Duration {
	if s.Precommit == 0 {
		return 5 * time.Second
	}
	return s.Precommit
}

func (s FixedTimeoutStrategy) CommitWaitTimeout(uint64, uint32) time.Duration {
	if s.CommitWait == 0 {
		return 2 * time.Second
	}
	return s.CommitWait
}

// LinearTimeoutStrategy provides timeout durations that increase linearly with round increases.
// If any of the provided values are zero, reasonable defaults are used.
type LinearTimeoutStrategy struct {
	ProposalBase      time.Duration
	ProposalIncrement time.Duration

	PrevoteBase      time.Duration
	PrevoteIncrement time.Duration

	PrecommitBase      time.Duration
	PrecommitIncrement time.Duration

	CommitWaitBase      time.Duration
	CommitWaitIncrement time.Duration
}

func (s LinearTimeoutStrategy) ProposalTimeout(_ uint64, round uint32) time.Duration {
	b := s.ProposalBase
	if b == 0 {
		b = 5 * time.Second
	}
	i := s.ProposalIncrement
	if i == 0 {
		i = 500 * time.Millisecond
	}
	return b + (time.Duration(round) * i)
}

func (s LinearTimeoutStrategy) PrevoteTimeout(_ uint64, round uint32) time.Duration {
	b := s.PrevoteBase
	if b == 0 {
		b = 5 * time.Second
	}
	i := s.PrevoteIncrement
	if i == 0 {
		i = 500 * time.Millisecond
	}
	return b + (time.Duration(round) * i)
}

func (s LinearTimeoutStrategy) PrecommitTimeout(_ uint64, round uint32) time.Duration {
	b := s.PrecommitBase
	if b == 0 {
		b = 5 * time.Second
	}
	i := s.PrecommitIncrement
	if i == 0 {
		i = 500 * time.Millisecond
	}
	return b + (time.Duration(round) * i)
}

func (s LinearTimeoutStrategy) CommitWaitTimeout(_ uint64, round uint32) time.Duration {
	b := s.CommitWaitBase
	if b == 0 {
		b = 2 * time.Second
	}
	i := s.CommitWaitIncrement
	if i == 0 {
		i = 500 * time.Millisecond
	}
	return b + (time.Duration(round) * i)
}

// ExponentialTimeoutStrategy doubles each timeout with every round increase,
// capped so that a long run of failed rounds cannot push timeouts
// into hours.
// If any of the provided values are zero, reasonable defaults are used.
type ExponentialTimeoutStrategy struct {
	ProposalBase   time.Duration
	PrevoteBase    time.Duration
	PrecommitBase  time.Duration
	CommitWaitBase time.Duration

	// Cap bounds every computed timeout.
	// Zero means one minute.
	Cap time.Duration
}

func (s ExponentialTimeoutStrategy) cap() time.Duration {
	if s.Cap == 0 {
		return time.Minute
	}
	return s.Cap
}

func (s ExponentialTimeoutStrategy) scale(base time.Duration, round uint32) time.Duration {
	c := s.cap()
	if base >= c {
		return c
	}

	// Shifting past 30 rounds would overflow any sane base
	// long before the cap comparison below.
	if round > 30 {
		return c
	}

	d := base << round
	if d > c || d < base {
		return c
	}
	return d
}

func (s ExponentialTimeoutStrategy) ProposalTimeout(_ uint64, round uint32) time.Duration {
	b := s.ProposalBase
	if b == 0 {
		b = 5 * time.Second
	}
	return s.scale(b, round)
}

func (s ExponentialTimeoutStrategy) PrevoteTimeout(_ uint64, round uint32) time.Duration {
	b := s.PrevoteBase
	if b == 0 {
		b = 5 * time.Second
	}
	return s.scale(b, round)
}

func (s ExponentialTimeoutStrategy) PrecommitTimeout(_ uint64, round uint32) time.Duration {
	b := s.PrecommitBase
	if b == 0 {
		b = 5 * time.Second
	}
	return s.scale(b, round)
}

func (s ExponentialTimeoutStrategy) CommitWaitTimeout(_ uint64, round uint32) time.Duration {
	b := s.CommitWaitBase
	if b == 0 {
		b = 2 * time.Second
	}
	return s.scale(b, round)
}
