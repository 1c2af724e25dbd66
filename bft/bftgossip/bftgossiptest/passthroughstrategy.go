package bftgossiptest

import "github.com/harbor-bft/harbor/bft/bftgossip"

// PassThroughStrategy exposes the update channel the engine provides,
// so tests can observe round updates directly.
type PassThroughStrategy struct {
	Ready chan struct{}

	Updates <-chan bftgossip.RoundUpdate
}

func NewPassThroughStrategy() *PassThroughStrategy {
	return &PassThroughStrategy{
		Ready: make(chan struct{}),
	}
}

func (s *PassThroughStrategy) Start(ch <-chan bftgossip.RoundUpdate) {
	s.Updates = ch
	close(s.Ready)
}

func (s *PassThroughStrategy) Wait() {}
