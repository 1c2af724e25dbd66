package bftgossiptest

import "github.com/harbor-bft/harbor/bft/bftgossip"

// NopStrategy is a no-op [bftgossip.Strategy] for use in tests
// where a placeholder strategy is needed.
type NopStrategy struct{}

func (NopStrategy) Start(<-chan bftgossip.RoundUpdate) {}
func (NopStrategy) Wait()                              {}
