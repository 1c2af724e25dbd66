package bftgossip

import (
	"github.com/harbor-bft/harbor/bft/bftcore"
)

// RoundUpdate is the engine's view of the active round,
// published to the gossip strategy every time the view changes.
//
// Each update is a full snapshot, not a delta;
// strategies that want to send only new information
// diff against the previous update themselves.
type RoundUpdate struct {
	Height uint64
	Round  uint32

	// The accepted proposal for the round, if any.
	Proposal *bftcore.Proposal

	// All known votes for the round, in arrival order.
	Prevotes   []bftcore.Vote
	Precommits []bftcore.Vote

	// Set once when the round commits.
	Certificate *bftcore.CommitCertificate
}

// Broadcaster is the transport-facing side of gossip:
// the channels a strategy writes outbound consensus messages to.
// The network layer drains these channels for the life of the node.
type Broadcaster interface {
	OutgoingProposals() chan<- bftcore.Proposal
	OutgoingVotes() chan<- bftcore.Vote
}

// Strategy is a gossip strategy, whose purpose is to observe changes to
// round state and send messages to the network.
// When a Strategy is initialized it should be aware of a [Broadcaster],
// which should already be available somewhere close to main.go
// where the strategy is created.
//
// The outer interface is simple.
// The engine provides the strategy with a read-only channel of RoundUpdate
// as round state changes are discovered,
// and when the engine is shutting down it calls the strategy's Wait method.
type Strategy interface {
	// Start provides the channel of RoundUpdate for the strategy
	// to begin running.
	// It is an error to call Start more than once.
	Start(updates <-chan RoundUpdate)

	// Wait blocks until the strategy is finished.
	// The engine calls this method when the engine itself is shutting down.
	Wait()
}
