package bftdriver

import (
	"github.com/harbor-bft/harbor/bft/bftcore"
)

// BuildBlockRequest is sent from the engine to the driver
// when this node is the selected proposer for a round.
//
// The driver must send exactly one response on Resp.
// Consumers of this value may assume that Resp is buffered
// and sends will not block.
type BuildBlockRequest struct {
	Height uint64
	Round  uint32

	Resp chan BuildBlockResponse
}

// BuildBlockResponse is sent by the driver in response to a
// [BuildBlockRequest].
type BuildBlockResponse struct {
	// Block to propose.
	// A zero-hash block reports that the driver had nothing to propose;
	// the engine then prevotes nil and lets the round time out,
	// which is the protocol's designed recovery,
	// not an error condition.
	Block bftcore.BlockRef
}

// ApplyBlockRequest is sent from the engine to the driver
// when a height commits.
//
// The driver must apply the block identified by the certificate
// and send exactly one response on Resp.
// The engine does not start the next height until the response arrives,
// so the driver controls backpressure into consensus.
type ApplyBlockRequest struct {
	Cert bftcore.CommitCertificate

	// The opaque handle from the accepted proposal, if available.
	// Nil when this node never saw the proposal body
	// and must fetch the block through other means.
	Block bftcore.BlockRef

	Resp chan ApplyBlockResponse
}

// ApplyBlockResponse is sent by the driver in response to an
// [ApplyBlockRequest].
type ApplyBlockResponse struct {
	// For an unambiguous indicator of the block the driver applied.
	Height    uint64
	BlockHash string

	// Membership changes to apply before the next height starts.
	// Nil means the validator set carries over unchanged.
	Changes []bftcore.MembershipChange
}
