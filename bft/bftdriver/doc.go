// Package bftdriver contains the types the driver uses to interact with
// the consensus engine.
// The driver could be considered the "application" to the consensus engine:
// it builds candidate blocks when this node is the proposer,
// and it applies committed blocks.
//
// All interaction is channel-based request/response,
// matching the engine's kernel goroutine model.
package bftdriver
