// Package bftstore defines the storage interfaces backing the consensus
// engine: commit certificates and per-height validator sets.
//
// The interfaces are satisfied by [github.com/harbor-bft/harbor/bft/bftstore/bftmemstore]
// for tests and ephemeral runs, and by
// [github.com/harbor-bft/harbor/bft/bftsqlite] for durable storage.
package bftstore
