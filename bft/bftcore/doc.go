// Package bftcore contains the core value types of the harbor consensus protocol:
// validators and validator sets with weighted proposer rotation,
// votes and the per-round vote register, proposals, commit certificates,
// and the quorum arithmetic they all share.
//
// Everything in this package is transport- and crypto-agnostic.
// Votes are assumed to be pre-authenticated by the caller;
// this package only accounts for voting power.
package bftcore
