//go:build !debug

package bstate

func (rs *RoundState) invariantOwnVotes() {}
