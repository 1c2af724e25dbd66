//go:build debug

package bstate

import (
	"errors"
	"fmt"
)

func (rs *RoundState) invariantOwnVotes() {
	if !rs.AssertEnv.Enabled("bft.engine.state_machine.round") {
		return
	}

	var err error
	if rs.OwnPrecommit != nil && rs.OwnPrevote == nil {
		err = errors.New("rs.OwnPrecommit set without rs.OwnPrevote")
	}

	if rs.OwnPrecommit != nil && rs.OwnPrecommit.BlockHash != "" &&
		rs.OwnPrevote != nil && rs.OwnPrecommit.BlockHash != rs.OwnPrevote.BlockHash {
		err = errors.Join(err, fmt.Errorf(
			"own precommit %x does not match own prevote %x",
			rs.OwnPrecommit.BlockHash, rs.OwnPrevote.BlockHash,
		))
	}

	if err != nil {
		rs.AssertEnv.HandleAssertionFailure(
			fmt.Errorf("own-vote invariant failed at %d/%d: %w", rs.H, rs.R, err),
		)
	}
}
