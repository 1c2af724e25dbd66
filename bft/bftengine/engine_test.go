package bftengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftcore/bftcoretest"
	"github.com/harbor-bft/harbor/bft/bftdriver"
	"github.com/harbor-bft/harbor/bft/bftengine"
	"github.com/harbor-bft/harbor/bft/bftengine/internal/bstate/bstatetest"
	"github.com/harbor-bft/harbor/bft/bftgossip/bftgossiptest"
	"github.com/harbor-bft/harbor/bft/bftstore/bftmemstore"
	"github.com/harbor-bft/harbor/hassert/hasserttest"
	"github.com/harbor-bft/harbor/hwatchdog"
	"github.com/harbor-bft/harbor/internal/htest"
	"github.com/stretchr/testify/require"
)

func TestEngine_missingOptions(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := htest.NewLogger(t)

	_, err := bftengine.New(ctx, log)
	require.Error(t, err)

	require.ErrorContains(t, err, "bftengine.WithGossipStrategy")
	require.ErrorContains(t, err, "bftengine.WithCertificateStore")
	require.ErrorContains(t, err, "bftengine.WithValidatorStore")
	require.ErrorContains(t, err, "bftengine.WithInitialHeight")
	require.ErrorContains(t, err, "bftengine.WithValidators")
	require.ErrorContains(t, err, "bftengine.WithBlockApplyChannel")
	require.ErrorContains(t, err, "bftengine.WithWatchdog")
	require.ErrorContains(t, err, "bftengine.WithTimeoutStrategy")

	// The build channel is only required for participants,
	// so it only shows up once a self ID is set.
	require.NotContains(t, err.Error(), "bftengine.WithBlockBuildChannel")

	_, err = bftengine.New(ctx, log, bftengine.WithSelfID("val-0000"))
	require.ErrorContains(t, err, "bftengine.WithBlockBuildChannel")
}

func TestEngine_plumbing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := htest.NewLogger(t)

	vals := bftcoretest.WeightedValidatorSet([]uint64{100, 80, 75, 60})

	timer := new(bstatetest.MockRoundTimer)
	gs := bftgossiptest.NewPassThroughStrategy()

	buildCh := make(chan bftdriver.BuildBlockRequest, 4)
	applyCh := make(chan bftdriver.ApplyBlockRequest, 4)
	metricsCh := make(chan bftengine.Metrics)

	wd, wCtx := hwatchdog.NewNopWatchdog(ctx, log.With("sys", "watchdog"))

	e, err := bftengine.New(
		wCtx, log.With("sys", "engine"),
		bftengine.WithGossipStrategy(gs),
		bftengine.WithCertificateStore(bftmemstore.NewCertificateStore()),
		bftengine.WithValidatorStore(bftmemstore.NewValidatorStore()),
		bftengine.WithSelfID("val-0000"),
		bftengine.WithInitialHeight(1),
		bftengine.WithValidators(vals.Validators()),
		bftengine.WithBlockBuildChannel(buildCh),
		bftengine.WithBlockApplyChannel(applyCh),
		bftengine.WithInternalRoundTimer(timer),
		bftengine.WithWatchdog(wd),
		bftengine.WithAssertEnv(hasserttest.DefaultEnv()),
		bftengine.WithMetricsChannel(metricsCh),
	)
	require.NoError(t, err)

	defer e.Wait()
	defer cancel()

	// The gossip strategy got the update channel at startup.
	htest.ReceiveSoon(t, gs.Ready)
	u := htest.ReceiveSoon(t, gs.Updates)
	require.Equal(t, uint64(1), u.Height)
	require.Zero(t, u.Round)

	// We hold the highest initial power, so we propose height 1.
	buildReq := htest.ReceiveSoon(t, buildCh)
	require.Equal(t, uint64(1), buildReq.Height)

	buildReq.Resp <- bftdriver.BuildBlockResponse{
		Block: bftcore.BlockRef{Hash: "abc"},
	}

	// Inbound messages route through the engine's handler surface.
	for _, idx := range []int{1, 2} {
		require.Equal(t, bftcore.HandleVoteAccepted,
			e.HandleVote(ctx, bftcoretest.Vote(vals, idx, 1, 0, bftcore.PhasePrevote, "abc")))
	}
	for _, idx := range []int{1, 2} {
		require.Equal(t, bftcore.HandleVoteAccepted,
			e.HandleVote(ctx, bftcoretest.Vote(vals, idx, 1, 0, bftcore.PhasePrecommit, "abc")))
	}

	applyReq := htest.ReceiveSoon(t, applyCh)
	require.Equal(t, uint64(1), applyReq.Cert.Height)
	require.Equal(t, "abc", applyReq.Cert.BlockHash)

	applyReq.Resp <- bftdriver.ApplyBlockResponse{Height: 1, BlockHash: "abc"}

	// Metrics eventually report both the commit and the new position.
	deadline := time.After(time.Duration(htest.ScaleMs(2000)))
	for {
		var m bftengine.Metrics
		select {
		case m = <-metricsCh:
		case <-deadline:
			t.Fatal("timed out waiting for metrics to report the commit")
		}

		if m.CommittedHeight == 1 && m.VotingHeight == 2 {
			require.Zero(t, m.CommittedRound)
			require.Zero(t, m.VotingRound)
			break
		}
	}

	snap, ok := e.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(2), snap.Height)
}

func TestEngine_skipToHeight(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := htest.NewLogger(t)

	vals := bftcoretest.WeightedValidatorSet([]uint64{100, 80, 75, 60})

	timer := new(bstatetest.MockRoundTimer)

	applyCh := make(chan bftdriver.ApplyBlockRequest, 4)

	wd, wCtx := hwatchdog.NewNopWatchdog(ctx, log.With("sys", "watchdog"))

	e, err := bftengine.New(
		wCtx, log.With("sys", "engine"),
		bftengine.WithGossipStrategy(bftgossiptest.NopStrategy{}),
		bftengine.WithCertificateStore(bftmemstore.NewCertificateStore()),
		bftengine.WithValidatorStore(bftmemstore.NewValidatorStore()),
		bftengine.WithInitialHeight(1),
		bftengine.WithValidators(vals.Validators()),
		bftengine.WithBlockApplyChannel(applyCh),
		bftengine.WithInternalRoundTimer(timer),
		bftengine.WithWatchdog(wd),
		bftengine.WithAssertEnv(hasserttest.DefaultEnv()),
	)
	require.NoError(t, err)

	defer e.Wait()
	defer cancel()

	require.NoError(t, e.SkipToHeight(ctx, 10))

	snap, ok := e.Snapshot(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(10), snap.Height)
}
