package bftengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftengine/internal/bmetrics"
	"github.com/harbor-bft/harbor/bft/bftengine/internal/bstate"
	"github.com/harbor-bft/harbor/bft/bftgossip"
	"github.com/harbor-bft/harbor/hwatchdog"
)

// Engine is the entrypoint to a working consensus engine.
//
// An Engine is only the consensus core:
// the caller supplies the gossip strategy for outbound messages,
// the driver channels for block building and application,
// and delivers inbound messages through the [bftcore.FineGrainedHandler]
// methods on the Engine.
type Engine struct {
	log *slog.Logger

	gs bftgossip.Strategy

	sm *bstate.StateMachine

	metricsCh chan<- Metrics
	mc        *bmetrics.Collector

	watchdog *hwatchdog.Watchdog
}

// Metrics are the metrics for subsystems within the [Engine].
// The fields in this type should not be considered stable
// and may change without notice between releases.
//
// The type alias is somewhat unfortunate,
// but the alternative would be creating yet another package...
type Metrics = bmetrics.Metrics

// Snapshot is a point-in-time diagnostic view of the engine.
type Snapshot = bstate.Snapshot

func New(ctx context.Context, log *slog.Logger, opts ...Opt) (*Engine, error) {
	e := &Engine{
		log: log,
	}

	var smCfg bstate.StateMachineConfig

	var err error
	for _, opt := range opts {
		err = errors.Join(err, opt(e, &smCfg))
	}
	if err != nil {
		return nil, err
	}

	if err := e.validateSettings(smCfg); err != nil {
		return nil, err
	}

	if e.metricsCh != nil {
		e.mc = bmetrics.NewCollector(ctx, 4, e.metricsCh)
		smCfg.MetricsCollector = e.mc
	}

	e.sm, err = bstate.NewStateMachine(ctx, log.With("e_sys", "statemachine"), smCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate state machine: %w", err)
	}

	e.gs.Start(e.sm.RoundUpdates())

	return e, nil
}

func (e *Engine) Wait() {
	// The subsystems are typically non-nil,
	// but they may be nil if there was a failure during New.

	if e.sm != nil {
		e.sm.Wait()
	}
	if e.gs != nil {
		e.gs.Wait()
	}
	if e.mc != nil {
		e.mc.Wait()
	}
}

func (e *Engine) validateSettings(smc bstate.StateMachineConfig) error {
	var err error

	if e.gs == nil {
		err = errors.Join(err, errors.New("no gossip strategy set (use bftengine.WithGossipStrategy)"))
	}

	if smc.CertificateStore == nil {
		err = errors.Join(err, errors.New("no certificate store set (use bftengine.WithCertificateStore)"))
	}

	if smc.ValidatorStore == nil {
		err = errors.Join(err, errors.New("no validator store set (use bftengine.WithValidatorStore)"))
	}

	if smc.InitialHeight == 0 {
		err = errors.Join(err, errors.New("no initial height set (use bftengine.WithInitialHeight)"))
	}

	if len(smc.Validators) == 0 {
		err = errors.Join(err, errors.New("no validators set (use bftengine.WithValidators)"))
	}

	if smc.ApplyBlockRequests == nil {
		err = errors.Join(err, errors.New("no block apply channel set (use bftengine.WithBlockApplyChannel)"))
	}

	if smc.BuildBlockRequests == nil && smc.SelfID != "" {
		err = errors.Join(err, errors.New("no block build channel set (use bftengine.WithBlockBuildChannel; required with a self ID)"))
	}

	if e.watchdog == nil {
		err = errors.Join(err, errors.New("no watchdog set (use bftengine.WithWatchdog)"))
	}

	// This is one special case.
	// Tests instantiate a bstatetest.MockRoundTimer to avoid reliance on the wall clock.
	// But, external callers are expected to only provide a TimeoutStrategy.
	// So even though we are inspecting the lower-level RoundTimer value,
	// we return an error about the API external callers are expected to use.
	if smc.RoundTimer == nil {
		err = errors.Join(err, errors.New("no timeout strategy set (use bftengine.WithTimeoutStrategy)"))
	}

	return err
}

// HandleProposal satisfies [bftcore.FineGrainedHandler].
func (e *Engine) HandleProposal(ctx context.Context, p bftcore.Proposal) bftcore.HandleProposalResult {
	return e.sm.HandleProposal(ctx, p)
}

// HandleVote satisfies [bftcore.FineGrainedHandler].
func (e *Engine) HandleVote(ctx context.Context, v bftcore.Vote) bftcore.HandleVoteResult {
	return e.sm.HandleVote(ctx, v)
}

// Snapshot reports the engine's active position, for diagnostics.
// The second return value is false if the engine is shutting down.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, bool) {
	return e.sm.Snapshot(ctx)
}

// SkipToHeight abandons the active height and restarts consensus at height,
// for use when the node has fallen behind and caught up through block sync.
func (e *Engine) SkipToHeight(ctx context.Context, height uint64) error {
	return e.sm.SkipToHeight(ctx, height)
}

// SetValidatorOnline records a transport-reported liveness hint,
// typically from peer connect and disconnect events.
// Marking a validator offline lets the engine stop waiting on it
// once every other online validator has voted;
// quorum arithmetic is never affected.
func (e *Engine) SetValidatorOnline(ctx context.Context, id string, online bool) error {
	return e.sm.SetValidatorOnline(ctx, id, online)
}
