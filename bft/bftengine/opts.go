package bftengine

import (
	"context"
	"errors"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftdriver"
	"github.com/harbor-bft/harbor/bft/bftengine/internal/bstate"
	"github.com/harbor-bft/harbor/bft/bftgossip"
	"github.com/harbor-bft/harbor/bft/bftstore"
	"github.com/harbor-bft/harbor/hassert"
	"github.com/harbor-bft/harbor/hwatchdog"
)

// Opt is an option for the Engine.
type Opt func(*Engine, *bstate.StateMachineConfig) error

// WithGossipStrategy sets the engine's gossip strategy.
// This option is required.
func WithGossipStrategy(gs bftgossip.Strategy) Opt {
	return func(e *Engine, _ *bstate.StateMachineConfig) error {
		e.gs = gs
		return nil
	}
}

// WithCertificateStore sets the engine's certificate store.
// This option is required.
func WithCertificateStore(s bftstore.CertificateStore) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.CertificateStore = s
		return nil
	}
}

// WithValidatorStore sets the engine's validator store.
// This option is required.
func WithValidatorStore(s bftstore.ValidatorStore) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.ValidatorStore = s
		return nil
	}
}

// WithSelfID sets the validator ID the engine votes as.
// If omitted or set to the empty string,
// the engine will never actively participate in consensus;
// it will only operate as an observer.
func WithSelfID(id string) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.SelfID = id
		return nil
	}
}

// WithInitialHeight sets the height consensus begins at.
// This option is required.
func WithInitialHeight(h uint64) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.InitialHeight = h
		return nil
	}
}

// WithValidators sets the membership in effect at the initial height.
// This option is required.
func WithValidators(vs []bftcore.Validator) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.Validators = vs
		return nil
	}
}

// WithBlockBuildChannel sets the channel the engine sends on
// when it is the proposer and needs a block from the driver.
// The driver must receive from this channel.
// This option is required when a self ID is set.
func WithBlockBuildChannel(ch chan<- bftdriver.BuildBlockRequest) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.BuildBlockRequests = ch
		return nil
	}
}

// WithBlockApplyChannel sets the channel the engine sends on
// when a block commits and is due to be applied.
// The driver must receive from this channel.
// This option is required.
func WithBlockApplyChannel(ch chan<- bftdriver.ApplyBlockRequest) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.ApplyBlockRequests = ch
		return nil
	}
}

// WithMaxFutureRounds overrides how far ahead of the active round
// a vote may be and still be buffered.
func WithMaxFutureRounds(n uint32) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.MaxFutureRounds = n
		return nil
	}
}

// WithAssertEnv sets the assertion environment,
// which only has effect under the debug build tag.
func WithAssertEnv(env hassert.Env) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.AssertEnv = env
		return nil
	}
}

type roundTimer = bstate.RoundTimer

// WithInternalRoundTimer sets the round timer, an internal type to the engine's state machine.
// This is only intended for testing.
//
// Non-test usage should call [WithTimeoutStrategy] to use an exported type.
func WithInternalRoundTimer(rt roundTimer) Opt {
	return func(_ *Engine, smc *bstate.StateMachineConfig) error {
		smc.RoundTimer = rt
		return nil
	}
}

// WithTimeoutStrategy sets the timeout strategy
// for calculating state machine timeouts during consensus.
// The context value controls the lifecycle of the timer.
func WithTimeoutStrategy(ctx context.Context, s TimeoutStrategy) Opt {
	return WithInternalRoundTimer(bstate.NewStandardRoundTimer(ctx, s))
}

// WithWatchdog sets the engine's watchdog, propagating it through subsystems of the engine.
// This option is required.
// For tests, the caller may use [hwatchdog.NewNopWatchdog] to avoid creating unnecessary goroutines.
func WithWatchdog(wd *hwatchdog.Watchdog) Opt {
	return func(e *Engine, smc *bstate.StateMachineConfig) error {
		e.watchdog = wd
		smc.Watchdog = wd
		return nil
	}
}

// WithMetricsChannel sets the channel where the engine
// emits metrics for its subsystems.
func WithMetricsChannel(ch chan<- Metrics) Opt {
	return func(e *Engine, _ *bstate.StateMachineConfig) error {
		if len(ch) != 0 {
			return errors.New("WithMetricsChannel: ch must be unbuffered")
		}
		e.metricsCh = ch
		return nil
	}
}
