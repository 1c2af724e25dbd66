package bstate

import (
	"context"
	"errors"
	"sync"
	"time"
)

// RoundTimer is the interface the state machine uses to manage
// the timeout for each step of a round.
// While using a [time.Timer] directly would be simpler,
// that would pose difficulty in fine-grained management of timers during tests.
// So instead, the RoundTimer offers a set of methods that return a channel
// that will close upon a timeout,
// and an associated cancel function that must be called to release resources.
// It is safe to call the cancel function multiple times,
// and concurrently, if needed.
//
// Calling the cancel function does not close the returned channel,
// as to avoid spuriously indicating a timer has elapsed.
//
// The context argument is used only for communicating with any
// coordination goroutines;
// it has no bearing on when the returned channel is closed.
// If the context is canceled while attempting to get a timer,
// the returned channel is nil and the returned cancel function
// is a no-op non-nil function.
type RoundTimer interface {
	ProposalTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
	PrevoteTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
	PrecommitTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
	CommitWaitTimer(ctx context.Context, height uint64, round uint32) (ch <-chan struct{}, cancel func())
}

// TimeoutStrategy defines how to calculate the timeout durations
// for a [StandardRoundTimer].
type TimeoutStrategy interface {
	ProposalTimeout(height uint64, round uint32) time.Duration
	PrevoteTimeout(height uint64, round uint32) time.Duration
	PrecommitTimeout(height uint64, round uint32) time.Duration
	CommitWaitTimeout(height uint64, round uint32) time.Duration
}

// StandardRoundTimer is the default implementation of [RoundTimer],
// backed by actual [time.Timer] instances.
//
// A single background goroutine owns one reusable timer;
// at most one step timer is ever outstanding,
// which matches how the state machine drives rounds.
type StandardRoundTimer struct {
	strat TimeoutStrategy

	startRequests chan startTimerRequest

	bgDone chan struct{}
}

type startTimerRequest struct {
	Dur  time.Duration
	Resp chan startTimerResponse
}

type startTimerResponse struct {
	Elapsed <-chan struct{}
	Cancel  func()
}

func NewStandardRoundTimer(ctx context.Context, s TimeoutStrategy) *StandardRoundTimer {
	t := &StandardRoundTimer{
		strat: s,

		startRequests: make(chan startTimerRequest),

		bgDone: make(chan struct{}),
	}

	go t.background(ctx)

	return t
}

func (t *StandardRoundTimer) Wait() {
	<-t.bgDone
}

func (t *StandardRoundTimer) background(ctx context.Context) {
	defer close(t.bgDone)

	// One reusable timer for the whole loop.
	// The duration is irrelevant since it is stopped immediately;
	// it only needs to be long enough not to fire before the Stop call.
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	// Drain so the first reset sees a stopped, empty timer.
	if !timer.Stop() {
		select {
		case <-timer.C:
			// Okay.
		case <-ctx.Done():
			return
		}
	}

	var timerElapsed, cancelTimer chan struct{}

	for {
		// Wait for signal to start a timer.
		select {
		case <-ctx.Done():
			return

		case req := <-t.startRequests:
			// The timer is always stopped by the time a valid
			// start request arrives, so the reset is safe.
			timer.Reset(req.Dur)

			timerElapsed = make(chan struct{})
			cancelTimer = make(chan struct{})

			// Local reference so the returned cancel function
			// doesn't have a closure over the outer variable.
			localCancel := cancelTimer
			var cancelOnce sync.Once

			// The caller blocks on this receive,
			// so a blocking send is safe.
			req.Resp <- startTimerResponse{
				Elapsed: timerElapsed,
				Cancel: func() {
					cancelOnce.Do(func() {
						close(localCancel)
					})
				},
			}
		}

		// The timer is running.
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			close(timerElapsed)
			timerElapsed = nil
			cancelTimer = nil

		case <-cancelTimer:
			// Stop the timer to avoid leaking resources.
			if !timer.Stop() {
				select {
				case <-timer.C:
					// Okay.
				case <-ctx.Done():
					return
				}
			}

			// Not closing timerElapsed here:
			// closing it would allow a read to indicate an elapse,
			// which the cancellation explicitly forbids.
			timerElapsed = nil
			cancelTimer = nil

		case <-t.startRequests:
			panic(errors.New(
				"BUG: new timer requested before previous timer elapsed or was cancelled",
			))
		}
	}
}

func (t *StandardRoundTimer) getTimer(ctx context.Context, dur time.Duration) (<-chan struct{}, func()) {
	respCh := make(chan startTimerResponse)
	req := startTimerRequest{
		Dur:  dur,
		Resp: respCh,
	}

	select {
	case t.startRequests <- req:
		// Okay.
	case <-ctx.Done():
		return nil, func() {}
	}

	select {
	case resp := <-respCh:
		return resp.Elapsed, resp.Cancel
	case <-ctx.Done():
		return nil, func() {}
	}
}

func (t *StandardRoundTimer) ProposalTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.ProposalTimeout(height, round))
}

func (t *StandardRoundTimer) PrevoteTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.PrevoteTimeout(height, round))
}

func (t *StandardRoundTimer) PrecommitTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.PrecommitTimeout(height, round))
}

func (t *StandardRoundTimer) CommitWaitTimer(ctx context.Context, height uint64, round uint32) (<-chan struct{}, func()) {
	return t.getTimer(ctx, t.strat.CommitWaitTimeout(height, round))
}
