package hwatchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harbor-bft/harbor/internal/hchan"
)

// Watchdog owns the liveness context for the whole process.
// Subsystems register through [*Watchdog.Monitor];
// one that stops answering brings the context down for everyone.
type Watchdog struct {
	log *slog.Logger

	cancel          context.CancelCauseFunc
	monitorRequests chan monitorRequest

	// Monitors are registered dynamically,
	// so a WaitGroup is the simplest way to track them all.
	wg sync.WaitGroup
}

// NewWatchdog returns a Watchdog together with a context derived from ctx.
// The derived context is what the watchdog cancels:
// on a subsystem missing its response timeout,
// or on an explicit [*Watchdog.Terminate] call.
func NewWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	w := &Watchdog{
		log:             log,
		cancel:          cancel,
		monitorRequests: make(chan monitorRequest), // Unbuffered since requests are synchronous.
	}
	w.wg.Add(1)
	go w.kernel(ctx, wCtx, cancel)
	return w, wCtx
}

// NewNopWatchdog is the test constructor:
// [*Watchdog.Monitor] becomes a no-op returning a nil channel,
// while Terminate keeps working.
func NewNopWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	w := &Watchdog{
		log:    log,
		cancel: cancel,
		// Leaving monitorRequests nil is what makes Monitor a no-op.
	}
	w.wg.Add(1)
	go w.kernel(ctx, wCtx, cancel)
	return w, wCtx
}

// Wait blocks until w's background goroutines complete.
// They only stop with the context passed to [NewWatchdog];
// Terminate alone does not unblock Wait.
func (w *Watchdog) Wait() {
	w.wg.Wait()
}

// Terminate cancels the watchdog context with a
// [ForcedTerminationError] carrying the given reason.
func (w *Watchdog) Terminate(reason string) {
	w.cancel(ForcedTerminationError{Reason: reason})
}

func (w *Watchdog) kernel(rootCtx, wCtx context.Context, cancel context.CancelCauseFunc) {
	defer w.wg.Done()

	for {
		select {
		case <-rootCtx.Done():
			w.log.Info("Stopping due to root context cancellation", "cause", context.Cause(rootCtx))
			return
		case req := <-w.monitorRequests:
			signals := make(chan Signal) // Unbuffered because checks must be synchronous.
			w.wg.Add(1)

			go monitor(
				// Run off the watchdog context rather than the root,
				// so an abort also stops the monitor.
				wCtx,
				w.log.With("target", req.Cfg.Name),
				req.Cfg,
				&w.wg, signals, cancel,
			)

			req.Resp <- signals
		}
	}
}

// monitorRequest carries a [*Watchdog.Monitor] call
// into the watchdog's kernel goroutine.
type monitorRequest struct {
	Cfg MonitorConfig

	Resp chan (<-chan Signal)
}

// Monitor registers a monitor for an individual subsystem.
// A [Signal] arrives on the returned channel roughly every
// cfg.Interval; the subsystem receives it in its main loop and
// closes the signal's Alive channel to prove it is still making
// progress.
//
// The returned channel is nil for a nop watchdog,
// or when ctx is canceled before the monitor starts.
func (w *Watchdog) Monitor(ctx context.Context, cfg MonitorConfig) <-chan Signal {
	// The config is validated even for a nop watchdog,
	// so tests catch a bad config the same way production would.
	if err := cfg.validate(); err != nil {
		panic(fmt.Errorf("(*Watchdog).Monitor: MonitorConfig is invalid: %w", err))
	}

	if w.monitorRequests == nil {
		return nil
	}

	req := monitorRequest{
		Cfg:  cfg,
		Resp: make(chan (<-chan Signal), 1),
	}

	ch, _ := hchan.ReqResp(
		ctx, w.log,
		w.monitorRequests, req,
		req.Resp,
		"requesting new monitor",
	)
	return ch
}

// Signal is one liveness check.
// The receiving subsystem closes Alive as soon as possible;
// letting the response timeout lapse terminates the system.
type Signal struct {
	// Always non-nil and not yet closed when delivered.
	Alive chan<- struct{}
}
