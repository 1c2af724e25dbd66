package hwatchdog

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// MonitorConfig declares how often one subsystem is polled
// and how long it may take to answer.
type MonitorConfig struct {
	// Subsystem name, used in log lines and termination causes.
	Name string

	// Polls fire every Interval plus a uniformly distributed
	// offset in [-Jitter, +Jitter).
	Interval, Jitter time.Duration

	// The subsystem must both accept the signal and close its
	// Alive channel within ResponseTimeout, or the watchdog
	// terminates the whole system.
	ResponseTimeout time.Duration
}

func (c MonitorConfig) validate() error {
	var err error
	if c.Name == "" {
		err = errors.Join(err, errors.New("MonitorConfig.Name must not be empty"))
	}

	if c.Interval <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.Interval must be positive"))
	}

	if c.Jitter <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.Jitter must be positive"))
	}

	if c.Jitter > c.Interval {
		err = errors.Join(err, errors.New("MonitorConfig.Jitter must be less than MonitorConfig.Interval"))
	}

	if c.ResponseTimeout <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.ResponseTimeout must be positive"))
	}

	return err
}

// monitor is the poll loop for a single subsystem,
// running in its own goroutine until ctx is canceled.
func monitor(
	ctx context.Context,
	log *slog.Logger,
	cfg MonitorConfig,
	wg *sync.WaitGroup,
	signals chan<- Signal,
	cancel context.CancelCauseFunc,
) {
	defer wg.Done()

	// A private RNG per monitor; jitter draws then never contend
	// on the global source's mutex.
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for {
		j := rng.Int64N(int64(2*cfg.Jitter)) - int64(cfg.Jitter)

		timer := time.NewTimer(cfg.Interval + time.Duration(j))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !poll(ctx, cfg.Name, cfg.ResponseTimeout, signals, cancel) {
				return
			}
		}
	}
}

// poll runs one liveness check,
// reporting false when the monitor should stop.
// A missed timeout cancels the watchdog context but still reports true;
// the poll loop exits through the context instead.
func poll(
	ctx context.Context,
	name string,
	responseTimeout time.Duration,
	signals chan<- Signal,
	cancel context.CancelCauseFunc,
) (ok bool) {
	alive := make(chan struct{})
	sig := Signal{
		Alive: alive,
	}
	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()

	// First the subsystem has to accept the signal at all.
	select {
	case <-ctx.Done():
		return false
	case signals <- sig:
		// Accepted; now wait for the response.
	case <-timer.C:
		cancel(FailureToRespondError{SubsystemName: name})
		return true
	}

	select {
	case <-ctx.Done():
		return false
	case <-alive:
		return true
	case <-timer.C:
		// The subsystem may have closed alive right as the timer
		// elapsed, and the runtime picks ready cases at random,
		// so give alive one last non-blocking look.
		select {
		case <-alive:
			return true
		default:
			cancel(FailureToRespondError{SubsystemName: name})
			return true
		}
	}
}
