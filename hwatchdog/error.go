package hwatchdog

import (
	"context"
	"errors"
)

// FailureToRespondError is the cancellation cause when a monitored
// subsystem misses its response timeout.
type FailureToRespondError struct {
	SubsystemName string
}

func (e FailureToRespondError) Error() string {
	return "subsystem " + e.SubsystemName + " did not answer the watchdog within its response timeout"
}

// ForcedTerminationError is the cancellation cause set by [*Watchdog.Terminate].
type ForcedTerminationError struct {
	Reason string
}

func (e ForcedTerminationError) Error() string {
	return "watchdog terminated the system: " + e.Reason
}

// IsTermination reports whether ctx was canceled by the watchdog,
// either through a missed response or a forced termination.
// Shutdown paths use this to tell a watchdog abort
// from an ordinary cancellation.
func IsTermination(ctx context.Context) bool {
	e := context.Cause(ctx)
	if e == nil {
		return false
	}

	var ftr FailureToRespondError
	if errors.As(e, &ftr) {
		return true
	}

	var ft ForcedTerminationError
	return errors.As(e, &ft)
}
